package ports

import (
	"context"

	"quorum/contexts/collaboration/poll-engine/domain/entities"
)

// Member is the recipient projection shared by membership, mention, and
// volume lookups.
type Member struct {
	UserID             string
	Name               string
	Email              string
	EmailWhenMentioned bool
}

// MembershipReader lists audience members owned by external collaborators.
type MembershipReader interface {
	GroupMembers(ctx context.Context, groupID string) ([]Member, error)
	CommunityMembers(ctx context.Context, communityID string) ([]Member, error)
}

// MentionResolver resolves the users explicitly mentioned by a poll's
// content.
type MentionResolver interface {
	ResolveMentions(ctx context.Context, poll entities.Poll) ([]Member, error)
}

// VolumeQuery filters discussion members by notification volume preference.
type VolumeQuery interface {
	UsersByVolume(ctx context.Context, discussionID string, levels []entities.VolumeLevel) ([]Member, error)
}

// NotificationDelivery is the full dispatch payload handed to the external
// mailer/notifier.
type NotificationDelivery struct {
	Poll                   entities.Poll
	Kind                   string
	NotificationRecipients []Member
	EmailRecipients        []Member
	TranslationValues      map[string]string
}

// Mailer delivers poll notifications. Delivery failures are the notifier's to
// retry and report; they never become poll errors.
type Mailer interface {
	Deliver(ctx context.Context, delivery NotificationDelivery) error
}
