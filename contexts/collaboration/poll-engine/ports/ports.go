package ports

import (
	"context"
	"time"

	"quorum/contexts/collaboration/poll-engine/domain/entities"
)

type PollRepository interface {
	SavePoll(ctx context.Context, poll entities.Poll) error
	GetPoll(ctx context.Context, pollID string) (entities.Poll, error)
	SaveAggregate(ctx context.Context, pollID string, aggregate entities.Aggregate) error
	// ListPollsClosingSoon returns active polls whose closing_at falls inside
	// (from, until] and that have not had a closing-soon notice after
	// noticedSince.
	ListPollsClosingSoon(ctx context.Context, from time.Time, until time.Time, noticedSince time.Time) ([]entities.Poll, error)
	MarkClosingSoonNoticed(ctx context.Context, pollID string, at time.Time) error
}

type OptionRepository interface {
	SaveOption(ctx context.Context, option entities.PollOption) error
	// ListOptions returns the poll's options ordered by priority ascending.
	ListOptions(ctx context.Context, pollID string) ([]entities.PollOption, error)
	DeleteOptions(ctx context.Context, pollID string, names []string) error
}

type StanceRepository interface {
	// ReplaceLatestStance persists the stance and its choices while clearing
	// the latest flag on every prior stance of the same participant, as one
	// atomic unit.
	ReplaceLatestStance(ctx context.Context, stance entities.Stance, choices []entities.StanceChoice) error
	// ListLatestStances returns stances flagged latest, ordered by creation
	// ascending.
	ListLatestStances(ctx context.Context, pollID string) ([]entities.Stance, error)
	ListChoicesForStances(ctx context.Context, stanceIDs []string) ([]entities.StanceChoice, error)
	// ListParticipants returns the distinct participant ids holding a latest
	// stance on the poll.
	ListParticipants(ctx context.Context, pollID string) ([]string, error)
}

type CommunityRepository interface {
	// AttachCommunity associates the community with the poll, replacing any
	// existing community of the same type.
	AttachCommunity(ctx context.Context, pollID string, community entities.Community) error
	DetachCommunity(ctx context.Context, pollID string, communityType entities.CommunityType) error
	ListPollCommunities(ctx context.Context, pollID string) ([]entities.Community, error)
}

type DiscussionProjection struct {
	DiscussionID string
	GroupID      string
}

type GroupProjection struct {
	GroupID     string
	CommunityID string
}

// DirectoryReader resolves group/discussion context owned by external
// collaborators.
type DirectoryReader interface {
	GetDiscussion(ctx context.Context, discussionID string) (DiscussionProjection, error)
	GetGroup(ctx context.Context, groupID string) (GroupProjection, error)
}

type IdempotencyRecord struct {
	Key         string
	RequestHash string
	EntityID    string
	ExpiresAt   time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	Put(ctx context.Context, record IdempotencyRecord) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
