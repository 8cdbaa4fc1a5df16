package queries

import (
	"context"
	"log/slog"

	application "quorum/contexts/collaboration/poll-engine/application"
	"quorum/contexts/collaboration/poll-engine/domain/entities"
	"quorum/contexts/collaboration/poll-engine/ports"
)

// RecipientSets carries both delivery channels for one poll event.
type RecipientSets struct {
	Notification []ports.Member
	Email        []ports.Member
}

// RecipientsUseCase resolves who a poll event reaches. Announcement events
// broadcast to the poll's group; targeted events reach only the users
// mentioned by the poll. Lookup failures degrade to an empty recipient set so
// the triggering save never fails on resolution.
type RecipientsUseCase struct {
	Members  ports.MembershipReader
	Mentions ports.MentionResolver
	Volumes  ports.VolumeQuery
	Logger   *slog.Logger
}

// Resolve returns notification and email recipients for the poll.
func (uc RecipientsUseCase) Resolve(
	ctx context.Context,
	poll entities.Poll,
	announcement bool,
) RecipientSets {
	if announcement {
		return RecipientSets{
			Notification: uc.announcementNotificationRecipients(ctx, poll),
			Email:        uc.announcementEmailRecipients(ctx, poll),
		}
	}
	mentioned := uc.mentionedMembers(ctx, poll)
	emailed := make([]ports.Member, 0, len(mentioned))
	for _, member := range mentioned {
		if member.EmailWhenMentioned {
			emailed = append(emailed, member)
		}
	}
	return RecipientSets{Notification: mentioned, Email: emailed}
}

func (uc RecipientsUseCase) announcementNotificationRecipients(
	ctx context.Context,
	poll entities.Poll,
) []ports.Member {
	if poll.GroupID == "" {
		return nil
	}
	members, err := uc.Members.GroupMembers(ctx, poll.GroupID)
	if err != nil {
		uc.warnResolution("poll_group_members_resolution_failed", poll, err)
		return nil
	}
	return members
}

func (uc RecipientsUseCase) announcementEmailRecipients(
	ctx context.Context,
	poll entities.Poll,
) []ports.Member {
	if poll.DiscussionID == "" {
		return nil
	}
	// Quiet and muted members never receive announcement email.
	members, err := uc.Volumes.UsersByVolume(ctx, poll.DiscussionID, []entities.VolumeLevel{
		entities.VolumeNormal,
		entities.VolumeLoud,
	})
	if err != nil {
		uc.warnResolution("poll_volume_resolution_failed", poll, err)
		return nil
	}
	return members
}

func (uc RecipientsUseCase) mentionedMembers(ctx context.Context, poll entities.Poll) []ports.Member {
	members, err := uc.Mentions.ResolveMentions(ctx, poll)
	if err != nil {
		uc.warnResolution("poll_mention_resolution_failed", poll, err)
		return nil
	}
	return members
}

func (uc RecipientsUseCase) warnResolution(event string, poll entities.Poll, err error) {
	application.ResolveLogger(uc.Logger).Warn("recipient resolution failed; degrading to empty set",
		"event", event,
		"module", "collaboration/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"error", err.Error(),
	)
}
