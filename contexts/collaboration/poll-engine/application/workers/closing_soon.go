package workers

import (
	"context"
	"log/slog"
	"time"

	application "quorum/contexts/collaboration/poll-engine/application"
	"quorum/contexts/collaboration/poll-engine/ports"
)

// ClosingSoonScanner emits poll.closing_soon for active polls whose closing
// time falls inside the lookahead window, at most once per recency threshold
// so repeated cycles do not renotify.
type ClosingSoonScanner struct {
	Polls  ports.PollRepository
	Outbox ports.OutboxWriter
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	// Window is how far ahead closing_at is considered "soon".
	Window time.Duration
	// RecencyThreshold suppresses repeat notices younger than this.
	RecencyThreshold time.Duration
	Logger           *slog.Logger
}

// RunOnce scans one cycle.
func (s ClosingSoonScanner) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}
	window := s.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	threshold := s.RecencyThreshold
	if threshold <= 0 {
		threshold = 48 * time.Hour
	}

	polls, err := s.Polls.ListPollsClosingSoon(ctx, now, now.Add(window), now.Add(-threshold))
	if err != nil {
		logger.Error("closing soon scan failed",
			"event", "poll_closing_soon_scan_failed",
			"module", "collaboration/poll-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if len(polls) == 0 {
		return nil
	}

	for _, poll := range polls {
		eventID, err := s.IDGen.NewID(ctx)
		if err != nil {
			return err
		}
		envelope, err := newPollEnvelope(eventID, "poll.closing_soon", poll.PollID, now, map[string]any{
			"poll_id":      poll.PollID,
			"poll_type":    poll.PollType,
			"title":        poll.Title,
			"group_id":     poll.GroupID,
			"announcement": poll.GroupID != "",
			"closing_at":   formatOptional(poll.ClosingAt),
		})
		if err != nil {
			return err
		}
		if err := s.Outbox.AppendOutbox(ctx, envelope); err != nil {
			return err
		}
		if err := s.Polls.MarkClosingSoonNoticed(ctx, poll.PollID, now); err != nil {
			return err
		}
		logger.Info("poll closing soon notice queued",
			"event", "poll_closing_soon_queued",
			"module", "collaboration/poll-engine",
			"layer", "worker",
			"poll_id", poll.PollID,
		)
	}
	return nil
}

func formatOptional(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
