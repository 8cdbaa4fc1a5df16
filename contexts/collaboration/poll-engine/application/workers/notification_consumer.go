package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "quorum/contexts/collaboration/poll-engine/application"
	"quorum/contexts/collaboration/poll-engine/application/queries"
	"quorum/contexts/collaboration/poll-engine/domain/templates"
	"quorum/contexts/collaboration/poll-engine/ports"
)

// NotificationTopics are the poll event kinds that fan out to recipients.
var NotificationTopics = []string{
	"poll.created",
	"poll.option_added",
	"poll.closing_soon",
	"poll.closed",
}

type pollEventPayload struct {
	PollID       string `json:"poll_id"`
	Announcement bool   `json:"announcement"`
}

// NotificationConsumer routes published poll events to the external
// mailer/notifier: it dedups deliveries, resolves recipient sets per the
// announcement/targeted split, and builds the translation context. Mailer
// failures stay inside the worker and never reach poll mutation.
type NotificationConsumer struct {
	Polls      ports.PollRepository
	Recipients queries.RecipientsUseCase
	Mailer     ports.Mailer
	Dedup      ports.EventDedupStore
	Templates  templates.Registry
	Clock      ports.Clock
	DedupTTL   time.Duration
	Logger     *slog.Logger
}

// Handle processes one published poll event.
func (c NotificationConsumer) Handle(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if !notifiableEvent(event.EventType) {
		return nil
	}

	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}
	if c.Dedup != nil {
		seen, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), now.Add(c.resolveDedupTTL()))
		if err != nil {
			return err
		}
		if seen {
			logger.Debug("poll notification already delivered",
				"event", "poll_notification_dedup_hit",
				"module", "collaboration/poll-engine",
				"layer", "worker",
				"event_id", event.EventID,
				"event_type", event.EventType,
			)
			return nil
		}
	}

	var payload pollEventPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("poll notification payload decode failed",
			"event", "poll_notification_decode_failed",
			"module", "collaboration/poll-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}

	poll, err := c.Polls.GetPoll(ctx, payload.PollID)
	if err != nil {
		return err
	}
	recipients := c.Recipients.Resolve(ctx, poll, payload.Announcement)

	delivery := ports.NotificationDelivery{
		Poll:                   poll,
		Kind:                   event.EventType,
		NotificationRecipients: recipients.Notification,
		EmailRecipients:        recipients.Email,
		TranslationValues:      c.translationValues(poll.PollType),
	}
	if err := c.Mailer.Deliver(ctx, delivery); err != nil {
		logger.Error("poll notification dispatch failed",
			"event", "poll_notification_dispatch_failed",
			"module", "collaboration/poll-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"poll_id", poll.PollID,
			"error", err.Error(),
		)
		return err
	}

	logger.Info("poll notification dispatched",
		"event", "poll_notification_dispatched",
		"module", "collaboration/poll-engine",
		"layer", "worker",
		"event_type", event.EventType,
		"poll_id", poll.PollID,
		"announcement", payload.Announcement,
		"notification_count", len(recipients.Notification),
		"email_count", len(recipients.Email),
	)
	return nil
}

// translationValues feeds the external templated-message renderer. The poll
// type label is localized upstream; here it is case-normalized only.
func (c NotificationConsumer) translationValues(pollType string) map[string]string {
	label := pollType
	if template, ok := c.Templates.Get(pollType); ok && template.Label != "" {
		label = template.Label
	}
	return map[string]string{
		"poll_type": strings.ToLower(label),
	}
}

func (c NotificationConsumer) resolveDedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 24 * time.Hour
	}
	return c.DedupTTL
}

func notifiableEvent(eventType string) bool {
	for _, topic := range NotificationTopics {
		if topic == eventType {
			return true
		}
	}
	return false
}
