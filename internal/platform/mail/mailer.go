package mail

import (
	"context"
	"log/slog"

	"quorum/contexts/collaboration/poll-engine/ports"
)

// LogMailer records deliveries as structured log lines. It stands in for the
// external notification service until SMTP wiring lands.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Deliver(_ context.Context, delivery ports.NotificationDelivery) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("poll notification delivered",
		"event", "mail_delivered",
		"module", "internal/platform/mail",
		"layer", "platform",
		"kind", delivery.Kind,
		"poll_id", delivery.Poll.PollID,
		"notified", len(delivery.NotificationRecipients),
		"emailed", len(delivery.EmailRecipients),
	)
	return nil
}

var _ ports.Mailer = LogMailer{}
