package unit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"quorum/contexts/collaboration/poll-engine/application/workers"
	"quorum/contexts/collaboration/poll-engine/domain/templates"
	"quorum/contexts/collaboration/poll-engine/ports"
	httptransport "quorum/contexts/collaboration/poll-engine/transport/http"
)

type capturePublisher struct {
	published []ports.EventEnvelope
	topics    []string
}

func (p *capturePublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	p.topics = append(p.topics, topic)
	p.published = append(p.published, event)
	return nil
}

type captureMailer struct {
	deliveries []ports.NotificationDelivery
}

func (m *captureMailer) Deliver(_ context.Context, delivery ports.NotificationDelivery) error {
	m.deliveries = append(m.deliveries, delivery)
	return nil
}

func TestOutboxRelayPublishesPendingBatch(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	if _, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	}); err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	publisher := &capturePublisher{}
	relay := workers.OutboxRelay{
		Outbox:    module.Store,
		Publisher: publisher,
		Clock:     module.Store,
	}
	if err := relay.RunOnce(ctx); err != nil {
		t.Fatalf("relay run failed: %v", err)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.published))
	}
	if publisher.topics[0] != "poll.created" {
		t.Fatalf("topic follows event type, got %s", publisher.topics[0])
	}

	pending, err := module.Store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("published rows must leave the pending set, got %d", len(pending))
	}

	// Idle cycle publishes nothing.
	if err := relay.RunOnce(ctx); err != nil {
		t.Fatalf("idle relay run failed: %v", err)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("idle cycle must not republish, got %d", len(publisher.published))
	}
}

func TestClosingSoonScannerEmitsOnce(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)

	closing := now.Add(6 * time.Hour)
	if _, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType:  "proposal",
		Title:     "Adopt the proposal",
		GroupID:   "group-1",
		ClosingAt: &closing,
	}); err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	// Drain the creation event so only scanner output remains.
	pending, _ := module.Store.ListPendingOutbox(ctx, 10)
	for _, row := range pending {
		if err := module.Store.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			t.Fatalf("drain outbox failed: %v", err)
		}
	}

	scanner := workers.ClosingSoonScanner{
		Polls:  module.Store,
		Outbox: module.Store,
		Clock:  module.Store,
		IDGen:  module.Store,
	}
	if err := scanner.RunOnce(ctx); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	pending, err := module.Store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != "poll.closing_soon" {
		t.Fatalf("expected one poll.closing_soon event, got %v", pending)
	}
	var envelope ports.EventEnvelope
	if err := json.Unmarshal(pending[0].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope failed: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	if payload["announcement"] != true {
		t.Fatalf("group polls announce their closing, got %v", payload)
	}

	// A second scan inside the recency threshold stays quiet.
	if err := scanner.RunOnce(ctx); err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	pending, _ = module.Store.ListPendingOutbox(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("repeat scan must not duplicate notices, got %d", len(pending))
	}
}

func TestNotificationConsumerDeliversOnce(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()
	module.Store.SetGroupMembers("group-1", []ports.Member{
		{UserID: "member-1", Name: "One", Email: "one@example.org"},
	})

	created, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType:     "proposal",
		Title:        "Adopt the proposal",
		GroupID:      "group-1",
		Announcement: true,
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	pending, err := module.Store.ListPendingOutbox(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending event, got %v (%v)", pending, err)
	}
	var envelope ports.EventEnvelope
	if err := json.Unmarshal(pending[0].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope failed: %v", err)
	}

	mailer := &captureMailer{}
	consumer := workers.NotificationConsumer{
		Polls:      module.Store,
		Recipients: module.Recipients,
		Mailer:     mailer,
		Dedup:      module.Store,
		Templates:  templates.Default(),
		Clock:      module.Store,
	}
	if err := consumer.Handle(ctx, envelope); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(mailer.deliveries) != 1 {
		t.Fatalf("expected one delivery, got %d", len(mailer.deliveries))
	}
	delivery := mailer.deliveries[0]
	if delivery.Kind != "poll.created" {
		t.Fatalf("expected poll.created delivery, got %s", delivery.Kind)
	}
	if delivery.Poll.PollID != created.PollID {
		t.Fatalf("delivery must carry the poll, got %s", delivery.Poll.PollID)
	}
	if len(delivery.NotificationRecipients) != 1 {
		t.Fatalf("expected the group member notified, got %v", delivery.NotificationRecipients)
	}
	if delivery.TranslationValues["poll_type"] != "proposal" {
		t.Fatalf("expected lowercased label, got %v", delivery.TranslationValues)
	}

	// Redelivery of the same envelope is a dedup no-op.
	if err := consumer.Handle(ctx, envelope); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if len(mailer.deliveries) != 1 {
		t.Fatalf("dedup must swallow the repeat, got %d deliveries", len(mailer.deliveries))
	}

	// Non-notifiable event types are ignored outright.
	other := envelope
	other.EventID = "evt-other"
	other.EventType = "stance.created"
	if err := consumer.Handle(ctx, other); err != nil {
		t.Fatalf("ignore failed: %v", err)
	}
	if len(mailer.deliveries) != 1 {
		t.Fatalf("stance.created must not notify, got %d deliveries", len(mailer.deliveries))
	}
}

func TestNotificationConsumerCloseEventReachesGroup(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()
	module.Store.SetGroupMembers("group-1", []ports.Member{
		{UserID: "member-1", Name: "One", Email: "one@example.org"},
	})

	created, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	// Drain the creation event so the close event is the only pending row.
	pending, _ := module.Store.ListPendingOutbox(ctx, 10)
	for _, row := range pending {
		if err := module.Store.MarkOutboxPublished(ctx, row.OutboxID, module.Store.Now()); err != nil {
			t.Fatalf("drain outbox failed: %v", err)
		}
	}

	if _, err := module.Handler.ClosePollHandler(ctx, created.PollID, "author-1", "idem-close-1"); err != nil {
		t.Fatalf("close poll failed: %v", err)
	}
	pending, err = module.Store.ListPendingOutbox(ctx, 10)
	if err != nil || len(pending) != 1 || pending[0].EventType != "poll.closed" {
		t.Fatalf("expected one pending poll.closed event, got %v (%v)", pending, err)
	}
	var envelope ports.EventEnvelope
	if err := json.Unmarshal(pending[0].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope failed: %v", err)
	}

	mailer := &captureMailer{}
	consumer := workers.NotificationConsumer{
		Polls:      module.Store,
		Recipients: module.Recipients,
		Mailer:     mailer,
		Dedup:      module.Store,
		Templates:  templates.Default(),
		Clock:      module.Store,
	}
	if err := consumer.Handle(ctx, envelope); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(mailer.deliveries) != 1 {
		t.Fatalf("expected one delivery, got %d", len(mailer.deliveries))
	}
	delivery := mailer.deliveries[0]
	if delivery.Kind != "poll.closed" {
		t.Fatalf("expected poll.closed delivery, got %s", delivery.Kind)
	}
	// Closing a group poll is an announcement: the group hears about it.
	if len(delivery.NotificationRecipients) != 1 || delivery.NotificationRecipients[0].UserID != "member-1" {
		t.Fatalf("group member must be notified on close, got %v", delivery.NotificationRecipients)
	}
}
