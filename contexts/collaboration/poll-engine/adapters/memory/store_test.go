package memory

import (
	"context"
	"testing"
	"time"

	"quorum/contexts/collaboration/poll-engine/domain/entities"
	domainerrors "quorum/contexts/collaboration/poll-engine/domain/errors"
	"quorum/contexts/collaboration/poll-engine/ports"
)

func TestReplaceLatestStanceHandsOverFlag(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := entities.Stance{
		StanceID:      "st-1",
		PollID:        "poll-1",
		ParticipantID: "user-1",
		Latest:        true,
		CreatedAt:     base,
	}
	if err := store.ReplaceLatestStance(context.Background(), first, []entities.StanceChoice{
		{ChoiceID: "ch-1", StanceID: "st-1", OptionID: "opt-a", Score: 1, CreatedAt: base},
	}); err != nil {
		t.Fatalf("first stance failed: %v", err)
	}

	second := entities.Stance{
		StanceID:      "st-2",
		PollID:        "poll-1",
		ParticipantID: "user-1",
		Latest:        true,
		CreatedAt:     base.Add(time.Hour),
	}
	if err := store.ReplaceLatestStance(context.Background(), second, []entities.StanceChoice{
		{ChoiceID: "ch-2", StanceID: "st-2", OptionID: "opt-b", Score: 1, CreatedAt: base.Add(time.Hour)},
	}); err != nil {
		t.Fatalf("second stance failed: %v", err)
	}

	latest, err := store.ListLatestStances(context.Background(), "poll-1")
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("expected one latest stance, got %d", len(latest))
	}
	if latest[0].StanceID != "st-2" {
		t.Fatalf("expected st-2 latest, got %s", latest[0].StanceID)
	}

	participants, err := store.ListParticipants(context.Background(), "poll-1")
	if err != nil {
		t.Fatalf("list participants failed: %v", err)
	}
	if len(participants) != 1 || participants[0] != "user-1" {
		t.Fatalf("expected lone participant user-1, got %v", participants)
	}
}

func TestAttachCommunityReplacesSameType(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.AttachCommunity(context.Background(), "poll-1", entities.Community{
		CommunityID:   "comm-1",
		CommunityType: entities.CommunityTypeGroup,
		GroupID:       "group-1",
		CreatedAt:     base,
	}); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := store.AttachCommunity(context.Background(), "poll-1", entities.Community{
		CommunityID:   "comm-2",
		CommunityType: entities.CommunityTypeGroup,
		GroupID:       "group-1",
		CreatedAt:     base.Add(time.Minute),
	}); err != nil {
		t.Fatalf("re-attach failed: %v", err)
	}

	communities, err := store.ListPollCommunities(context.Background(), "poll-1")
	if err != nil {
		t.Fatalf("list communities failed: %v", err)
	}
	if len(communities) != 1 {
		t.Fatalf("same-type attach must replace, got %d communities", len(communities))
	}
	if communities[0].CommunityID != "comm-2" {
		t.Fatalf("expected comm-2, got %s", communities[0].CommunityID)
	}
}

func TestListPollsClosingSoonWindow(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	save := func(id string, closing time.Time) {
		t.Helper()
		if err := store.SavePoll(context.Background(), entities.Poll{
			PollID:    id,
			PollType:  "proposal",
			Title:     "poll " + id,
			AuthorID:  "user-1",
			ClosingAt: &closing,
			CreatedAt: now.Add(-time.Hour),
			UpdatedAt: now.Add(-time.Hour),
		}); err != nil {
			t.Fatalf("save %s failed: %v", id, err)
		}
	}
	save("poll-soon", now.Add(6*time.Hour))
	save("poll-later", now.Add(72*time.Hour))
	save("poll-past", now.Add(-time.Hour))

	polls, err := store.ListPollsClosingSoon(context.Background(), now, now.Add(24*time.Hour), now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("list closing soon failed: %v", err)
	}
	if len(polls) != 1 || polls[0].PollID != "poll-soon" {
		t.Fatalf("expected only poll-soon, got %v", polls)
	}

	if err := store.MarkClosingSoonNoticed(context.Background(), "poll-soon", now); err != nil {
		t.Fatalf("mark noticed failed: %v", err)
	}
	polls, err = store.ListPollsClosingSoon(context.Background(), now, now.Add(24*time.Hour), now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("second list failed: %v", err)
	}
	if len(polls) != 0 {
		t.Fatalf("noticed poll must drop out of the scan, got %v", polls)
	}
}

func TestReserveEventDedup(t *testing.T) {
	store := NewStore()
	expires := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	seen, err := store.ReserveEvent(context.Background(), "evt-1", "hash-a", expires)
	if err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	if seen {
		t.Fatalf("first reserve must not be seen")
	}

	seen, err = store.ReserveEvent(context.Background(), "evt-1", "hash-a", expires)
	if err != nil {
		t.Fatalf("repeat reserve failed: %v", err)
	}
	if !seen {
		t.Fatalf("repeat reserve must report seen")
	}

	if _, err := store.ReserveEvent(context.Background(), "evt-1", "hash-b", expires); err == nil {
		t.Fatalf("same event id with different payload must conflict")
	} else if err != domainerrors.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestIdempotencyExpiry(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Put(context.Background(), ports.IdempotencyRecord{
		Key:         "idem-1",
		RequestHash: "hash-a",
		EntityID:    "poll-1",
		ExpiresAt:   now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if _, found, _ := store.Get(context.Background(), "idem-1", now); !found {
		t.Fatalf("live record must be found")
	}
	if _, found, _ := store.Get(context.Background(), "idem-1", now.Add(2*time.Hour)); found {
		t.Fatalf("expired record must not be found")
	}
}
