package services

import (
	"testing"
	"time"

	"quorum/contexts/collaboration/poll-engine/domain/entities"
	"quorum/contexts/collaboration/poll-engine/domain/templates"
)

func proposalTemplate() templates.Template {
	registry := templates.Default()
	template, ok := registry.Get("proposal")
	if !ok {
		panic("proposal template missing")
	}
	return template
}

func TestValidatePollCollectsAllViolations(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	poll := entities.Poll{
		PollID:    "poll-1",
		PollType:  "proposal",
		Title:     "  ",
		ClosingAt: &past,
	}

	violations := ValidatePoll(poll, []string{"agree", "maybe"}, proposalTemplate(), now)
	if len(violations) < 3 {
		t.Fatalf("expected collected violations, got %v", violations)
	}

	found := map[string]bool{}
	for _, violation := range violations {
		found[violation.Field+"/"+violation.Message] = true
	}
	for _, want := range []string{
		"title/can't be blank",
		"poll_options/cannot add options",
		"closing_at/must close in future",
	} {
		if !found[want] {
			t.Fatalf("missing violation %q in %v", want, violations)
		}
	}
}

func TestValidatePollRejectsRemovalWhenLocked(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	poll := entities.Poll{PollID: "poll-1", PollType: "proposal", Title: "Adopt the plan"}

	violations := ValidatePoll(poll, []string{"agree", "abstain"}, proposalTemplate(), now)
	if len(violations) != 1 {
		t.Fatalf("expected single violation, got %v", violations)
	}
	if violations[0].Field != "poll_options" || violations[0].Message != "cannot remove options" {
		t.Fatalf("unexpected violation %v", violations[0])
	}
}

func TestValidatePollRequiresOptionsAndCustomFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	registry := templates.Default()
	template, _ := registry.Get("dot_vote")
	poll := entities.Poll{PollID: "poll-1", PollType: "dot_vote", Title: "Budget dots"}

	violations := ValidatePoll(poll, nil, template, now)

	found := map[string]bool{}
	for _, violation := range violations {
		found[violation.Field+"/"+violation.Message] = true
	}
	if !found["poll_options/must have options"] {
		t.Fatalf("missing must-have-options violation: %v", violations)
	}
	if !found["dots_per_person/is required"] {
		t.Fatalf("missing required custom field violation: %v", violations)
	}
}

func TestValidatePollAcceptsValidInput(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	poll := entities.Poll{
		PollID:    "poll-1",
		PollType:  "proposal",
		Title:     "Adopt the plan",
		ClosingAt: &future,
	}

	violations := ValidatePoll(poll, []string{"agree", "abstain", "disagree", "block"}, proposalTemplate(), now)
	if violations != nil {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestValidatePollSkipsClosingCheckWhenClosed(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	closed := now.Add(-time.Minute)
	poll := entities.Poll{
		PollID:    "poll-1",
		PollType:  "proposal",
		Title:     "Adopt the plan",
		ClosingAt: &past,
		ClosedAt:  &closed,
	}

	violations := ValidatePoll(poll, []string{"agree", "abstain", "disagree", "block"}, proposalTemplate(), now)
	if violations != nil {
		t.Fatalf("closed polls keep their past closing_at: %v", violations)
	}
}

func TestDiffOptionsAppendsAfterExistingPriorities(t *testing.T) {
	existing := []entities.PollOption{
		{OptionID: "opt-a", PollID: "poll-1", Name: "A", Priority: 0},
		{OptionID: "opt-b", PollID: "poll-1", Name: "B", Priority: 1},
	}

	diff := DiffOptions("poll-1", existing, []string{"A", "C", "D"})

	if len(diff.Additions) != 2 {
		t.Fatalf("expected two additions, got %v", diff.Additions)
	}
	if diff.Additions[0].Name != "C" || diff.Additions[0].Priority != 2 {
		t.Fatalf("expected C at priority 2, got %+v", diff.Additions[0])
	}
	if diff.Additions[1].Name != "D" || diff.Additions[1].Priority != 3 {
		t.Fatalf("expected D at priority 3, got %+v", diff.Additions[1])
	}
	if len(diff.Removals) != 1 || diff.Removals[0] != "B" {
		t.Fatalf("expected removal of B, got %v", diff.Removals)
	}
}

func TestDiffOptionsNoChange(t *testing.T) {
	existing := []entities.PollOption{
		{OptionID: "opt-a", PollID: "poll-1", Name: "A", Priority: 0},
	}

	diff := DiffOptions("poll-1", existing, []string{"A"})
	if len(diff.Additions) != 0 || len(diff.Removals) != 0 {
		t.Fatalf("expected empty diff, got %+v", diff)
	}
}

func TestDiffOptionsDeduplicatesDesiredNames(t *testing.T) {
	diff := DiffOptions("poll-1", nil, []string{"A", "A", "B"})

	if len(diff.Additions) != 2 {
		t.Fatalf("duplicate names must collapse, got %v", diff.Additions)
	}
}
