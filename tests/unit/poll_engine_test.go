package unit

import (
	"context"
	"errors"
	"testing"
	"time"

	pollengine "quorum/contexts/collaboration/poll-engine"
	"quorum/contexts/collaboration/poll-engine/domain/entities"
	domainerrors "quorum/contexts/collaboration/poll-engine/domain/errors"
	"quorum/contexts/collaboration/poll-engine/ports"
	httptransport "quorum/contexts/collaboration/poll-engine/transport/http"
)

func newSeededModule(t *testing.T) pollengine.Module {
	t.Helper()
	module := pollengine.NewInMemoryModule(nil)
	module.Store.SetGroup(ports.GroupProjection{
		GroupID:     "group-1",
		CommunityID: "community-g1",
	})
	module.Store.SetDiscussion(ports.DiscussionProjection{
		DiscussionID: "discussion-1",
		GroupID:      "group-1",
	})
	return module
}

func TestProposalCreateVoteAndRevote(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	created, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	if len(created.StanceCounts) != 4 {
		t.Fatalf("proposal must seed its four template options, got %v", created.StanceCounts)
	}
	if created.StanceData["agree"] != 0 {
		t.Fatalf("fresh poll must zero-seed stance data, got %v", created.StanceData)
	}

	if _, err := module.Handler.RecordStanceHandler(ctx, created.PollID, "voter-1", "idem-stance-1", httptransport.RecordStanceRequest{
		Choices: []httptransport.StanceChoiceRequest{{OptionName: "agree"}},
	}); err != nil {
		t.Fatalf("first stance failed: %v", err)
	}

	// Re-vote replaces the participant's latest stance; totals never double-count.
	if _, err := module.Handler.RecordStanceHandler(ctx, created.PollID, "voter-1", "idem-stance-2", httptransport.RecordStanceRequest{
		Choices: []httptransport.StanceChoiceRequest{{OptionName: "disagree"}},
	}); err != nil {
		t.Fatalf("revote failed: %v", err)
	}

	results, err := module.Handler.PollResultsHandler(ctx, created.PollID)
	if err != nil {
		t.Fatalf("results failed: %v", err)
	}
	if results.StanceData["agree"] != 0 || results.StanceData["disagree"] != 1 {
		t.Fatalf("revote must move the count, got %v", results.StanceData)
	}
	total := 0
	for _, count := range results.StanceCounts {
		total += count
	}
	if total != 1 {
		t.Fatalf("one participant contributes one latest stance, got counts %v", results.StanceCounts)
	}
}

func TestCreatePollReplay(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	req := httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	}
	first, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", req)
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	second, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("expected replayed response")
	}
	if first.PollID != second.PollID {
		t.Fatalf("replay must return the original poll, got %s and %s", first.PollID, second.PollID)
	}
}

func TestCreatePollKeyReuseWithChangedRequestConflicts(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	req := httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	}
	if _, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", req); err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	closing := time.Now().UTC().Add(72 * time.Hour)
	changed := req
	changed.ClosingAt = &closing
	if _, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", changed); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("changed closing_at under a reused key must conflict, got %v", err)
	}

	changed = req
	changed.MultipleChoice = true
	if _, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", changed); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("changed multiple_choice under a reused key must conflict, got %v", err)
	}

	changed = req
	changed.Details = "now with details"
	if _, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", changed); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("changed details under a reused key must conflict, got %v", err)
	}
}

func TestRecordStanceKeyReuseWithChangedReasonConflicts(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	created, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	stanceReq := httptransport.RecordStanceRequest{
		Choices: []httptransport.StanceChoiceRequest{{OptionName: "agree", Reason: "works for me"}},
	}
	if _, err := module.Handler.RecordStanceHandler(ctx, created.PollID, "voter-1", "idem-stance-1", stanceReq); err != nil {
		t.Fatalf("record stance failed: %v", err)
	}

	stanceReq.Choices[0].Reason = "changed my mind"
	if _, err := module.Handler.RecordStanceHandler(ctx, created.PollID, "voter-1", "idem-stance-1", stanceReq); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("changed choice reason under a reused key must conflict, got %v", err)
	}
}

func TestCreatePollInheritsGroupFromDiscussion(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	created, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType:     "proposal",
		Title:        "Adopt the proposal",
		DiscussionID: "discussion-1",
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	if created.GroupID != "group-1" {
		t.Fatalf("expected group inherited from discussion, got %q", created.GroupID)
	}
}

func TestCreatePollCollectsValidationErrors(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	_, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType:  "dot_vote",
		Title:     "",
		GroupID:   "group-1",
		ClosingAt: &past,
	})
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	violations, ok := domainerrors.AsValidation(err)
	if !ok {
		t.Fatalf("expected collected validation errors, got %v", err)
	}
	found := map[string]bool{}
	for _, violation := range violations {
		found[violation.Field] = true
	}
	for _, field := range []string{"title", "poll_options", "dots_per_person", "closing_at"} {
		if !found[field] {
			t.Fatalf("missing %s violation in %v", field, violations)
		}
	}
}

func TestSetOptionsRespectsTemplatePolicy(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	// Proposal options are locked; the whole mutation is rejected and the
	// existing set survives untouched.
	proposal, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	_, err = module.Handler.SetOptionsHandler(ctx, proposal.PollID, "author-1", "idem-opts-1", httptransport.SetOptionsRequest{
		OptionNames: []string{"agree", "abstain", "disagree", "block", "maybe"},
	})
	if _, ok := domainerrors.AsValidation(err); !ok {
		t.Fatalf("expected validation rejection, got %v", err)
	}
	unchanged, err := module.Handler.GetPollHandler(ctx, proposal.PollID)
	if err != nil {
		t.Fatalf("get poll failed: %v", err)
	}
	if len(unchanged.StanceCounts) != 4 {
		t.Fatalf("rejected mutation must not touch options, got %v", unchanged.StanceCounts)
	}

	// Generic polls allow both directions of mutation.
	poll, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-2", httptransport.CreatePollRequest{
		PollType:    "poll",
		Title:       "Team lunch",
		GroupID:     "group-1",
		OptionNames: []string{"pizza", "sushi"},
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	mutated, err := module.Handler.SetOptionsHandler(ctx, poll.PollID, "author-1", "idem-opts-2", httptransport.SetOptionsRequest{
		OptionNames: []string{"pizza", "tacos"},
	})
	if err != nil {
		t.Fatalf("set options failed: %v", err)
	}
	if len(mutated.Added) != 1 || mutated.Added[0] != "tacos" {
		t.Fatalf("expected tacos added, got %v", mutated.Added)
	}
	if len(mutated.Removed) != 1 || mutated.Removed[0] != "sushi" {
		t.Fatalf("expected sushi removed, got %v", mutated.Removed)
	}
	if _, ok := mutated.Poll.StanceData["sushi"]; ok {
		t.Fatalf("removed option must leave the aggregate, got %v", mutated.Poll.StanceData)
	}
	if mutated.Poll.StanceData["tacos"] != 0 {
		t.Fatalf("added option must be zero-seeded, got %v", mutated.Poll.StanceData)
	}
}

func TestOptionRemovalRecomputesTotals(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	poll, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType:    "poll",
		Title:       "Team lunch",
		GroupID:     "group-1",
		OptionNames: []string{"pizza", "sushi"},
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	if _, err := module.Handler.RecordStanceHandler(ctx, poll.PollID, "voter-1", "idem-stance-1", httptransport.RecordStanceRequest{
		Choices: []httptransport.StanceChoiceRequest{{OptionName: "sushi"}},
	}); err != nil {
		t.Fatalf("stance failed: %v", err)
	}

	mutated, err := module.Handler.SetOptionsHandler(ctx, poll.PollID, "author-1", "idem-opts-1", httptransport.SetOptionsRequest{
		OptionNames: []string{"pizza"},
	})
	if err != nil {
		t.Fatalf("set options failed: %v", err)
	}
	if _, ok := mutated.Poll.StanceData["sushi"]; ok {
		t.Fatalf("sushi votes must vanish with the option, got %v", mutated.Poll.StanceData)
	}
	if mutated.Poll.StanceData["pizza"] != 0 {
		t.Fatalf("pizza stays zero, got %v", mutated.Poll.StanceData)
	}
}

func TestSingleChoiceEnforcement(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	poll, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	_, err = module.Handler.RecordStanceHandler(ctx, poll.PollID, "voter-1", "idem-stance-1", httptransport.RecordStanceRequest{
		Choices: []httptransport.StanceChoiceRequest{
			{OptionName: "agree"},
			{OptionName: "abstain"},
		},
	})
	if err != domainerrors.ErrSingleChoiceOnly {
		t.Fatalf("expected single-choice rejection, got %v", err)
	}
}

func TestClosedPollRejectsStances(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	poll, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	closed, err := module.Handler.ClosePollHandler(ctx, poll.PollID, "author-1", "idem-close-1")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.ClosedAt == nil {
		t.Fatalf("expected closed_at stamped")
	}

	if _, err := module.Handler.RecordStanceHandler(ctx, poll.PollID, "voter-1", "idem-stance-1", httptransport.RecordStanceRequest{
		Choices: []httptransport.StanceChoiceRequest{{OptionName: "agree"}},
	}); err != domainerrors.ErrPollClosed {
		t.Fatalf("expected ErrPollClosed, got %v", err)
	}

	if _, err := module.Handler.ClosePollHandler(ctx, poll.PollID, "author-1", "idem-close-2"); err != domainerrors.ErrPollClosed {
		t.Fatalf("double close must conflict, got %v", err)
	}
}

func TestGroupedChoicesReasonsFirst(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	poll, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	if _, err := module.Handler.RecordStanceHandler(ctx, poll.PollID, "voter-silent", "idem-stance-1", httptransport.RecordStanceRequest{
		Choices: []httptransport.StanceChoiceRequest{{OptionName: "agree"}},
	}); err != nil {
		t.Fatalf("silent stance failed: %v", err)
	}
	if _, err := module.Handler.RecordStanceHandler(ctx, poll.PollID, "voter-vocal", "idem-stance-2", httptransport.RecordStanceRequest{
		Choices: []httptransport.StanceChoiceRequest{{OptionName: "agree", Reason: "strongly in favour"}},
	}); err != nil {
		t.Fatalf("vocal stance failed: %v", err)
	}

	grouped, err := module.Handler.GroupedChoicesHandler(ctx, poll.PollID, nil)
	if err != nil {
		t.Fatalf("grouped choices failed: %v", err)
	}
	if len(grouped.Items) != 4 {
		t.Fatalf("expected one bucket per option, got %d", len(grouped.Items))
	}
	agree := grouped.Items[0]
	if agree.OptionName != "agree" {
		t.Fatalf("buckets follow option priority, got %s first", agree.OptionName)
	}
	if len(agree.Choices) != 2 {
		t.Fatalf("expected two agree choices, got %d", len(agree.Choices))
	}
	if agree.Choices[0].Reason == "" {
		t.Fatalf("choices with reasons sort first, got %+v", agree.Choices)
	}
}

func TestUndecidedCountUsesGroupCommunity(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()
	module.Store.SetCommunityMembers("community-g1", []ports.Member{
		{UserID: "voter-1", Name: "One", Email: "one@example.org"},
		{UserID: "voter-2", Name: "Two", Email: "two@example.org"},
		{UserID: "voter-3", Name: "Three", Email: "three@example.org"},
	})

	poll, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	if _, err := module.Handler.RecordStanceHandler(ctx, poll.PollID, "voter-1", "idem-stance-1", httptransport.RecordStanceRequest{
		Choices: []httptransport.StanceChoiceRequest{{OptionName: "agree"}},
	}); err != nil {
		t.Fatalf("stance failed: %v", err)
	}

	undecided, err := module.Handler.UndecidedHandler(ctx, poll.PollID)
	if err != nil {
		t.Fatalf("undecided failed: %v", err)
	}
	if undecided.Undecided != 2 {
		t.Fatalf("expected 2 undecided, got %d", undecided.Undecided)
	}
}

func TestUndecidedCountFallsBackToAuthor(t *testing.T) {
	module := pollengine.NewInMemoryModule(nil)
	ctx := context.Background()

	poll, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
	})
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	undecided, err := module.Handler.UndecidedHandler(ctx, poll.PollID)
	if err != nil {
		t.Fatalf("undecided failed: %v", err)
	}
	if undecided.Undecided != 1 {
		t.Fatalf("groupless poll counts only its author, got %d", undecided.Undecided)
	}
}

func TestCreateEmitsOutboxEvent(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	if _, err := module.Handler.CreatePollHandler(ctx, "author-1", "idem-create-1", httptransport.CreatePollRequest{
		PollType: "proposal",
		Title:    "Adopt the proposal",
		GroupID:  "group-1",
	}); err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	pending, err := module.Store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending event, got %d", len(pending))
	}
	if pending[0].EventType != "poll.created" {
		t.Fatalf("expected poll.created, got %s", pending[0].EventType)
	}
}

func TestRecipientsAnnouncementVsTargeted(t *testing.T) {
	module := newSeededModule(t)
	ctx := context.Background()

	members := []ports.Member{
		{UserID: "member-loud", Name: "Loud", Email: "loud@example.org"},
		{UserID: "member-quiet", Name: "Quiet", Email: "quiet@example.org"},
		{UserID: "member-muted", Name: "Muted", Email: "muted@example.org"},
	}
	module.Store.SetGroupMembers("group-1", members)
	module.Store.SetVolume("discussion-1", members[0], entities.VolumeLoud)
	module.Store.SetVolume("discussion-1", members[1], entities.VolumeQuiet)
	module.Store.SetVolume("discussion-1", members[2], entities.VolumeMute)

	poll := entities.Poll{
		PollID:       "poll-1",
		PollType:     "proposal",
		Title:        "Adopt the proposal",
		AuthorID:     "author-1",
		GroupID:      "group-1",
		DiscussionID: "discussion-1",
	}

	announcement := module.Recipients.Resolve(ctx, poll, true)
	if len(announcement.Notification) != 3 {
		t.Fatalf("announcement notifies the whole group, got %d", len(announcement.Notification))
	}
	if len(announcement.Email) != 1 || announcement.Email[0].UserID != "member-loud" {
		t.Fatalf("only normal/loud volumes get email, got %v", announcement.Email)
	}

	module.Store.SetMentions("poll-1", []ports.Member{
		{UserID: "member-loud", Email: "loud@example.org", EmailWhenMentioned: true},
		{UserID: "member-quiet", Email: "quiet@example.org", EmailWhenMentioned: false},
	})
	targeted := module.Recipients.Resolve(ctx, poll, false)
	if len(targeted.Notification) != 2 {
		t.Fatalf("targeted resolution reaches mentioned users, got %d", len(targeted.Notification))
	}
	if len(targeted.Email) != 1 || targeted.Email[0].UserID != "member-loud" {
		t.Fatalf("email_when_mentioned filters the email set, got %v", targeted.Email)
	}
}
