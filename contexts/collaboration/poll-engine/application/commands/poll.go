package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "quorum/contexts/collaboration/poll-engine/application"
	"quorum/contexts/collaboration/poll-engine/domain/entities"
	domainerrors "quorum/contexts/collaboration/poll-engine/domain/errors"
	"quorum/contexts/collaboration/poll-engine/domain/services"
	"quorum/contexts/collaboration/poll-engine/domain/templates"
	"quorum/contexts/collaboration/poll-engine/ports"
)

// CreatePollCommand is the write-model input for poll creation.
type CreatePollCommand struct {
	AuthorID             string
	IdempotencyKey       string
	PollType             string
	Title                string
	Details              string
	GroupID              string
	DiscussionID         string
	OptionNames          []string
	ClosingAt            *time.Time
	MultipleChoice       bool
	CustomFields         map[string]string
	AnyoneCanParticipate bool
	Announcement         bool
}

// CreatePollResult returns the final poll state plus a replay marker mapped
// to API semantics by the transport layer.
type CreatePollResult struct {
	Poll     entities.Poll
	Replayed bool
}

// ClosePollCommand closes an active poll.
type ClosePollCommand struct {
	PollID         string
	ActorID        string
	IdempotencyKey string
}

// PollUseCase orchestrates poll commands while enforcing template policy,
// collected validation, latest-stance replacement, aggregate recomputation,
// and outbox event emission.
type PollUseCase struct {
	Polls          ports.PollRepository
	Options        ports.OptionRepository
	Stances        ports.StanceRepository
	Communities    ports.CommunityRepository
	Directory      ports.DirectoryReader
	Idempotency    ports.IdempotencyStore
	Outbox         ports.OutboxWriter
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	Templates      templates.Registry
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// CreatePoll validates a new poll against its template, seeds options from
// the template defaults when none are given, attaches the group community,
// and emits poll.created. Replay-safe via idempotency key + request hash.
func (uc PollUseCase) CreatePoll(ctx context.Context, cmd CreatePollCommand) (CreatePollResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("poll create processing started",
		"event", "poll_create_started",
		"module", "collaboration/poll-engine",
		"layer", "application",
		"author_id", strings.TrimSpace(cmd.AuthorID),
		"poll_type", strings.TrimSpace(cmd.PollType),
	)
	if strings.TrimSpace(cmd.AuthorID) == "" {
		return CreatePollResult{}, domainerrors.ErrInvalidPollInput
	}
	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return CreatePollResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	template, ok := uc.Templates.Get(strings.TrimSpace(cmd.PollType))
	if !ok {
		logger.Warn("poll create rejected unknown poll type",
			"event", "poll_create_unknown_type",
			"module", "collaboration/poll-engine",
			"layer", "application",
			"poll_type", strings.TrimSpace(cmd.PollType),
		)
		return CreatePollResult{}, domainerrors.ErrUnknownPollType
	}

	now := uc.now()
	requestHash := hashCreatePollCommand(cmd)
	if record, found, err := uc.Idempotency.Get(ctx, cmd.IdempotencyKey, now); err != nil {
		return CreatePollResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return CreatePollResult{}, domainerrors.ErrIdempotencyConflict
		}
		poll, err := uc.Polls.GetPoll(ctx, record.EntityID)
		if err != nil {
			return CreatePollResult{}, err
		}
		logger.Info("poll create replayed",
			"event", "poll_create_replayed",
			"module", "collaboration/poll-engine",
			"layer", "application",
			"poll_id", poll.PollID,
		)
		return CreatePollResult{Poll: poll, Replayed: true}, nil
	}

	groupID := strings.TrimSpace(cmd.GroupID)
	discussionID := strings.TrimSpace(cmd.DiscussionID)
	if discussionID != "" {
		// Setting a discussion implies inheriting its group.
		discussion, err := uc.Directory.GetDiscussion(ctx, discussionID)
		if err != nil {
			return CreatePollResult{}, err
		}
		groupID = discussion.GroupID
	}

	names := trimmedNames(cmd.OptionNames)
	if len(names) == 0 {
		names = append(names, template.DefaultOptions...)
	}

	poll := entities.Poll{
		PollType:       strings.TrimSpace(cmd.PollType),
		Title:          strings.TrimSpace(cmd.Title),
		Details:        cmd.Details,
		AuthorID:       strings.TrimSpace(cmd.AuthorID),
		GroupID:        groupID,
		DiscussionID:   discussionID,
		MultipleChoice: cmd.MultipleChoice,
		ClosingAt:      normalizeTime(cmd.ClosingAt),
		CustomFields:   cmd.CustomFields,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if violations := services.ValidatePoll(poll, names, template, now); violations != nil {
		logger.Warn("poll create validation failed",
			"event", "poll_create_validation_failed",
			"module", "collaboration/poll-engine",
			"layer", "application",
			"poll_type", poll.PollType,
			"violations", violations.Error(),
		)
		return CreatePollResult{}, violations
	}

	pollID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CreatePollResult{}, err
	}
	poll.PollID = pollID
	if err := uc.Polls.SavePoll(ctx, poll); err != nil {
		return CreatePollResult{}, err
	}
	for priority, name := range names {
		optionID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return CreatePollResult{}, err
		}
		if err := uc.Options.SaveOption(ctx, entities.PollOption{
			OptionID:  optionID,
			PollID:    pollID,
			Name:      name,
			Priority:  priority,
			CreatedAt: now,
		}); err != nil {
			return CreatePollResult{}, err
		}
	}
	if err := uc.attachCommunities(ctx, poll, cmd.AnyoneCanParticipate, now); err != nil {
		return CreatePollResult{}, err
	}

	poll, err = uc.recomputeAggregate(ctx, poll)
	if err != nil {
		return CreatePollResult{}, err
	}

	if err := uc.appendPollEvent(ctx, "poll.created", poll, now, map[string]any{
		"announcement": cmd.Announcement,
		"actor_id":     poll.AuthorID,
	}); err != nil {
		return CreatePollResult{}, err
	}
	if err := uc.Idempotency.Put(ctx, ports.IdempotencyRecord{
		Key:         strings.TrimSpace(cmd.IdempotencyKey),
		RequestHash: requestHash,
		EntityID:    pollID,
		ExpiresAt:   now.Add(uc.resolveIdempotencyTTL()),
	}); err != nil {
		return CreatePollResult{}, err
	}

	logger.Info("poll created",
		"event", "poll_created",
		"module", "collaboration/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"poll_type", poll.PollType,
		"group_id", poll.GroupID,
		"option_count", len(names),
	)
	return CreatePollResult{Poll: poll}, nil
}

// ClosePoll stamps closed_at and emits poll.closed. Closing is idempotent per
// key; closing an already-closed poll is a conflict.
func (uc PollUseCase) ClosePoll(ctx context.Context, cmd ClosePollCommand) (entities.Poll, error) {
	logger := application.ResolveLogger(uc.Logger)
	if strings.TrimSpace(cmd.PollID) == "" {
		return entities.Poll{}, domainerrors.ErrInvalidPollInput
	}
	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return entities.Poll{}, domainerrors.ErrIdempotencyKeyRequired
	}

	now := uc.now()
	requestHash := hashClosePollCommand(cmd)
	if record, found, err := uc.Idempotency.Get(ctx, cmd.IdempotencyKey, now); err != nil {
		return entities.Poll{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return entities.Poll{}, domainerrors.ErrIdempotencyConflict
		}
		return uc.Polls.GetPoll(ctx, record.EntityID)
	}

	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(cmd.PollID))
	if err != nil {
		return entities.Poll{}, err
	}
	if !poll.Active() {
		return entities.Poll{}, domainerrors.ErrPollClosed
	}
	closedAt := now
	poll.ClosedAt = &closedAt
	poll.UpdatedAt = now
	if err := uc.Polls.SavePoll(ctx, poll); err != nil {
		return entities.Poll{}, err
	}
	if err := uc.appendPollEvent(ctx, "poll.closed", poll, now, map[string]any{
		"actor_id":     strings.TrimSpace(cmd.ActorID),
		"announcement": poll.GroupID != "",
	}); err != nil {
		return entities.Poll{}, err
	}
	if err := uc.Idempotency.Put(ctx, ports.IdempotencyRecord{
		Key:         strings.TrimSpace(cmd.IdempotencyKey),
		RequestHash: requestHash,
		EntityID:    poll.PollID,
		ExpiresAt:   now.Add(uc.resolveIdempotencyTTL()),
	}); err != nil {
		return entities.Poll{}, err
	}
	logger.Info("poll closed",
		"event", "poll_closed",
		"module", "collaboration/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"actor_id", strings.TrimSpace(cmd.ActorID),
	)
	return poll, nil
}

func (uc PollUseCase) attachCommunities(
	ctx context.Context,
	poll entities.Poll,
	anyoneCanParticipate bool,
	now time.Time,
) error {
	if poll.GroupID != "" {
		group, err := uc.Directory.GetGroup(ctx, poll.GroupID)
		if err != nil {
			return err
		}
		if err := uc.Communities.AttachCommunity(ctx, poll.PollID, entities.Community{
			CommunityID:   group.CommunityID,
			CommunityType: entities.CommunityTypeGroup,
			GroupID:       poll.GroupID,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
	}
	if anyoneCanParticipate {
		communityID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return err
		}
		return uc.Communities.AttachCommunity(ctx, poll.PollID, entities.Community{
			CommunityID:   communityID,
			CommunityType: entities.CommunityTypePublic,
			CreatedAt:     now,
		})
	}
	return nil
}

// recomputeAggregate rebuilds the poll's cached totals from current options
// and latest stances and persists them. Returns the refreshed poll.
func (uc PollUseCase) recomputeAggregate(ctx context.Context, poll entities.Poll) (entities.Poll, error) {
	options, err := uc.Options.ListOptions(ctx, poll.PollID)
	if err != nil {
		return entities.Poll{}, err
	}
	stances, err := uc.Stances.ListLatestStances(ctx, poll.PollID)
	if err != nil {
		return entities.Poll{}, err
	}
	stanceIDs := make([]string, 0, len(stances))
	for _, stance := range stances {
		stanceIDs = append(stanceIDs, stance.StanceID)
	}
	choices, err := uc.Stances.ListChoicesForStances(ctx, stanceIDs)
	if err != nil {
		return entities.Poll{}, err
	}

	chartType := ""
	if template, ok := uc.Templates.Get(poll.PollType); ok {
		chartType = template.ChartType
	}
	aggregate := services.RecomputeAggregate(options, stances, choices, chartType)
	if err := uc.Polls.SaveAggregate(ctx, poll.PollID, aggregate); err != nil {
		return entities.Poll{}, err
	}
	poll.StanceData = aggregate.StanceData
	poll.StanceCounts = aggregate.StanceCounts
	poll.MatrixCounts = aggregate.MatrixCounts
	return poll, nil
}

func (uc PollUseCase) appendPollEvent(
	ctx context.Context,
	eventType string,
	poll entities.Poll,
	occurredAt time.Time,
	metadata map[string]any,
) error {
	// Outbox is optional for pure read/test wiring, so nil is treated as no-op.
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	data := map[string]any{
		"poll_id":     poll.PollID,
		"poll_type":   poll.PollType,
		"title":       poll.Title,
		"group_id":    poll.GroupID,
		"occurred_at": occurredAt.Format(time.RFC3339),
	}
	for key, value := range metadata {
		data[key] = value
	}
	envelope, err := newPollEnvelope(eventID, eventType, poll.PollID, occurredAt, data)
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func (uc PollUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc PollUseCase) resolveIdempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}

func trimmedNames(names []string) []string {
	items := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != "" {
			items = append(items, name)
		}
	}
	return items
}

func normalizeTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

func hashCreatePollCommand(cmd CreatePollCommand) string {
	closingAt := ""
	if normalized := normalizeTime(cmd.ClosingAt); normalized != nil {
		closingAt = normalized.Format(time.RFC3339Nano)
	}
	payload := map[string]any{
		"author_id":              strings.TrimSpace(cmd.AuthorID),
		"poll_type":              strings.TrimSpace(cmd.PollType),
		"title":                  strings.TrimSpace(cmd.Title),
		"details":                strings.TrimSpace(cmd.Details),
		"group_id":               strings.TrimSpace(cmd.GroupID),
		"discussion_id":          strings.TrimSpace(cmd.DiscussionID),
		"option_names":           trimmedNames(cmd.OptionNames),
		"closing_at":             closingAt,
		"multiple_choice":        cmd.MultipleChoice,
		"custom_fields":          cmd.CustomFields,
		"anyone_can_participate": cmd.AnyoneCanParticipate,
		"announcement":           cmd.Announcement,
		"op":                     "create_poll",
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func hashClosePollCommand(cmd ClosePollCommand) string {
	payload := map[string]string{
		"poll_id":  strings.TrimSpace(cmd.PollID),
		"actor_id": strings.TrimSpace(cmd.ActorID),
		"op":       "close_poll",
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
