package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	application "quorum/contexts/collaboration/poll-engine/application"
	"quorum/contexts/collaboration/poll-engine/domain/entities"
	domainerrors "quorum/contexts/collaboration/poll-engine/domain/errors"
	"quorum/contexts/collaboration/poll-engine/ports"
)

// ChoiceInput selects one option by name with an optional score weight.
type ChoiceInput struct {
	OptionName string
	Score      int
	Reason     string
}

// RecordStanceCommand is the write-model input for casting a stance.
type RecordStanceCommand struct {
	PollID         string
	ParticipantID  string
	IdempotencyKey string
	Choices        []ChoiceInput
	Reason         string
}

// RecordStanceResult returns the stored stance and a replay marker.
type RecordStanceResult struct {
	Stance   entities.Stance
	Replayed bool
}

// RecordStance stores a participant's vote as the new latest stance. Prior
// stances of the same participant lose their latest flag in the same atomic
// unit, so aggregation never double-counts a participant. The aggregate is
// recomputed before returning.
func (uc PollUseCase) RecordStance(ctx context.Context, cmd RecordStanceCommand) (RecordStanceResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("stance record processing started",
		"event", "stance_record_started",
		"module", "collaboration/poll-engine",
		"layer", "application",
		"poll_id", strings.TrimSpace(cmd.PollID),
		"participant_id", strings.TrimSpace(cmd.ParticipantID),
	)
	if strings.TrimSpace(cmd.PollID) == "" || strings.TrimSpace(cmd.ParticipantID) == "" {
		return RecordStanceResult{}, domainerrors.ErrInvalidStanceInput
	}
	if len(cmd.Choices) == 0 {
		return RecordStanceResult{}, domainerrors.ErrInvalidStanceInput
	}
	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return RecordStanceResult{}, domainerrors.ErrIdempotencyKeyRequired
	}

	now := uc.now()
	requestHash := hashRecordStanceCommand(cmd)
	if record, found, err := uc.Idempotency.Get(ctx, cmd.IdempotencyKey, now); err != nil {
		return RecordStanceResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return RecordStanceResult{}, domainerrors.ErrIdempotencyConflict
		}
		logger.Info("stance record replayed",
			"event", "stance_record_replayed",
			"module", "collaboration/poll-engine",
			"layer", "application",
			"poll_id", strings.TrimSpace(cmd.PollID),
			"stance_id", record.EntityID,
		)
		return RecordStanceResult{Stance: entities.Stance{StanceID: record.EntityID}, Replayed: true}, nil
	}

	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(cmd.PollID))
	if err != nil {
		return RecordStanceResult{}, err
	}
	if !poll.Active() {
		return RecordStanceResult{}, domainerrors.ErrPollClosed
	}
	template, ok := uc.Templates.Get(poll.PollType)
	if !ok {
		return RecordStanceResult{}, domainerrors.ErrUnknownPollType
	}
	if template.SingleChoice && !poll.MultipleChoice && len(cmd.Choices) > 1 {
		return RecordStanceResult{}, domainerrors.ErrSingleChoiceOnly
	}

	options, err := uc.Options.ListOptions(ctx, poll.PollID)
	if err != nil {
		return RecordStanceResult{}, err
	}
	optionByName := make(map[string]entities.PollOption, len(options))
	for _, option := range options {
		optionByName[option.Name] = option
	}

	stanceID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return RecordStanceResult{}, err
	}
	stance := entities.Stance{
		StanceID:      stanceID,
		PollID:        poll.PollID,
		ParticipantID: strings.TrimSpace(cmd.ParticipantID),
		Reason:        strings.TrimSpace(cmd.Reason),
		Latest:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	choices := make([]entities.StanceChoice, 0, len(cmd.Choices))
	for _, input := range cmd.Choices {
		option, ok := optionByName[strings.TrimSpace(input.OptionName)]
		if !ok {
			return RecordStanceResult{}, domainerrors.ErrOptionNotFound
		}
		score := input.Score
		if !template.HasVariableScore || score <= 0 {
			score = 1
		}
		choiceID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return RecordStanceResult{}, err
		}
		choices = append(choices, entities.StanceChoice{
			ChoiceID:  choiceID,
			StanceID:  stanceID,
			OptionID:  option.OptionID,
			Score:     score,
			Reason:    strings.TrimSpace(input.Reason),
			CreatedAt: now,
		})
	}

	if err := uc.Stances.ReplaceLatestStance(ctx, stance, choices); err != nil {
		return RecordStanceResult{}, err
	}
	if _, err := uc.recomputeAggregate(ctx, poll); err != nil {
		return RecordStanceResult{}, err
	}

	if err := uc.appendPollEvent(ctx, "stance.created", poll, now, map[string]any{
		"stance_id":      stanceID,
		"participant_id": stance.ParticipantID,
		"choice_count":   len(choices),
	}); err != nil {
		return RecordStanceResult{}, err
	}
	if err := uc.Idempotency.Put(ctx, ports.IdempotencyRecord{
		Key:         strings.TrimSpace(cmd.IdempotencyKey),
		RequestHash: requestHash,
		EntityID:    stanceID,
		ExpiresAt:   now.Add(uc.resolveIdempotencyTTL()),
	}); err != nil {
		return RecordStanceResult{}, err
	}

	logger.Info("stance recorded",
		"event", "stance_recorded",
		"module", "collaboration/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"stance_id", stanceID,
		"participant_id", stance.ParticipantID,
		"choice_count", len(choices),
	)
	return RecordStanceResult{Stance: stance}, nil
}

func hashRecordStanceCommand(cmd RecordStanceCommand) string {
	type choicePayload struct {
		Option string `json:"option"`
		Score  int    `json:"score"`
		Reason string `json:"reason"`
	}
	choices := make([]choicePayload, 0, len(cmd.Choices))
	for _, choice := range cmd.Choices {
		choices = append(choices, choicePayload{
			Option: strings.TrimSpace(choice.OptionName),
			Score:  choice.Score,
			Reason: strings.TrimSpace(choice.Reason),
		})
	}
	payload := map[string]any{
		"poll_id":        strings.TrimSpace(cmd.PollID),
		"participant_id": strings.TrimSpace(cmd.ParticipantID),
		"choices":        choices,
		"reason":         strings.TrimSpace(cmd.Reason),
		"op":             "record_stance",
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
