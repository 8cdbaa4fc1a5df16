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
	"quorum/contexts/collaboration/poll-engine/domain/services"
	"quorum/contexts/collaboration/poll-engine/ports"
)

// SetOptionsCommand declares the desired ordered option-name sequence for a
// poll. Additions and removals are derived, not spelled out by the caller.
type SetOptionsCommand struct {
	PollID         string
	ActorID        string
	IdempotencyKey string
	Names          []string
}

// SetOptionsResult reports the applied diff and the refreshed poll.
type SetOptionsResult struct {
	Poll     entities.Poll
	Added    []string
	Removed  []string
	Replayed bool
}

// SetOptions computes the option diff, validates the post-mutation set
// against the poll's template collecting every violation, and only then
// applies removals and additions and recomputes the aggregate. A rejected
// save leaves the current option set untouched.
func (uc PollUseCase) SetOptions(ctx context.Context, cmd SetOptionsCommand) (SetOptionsResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("poll option set processing started",
		"event", "poll_options_set_started",
		"module", "collaboration/poll-engine",
		"layer", "application",
		"poll_id", strings.TrimSpace(cmd.PollID),
		"actor_id", strings.TrimSpace(cmd.ActorID),
	)
	if strings.TrimSpace(cmd.PollID) == "" {
		return SetOptionsResult{}, domainerrors.ErrInvalidPollInput
	}
	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return SetOptionsResult{}, domainerrors.ErrIdempotencyKeyRequired
	}

	now := uc.now()
	requestHash := hashSetOptionsCommand(cmd)
	if record, found, err := uc.Idempotency.Get(ctx, cmd.IdempotencyKey, now); err != nil {
		return SetOptionsResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return SetOptionsResult{}, domainerrors.ErrIdempotencyConflict
		}
		poll, err := uc.Polls.GetPoll(ctx, record.EntityID)
		if err != nil {
			return SetOptionsResult{}, err
		}
		return SetOptionsResult{Poll: poll, Replayed: true}, nil
	}

	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(cmd.PollID))
	if err != nil {
		return SetOptionsResult{}, err
	}
	template, ok := uc.Templates.Get(poll.PollType)
	if !ok {
		return SetOptionsResult{}, domainerrors.ErrUnknownPollType
	}
	existing, err := uc.Options.ListOptions(ctx, poll.PollID)
	if err != nil {
		return SetOptionsResult{}, err
	}

	desired := trimmedNames(cmd.Names)
	diff := services.DiffOptions(poll.PollID, existing, desired)

	if violations := services.ValidatePoll(poll, desired, template, now); violations != nil {
		logger.Warn("poll option set validation failed",
			"event", "poll_options_set_validation_failed",
			"module", "collaboration/poll-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"violations", violations.Error(),
		)
		return SetOptionsResult{}, violations
	}

	// Staged removals apply only now that the save is accepted.
	if len(diff.Removals) > 0 {
		if err := uc.Options.DeleteOptions(ctx, poll.PollID, diff.Removals); err != nil {
			return SetOptionsResult{}, err
		}
	}
	added := make([]string, 0, len(diff.Additions))
	for _, option := range diff.Additions {
		optionID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return SetOptionsResult{}, err
		}
		option.OptionID = optionID
		option.CreatedAt = now
		if err := uc.Options.SaveOption(ctx, option); err != nil {
			return SetOptionsResult{}, err
		}
		added = append(added, option.Name)
	}

	poll.UpdatedAt = now
	if err := uc.Polls.SavePoll(ctx, poll); err != nil {
		return SetOptionsResult{}, err
	}
	poll, err = uc.recomputeAggregate(ctx, poll)
	if err != nil {
		return SetOptionsResult{}, err
	}

	if len(added) > 0 {
		if err := uc.appendPollEvent(ctx, "poll.option_added", poll, now, map[string]any{
			"actor_id":     strings.TrimSpace(cmd.ActorID),
			"option_names": added,
			"announcement": poll.GroupID != "",
		}); err != nil {
			return SetOptionsResult{}, err
		}
	}
	if err := uc.Idempotency.Put(ctx, ports.IdempotencyRecord{
		Key:         strings.TrimSpace(cmd.IdempotencyKey),
		RequestHash: requestHash,
		EntityID:    poll.PollID,
		ExpiresAt:   now.Add(uc.resolveIdempotencyTTL()),
	}); err != nil {
		return SetOptionsResult{}, err
	}

	logger.Info("poll options updated",
		"event", "poll_options_updated",
		"module", "collaboration/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"added_count", len(added),
		"removed_count", len(diff.Removals),
	)
	return SetOptionsResult{Poll: poll, Added: added, Removed: diff.Removals}, nil
}

func hashSetOptionsCommand(cmd SetOptionsCommand) string {
	payload := map[string]any{
		"poll_id":  strings.TrimSpace(cmd.PollID),
		"actor_id": strings.TrimSpace(cmd.ActorID),
		"names":    trimmedNames(cmd.Names),
		"op":       "set_options",
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
