package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"quorum/contexts/collaboration/poll-engine/application/commands"
	"quorum/contexts/collaboration/poll-engine/application/queries"
	"quorum/contexts/collaboration/poll-engine/domain/entities"
	httptransport "quorum/contexts/collaboration/poll-engine/transport/http"
)

type Handler struct {
	Polls   commands.PollUseCase
	Results queries.ResultsUseCase
	Logger  *slog.Logger
}

func (h Handler) CreatePollHandler(
	ctx context.Context,
	authorID string,
	idempotencyKey string,
	req httptransport.CreatePollRequest,
) (httptransport.PollResponse, error) {
	result, err := h.Polls.CreatePoll(ctx, commands.CreatePollCommand{
		AuthorID:             authorID,
		IdempotencyKey:       idempotencyKey,
		PollType:             req.PollType,
		Title:                req.Title,
		Details:              req.Details,
		GroupID:              req.GroupID,
		DiscussionID:         req.DiscussionID,
		OptionNames:          req.OptionNames,
		ClosingAt:            req.ClosingAt,
		MultipleChoice:       req.MultipleChoice,
		CustomFields:         req.CustomFields,
		AnyoneCanParticipate: req.AnyoneCanParticipate,
		Announcement:         req.Announcement,
	})
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return mapPoll(result.Poll, result.Replayed), nil
}

func (h Handler) GetPollHandler(ctx context.Context, pollID string) (httptransport.PollResponse, error) {
	poll, err := h.Results.Polls.GetPoll(ctx, pollID)
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return mapPoll(poll, false), nil
}

func (h Handler) SetOptionsHandler(
	ctx context.Context,
	pollID string,
	actorID string,
	idempotencyKey string,
	req httptransport.SetOptionsRequest,
) (httptransport.SetOptionsResponse, error) {
	result, err := h.Polls.SetOptions(ctx, commands.SetOptionsCommand{
		PollID:         pollID,
		ActorID:        actorID,
		IdempotencyKey: idempotencyKey,
		Names:          req.OptionNames,
	})
	if err != nil {
		return httptransport.SetOptionsResponse{}, err
	}
	return httptransport.SetOptionsResponse{
		Poll:     mapPoll(result.Poll, false),
		Added:    result.Added,
		Removed:  result.Removed,
		Replayed: result.Replayed,
	}, nil
}

func (h Handler) RecordStanceHandler(
	ctx context.Context,
	pollID string,
	participantID string,
	idempotencyKey string,
	req httptransport.RecordStanceRequest,
) (httptransport.StanceResponse, error) {
	choices := make([]commands.ChoiceInput, 0, len(req.Choices))
	for _, choice := range req.Choices {
		choices = append(choices, commands.ChoiceInput{
			OptionName: choice.OptionName,
			Score:      choice.Score,
			Reason:     choice.Reason,
		})
	}
	result, err := h.Polls.RecordStance(ctx, commands.RecordStanceCommand{
		PollID:         pollID,
		ParticipantID:  participantID,
		IdempotencyKey: idempotencyKey,
		Choices:        choices,
		Reason:         req.Reason,
	})
	if err != nil {
		return httptransport.StanceResponse{}, err
	}
	return httptransport.StanceResponse{
		StanceID:      result.Stance.StanceID,
		PollID:        result.Stance.PollID,
		ParticipantID: result.Stance.ParticipantID,
		Reason:        result.Stance.Reason,
		Latest:        result.Stance.Latest,
		CreatedAt:     result.Stance.CreatedAt,
		Replayed:      result.Replayed,
	}, nil
}

func (h Handler) ClosePollHandler(
	ctx context.Context,
	pollID string,
	actorID string,
	idempotencyKey string,
) (httptransport.PollResponse, error) {
	poll, err := h.Polls.ClosePoll(ctx, commands.ClosePollCommand{
		PollID:         pollID,
		ActorID:        actorID,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return mapPoll(poll, false), nil
}

func (h Handler) PollResultsHandler(ctx context.Context, pollID string) (httptransport.ResultsResponse, error) {
	aggregate, err := h.Results.PollResults(ctx, pollID)
	if err != nil {
		return httptransport.ResultsResponse{}, err
	}
	return httptransport.ResultsResponse{
		PollID:       pollID,
		StanceData:   aggregate.StanceData,
		StanceCounts: aggregate.StanceCounts,
		MatrixCounts: aggregate.MatrixCounts,
	}, nil
}

func (h Handler) GroupedChoicesHandler(
	ctx context.Context,
	pollID string,
	since *time.Time,
) (httptransport.GroupedChoicesResponse, error) {
	grouped, err := h.Results.GroupedChoices(ctx, pollID, since)
	if err != nil {
		return httptransport.GroupedChoicesResponse{}, err
	}
	items := make([]httptransport.GroupedOptionChoices, 0, len(grouped))
	for _, group := range grouped {
		choices := make([]httptransport.GroupedChoiceItem, 0, len(group.Choices))
		for _, choice := range group.Choices {
			choices = append(choices, httptransport.GroupedChoiceItem{
				ChoiceID: choice.ChoiceID,
				StanceID: choice.StanceID,
				Score:    choice.Score,
				Reason:   choice.Reason,
				CastAt:   choice.CreatedAt,
			})
		}
		items = append(items, httptransport.GroupedOptionChoices{
			OptionID:   group.Option.OptionID,
			OptionName: group.Option.Name,
			Priority:   group.Option.Priority,
			Choices:    choices,
		})
	}
	return httptransport.GroupedChoicesResponse{
		PollID: pollID,
		Since:  since,
		Items:  items,
	}, nil
}

func (h Handler) UndecidedHandler(ctx context.Context, pollID string) (httptransport.UndecidedResponse, error) {
	count, err := h.Results.UndecidedCount(ctx, pollID)
	if err != nil {
		return httptransport.UndecidedResponse{}, err
	}
	return httptransport.UndecidedResponse{
		PollID:    pollID,
		Undecided: count,
	}, nil
}

func mapPoll(poll entities.Poll, replayed bool) httptransport.PollResponse {
	return httptransport.PollResponse{
		PollID:         poll.PollID,
		PollType:       poll.PollType,
		Title:          poll.Title,
		Details:        poll.Details,
		AuthorID:       poll.AuthorID,
		GroupID:        poll.GroupID,
		DiscussionID:   poll.DiscussionID,
		MultipleChoice: poll.MultipleChoice,
		ClosingAt:      poll.ClosingAt,
		ClosedAt:       poll.ClosedAt,
		CustomFields:   poll.CustomFields,
		StanceData:     poll.StanceData,
		StanceCounts:   poll.StanceCounts,
		MatrixCounts:   poll.MatrixCounts,
		CreatedAt:      poll.CreatedAt,
		Replayed:       replayed,
	}
}
