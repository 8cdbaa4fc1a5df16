package queries

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	application "quorum/contexts/collaboration/poll-engine/application"
	"quorum/contexts/collaboration/poll-engine/domain/entities"
	"quorum/contexts/collaboration/poll-engine/domain/services"
	"quorum/contexts/collaboration/poll-engine/domain/templates"
	"quorum/contexts/collaboration/poll-engine/ports"
)

// OptionChoices groups the latest stance choices under one poll option,
// reasons first. Display read model only; aggregation never reads it.
type OptionChoices struct {
	Option  entities.PollOption
	Choices []entities.StanceChoice
}

// ResultsUseCase serves the derived read models: cached aggregates, grouped
// choices, and undecided counts.
type ResultsUseCase struct {
	Polls       ports.PollRepository
	Options     ports.OptionRepository
	Stances     ports.StanceRepository
	Communities ports.CommunityRepository
	Members     ports.MembershipReader
	Directory   ports.DirectoryReader
	Templates   templates.Registry
	Clock       ports.Clock
	Logger      *slog.Logger
}

// PollResults returns the poll's aggregate, recomputing in memory when the
// cache has never been filled. Reads never write the cache back.
func (uc ResultsUseCase) PollResults(ctx context.Context, pollID string) (entities.Aggregate, error) {
	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(pollID))
	if err != nil {
		return entities.Aggregate{}, err
	}
	if poll.StanceData != nil {
		return entities.Aggregate{
			StanceData:   poll.StanceData,
			StanceCounts: poll.StanceCounts,
			MatrixCounts: poll.MatrixCounts,
		}, nil
	}

	options, err := uc.Options.ListOptions(ctx, poll.PollID)
	if err != nil {
		return entities.Aggregate{}, err
	}
	stances, err := uc.Stances.ListLatestStances(ctx, poll.PollID)
	if err != nil {
		return entities.Aggregate{}, err
	}
	stanceIDs := make([]string, 0, len(stances))
	for _, stance := range stances {
		stanceIDs = append(stanceIDs, stance.StanceID)
	}
	choices, err := uc.Stances.ListChoicesForStances(ctx, stanceIDs)
	if err != nil {
		return entities.Aggregate{}, err
	}
	chartType := ""
	if template, ok := uc.Templates.Get(poll.PollType); ok {
		chartType = template.ChartType
	}
	return services.RecomputeAggregate(options, stances, choices, chartType), nil
}

// GroupedChoices returns latest stance choices grouped by option in priority
// order, reasoned choices before unreasoned ones, filtered to choices created
// after since. A nil since means effectively unbounded (100 years back).
func (uc ResultsUseCase) GroupedChoices(
	ctx context.Context,
	pollID string,
	since *time.Time,
) ([]OptionChoices, error) {
	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(pollID))
	if err != nil {
		return nil, err
	}
	options, err := uc.Options.ListOptions(ctx, poll.PollID)
	if err != nil {
		return nil, err
	}
	stances, err := uc.Stances.ListLatestStances(ctx, poll.PollID)
	if err != nil {
		return nil, err
	}
	stanceIDs := make([]string, 0, len(stances))
	for _, stance := range stances {
		stanceIDs = append(stanceIDs, stance.StanceID)
	}
	choices, err := uc.Stances.ListChoicesForStances(ctx, stanceIDs)
	if err != nil {
		return nil, err
	}

	cutoff := uc.now().AddDate(-100, 0, 0)
	if since != nil {
		cutoff = since.UTC()
	}

	byOption := make(map[string][]entities.StanceChoice, len(options))
	for _, choice := range choices {
		if !choice.CreatedAt.After(cutoff) {
			continue
		}
		byOption[choice.OptionID] = append(byOption[choice.OptionID], choice)
	}

	grouped := make([]OptionChoices, 0, len(options))
	for _, option := range options {
		items := byOption[option.OptionID]
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].HasReason() != items[j].HasReason() {
				return items[i].HasReason()
			}
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		})
		grouped = append(grouped, OptionChoices{Option: option, Choices: items})
	}
	return grouped, nil
}

// UndecidedCount counts audience members who have not cast a stance. The
// source set is the poll's users community when present, else the group's
// community, else just the author.
func (uc ResultsUseCase) UndecidedCount(ctx context.Context, pollID string) (int, error) {
	logger := application.ResolveLogger(uc.Logger)
	poll, err := uc.Polls.GetPoll(ctx, strings.TrimSpace(pollID))
	if err != nil {
		return 0, err
	}

	audience, err := uc.audienceMembers(ctx, poll)
	if err != nil {
		logger.Warn("undecided audience resolution failed; degrading to empty set",
			"event", "poll_undecided_resolution_failed",
			"module", "collaboration/poll-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"error", err.Error(),
		)
		return 0, nil
	}

	participants, err := uc.Stances.ListParticipants(ctx, poll.PollID)
	if err != nil {
		return 0, err
	}
	voted := make(map[string]bool, len(participants))
	for _, participant := range participants {
		voted[participant] = true
	}

	undecided := 0
	seen := make(map[string]bool, len(audience))
	for _, member := range audience {
		if seen[member.UserID] || voted[member.UserID] {
			continue
		}
		seen[member.UserID] = true
		undecided++
	}
	return undecided, nil
}

func (uc ResultsUseCase) audienceMembers(ctx context.Context, poll entities.Poll) ([]ports.Member, error) {
	communities, err := uc.Communities.ListPollCommunities(ctx, poll.PollID)
	if err != nil {
		return nil, err
	}
	for _, community := range communities {
		if community.CommunityType == entities.CommunityTypeUsers {
			return uc.Members.CommunityMembers(ctx, community.CommunityID)
		}
	}
	if poll.GroupID != "" {
		group, err := uc.Directory.GetGroup(ctx, poll.GroupID)
		if err != nil {
			return nil, err
		}
		return uc.Members.CommunityMembers(ctx, group.CommunityID)
	}
	return []ports.Member{{UserID: poll.AuthorID}}, nil
}

func (uc ResultsUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}
