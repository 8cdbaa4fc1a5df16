package services

import (
	"sort"

	"quorum/contexts/collaboration/poll-engine/domain/entities"
	"quorum/contexts/collaboration/poll-engine/domain/templates"
)

// matrixLimit caps the matrix grid at 5 options x 5 stances. Overflow is
// truncated for display, never reported as an error.
const matrixLimit = 5

// RecomputeAggregate derives the cached vote totals for a poll from the
// latest stance per participant. Every current option appears in StanceData
// even with zero votes, StanceCounts follows option priority ascending, and
// MatrixCounts is only produced for matrix chart templates. The function is
// pure: recomputing with unchanged input yields identical output.
func RecomputeAggregate(
	options []entities.PollOption,
	stances []entities.Stance,
	choices []entities.StanceChoice,
	chartType string,
) entities.Aggregate {
	ordered := make([]entities.PollOption, len(options))
	copy(ordered, options)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	nameByOption := make(map[string]string, len(ordered))
	data := make(map[string]int, len(ordered))
	for _, option := range ordered {
		nameByOption[option.OptionID] = option.Name
		data[option.Name] = 0
	}

	latest := make(map[string]bool, len(stances))
	for _, stance := range stances {
		if stance.Latest {
			latest[stance.StanceID] = true
		}
	}

	chosen := make(map[string]map[string]bool, len(latest))
	for _, choice := range choices {
		if !latest[choice.StanceID] {
			continue
		}
		name, ok := nameByOption[choice.OptionID]
		if !ok {
			continue
		}
		data[name] += choice.Score
		set := chosen[choice.StanceID]
		if set == nil {
			set = make(map[string]bool)
			chosen[choice.StanceID] = set
		}
		set[choice.OptionID] = true
	}

	counts := make([]int, 0, len(ordered))
	for _, option := range ordered {
		counts = append(counts, data[option.Name])
	}

	aggregate := entities.Aggregate{
		StanceData:   data,
		StanceCounts: counts,
	}
	if chartType == templates.ChartTypeMatrix {
		aggregate.MatrixCounts = matrixCounts(ordered, stances, chosen)
	}
	return aggregate
}

func matrixCounts(
	ordered []entities.PollOption,
	stances []entities.Stance,
	chosen map[string]map[string]bool,
) [][]bool {
	latestOrdered := make([]entities.Stance, 0, len(stances))
	for _, stance := range stances {
		if stance.Latest {
			latestOrdered = append(latestOrdered, stance)
		}
	}
	sort.SliceStable(latestOrdered, func(i, j int) bool {
		return latestOrdered[i].CreatedAt.Before(latestOrdered[j].CreatedAt)
	})

	rows := len(ordered)
	if rows > matrixLimit {
		rows = matrixLimit
	}
	cols := len(latestOrdered)
	if cols > matrixLimit {
		cols = matrixLimit
	}

	grid := make([][]bool, rows)
	for i := 0; i < rows; i++ {
		grid[i] = make([]bool, cols)
		for j := 0; j < cols; j++ {
			grid[i][j] = chosen[latestOrdered[j].StanceID][ordered[i].OptionID]
		}
	}
	return grid
}
