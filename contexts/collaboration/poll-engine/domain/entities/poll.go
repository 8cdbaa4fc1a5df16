package entities

import "time"

type Poll struct {
	PollID         string
	PollType       string
	Title          string
	Details        string
	AuthorID       string
	GroupID        string
	DiscussionID   string
	MultipleChoice bool
	ClosingAt      *time.Time
	ClosedAt       *time.Time
	CustomFields   map[string]string

	// Derived aggregate caches, recomputed by the aggregation service.
	StanceData   map[string]int
	StanceCounts []int
	MatrixCounts [][]bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the poll still accepts stances.
func (p Poll) Active() bool {
	return p.ClosedAt == nil
}

// CustomField returns the named custom field value, "" when absent.
func (p Poll) CustomField(name string) string {
	if p.CustomFields == nil {
		return ""
	}
	return p.CustomFields[name]
}

type PollOption struct {
	OptionID  string
	PollID    string
	Name      string
	Priority  int
	CreatedAt time.Time
}

// Aggregate is the derived read model cached on the poll.
type Aggregate struct {
	StanceData   map[string]int
	StanceCounts []int
	MatrixCounts [][]bool
}
