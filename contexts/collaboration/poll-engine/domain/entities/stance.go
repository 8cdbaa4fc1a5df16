package entities

import "time"

// Stance is one participant's vote snapshot. Only the stance flagged Latest
// counts toward aggregation; earlier stances stay as history.
type Stance struct {
	StanceID      string
	PollID        string
	ParticipantID string
	Reason        string
	Latest        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StanceChoice links a stance to one poll option with an integer score weight.
type StanceChoice struct {
	ChoiceID  string
	StanceID  string
	OptionID  string
	Score     int
	Reason    string
	CreatedAt time.Time
}

// HasReason reports whether the choice carries commentary; reasoned choices
// sort first in grouped views.
func (c StanceChoice) HasReason() bool {
	return c.Reason != ""
}
