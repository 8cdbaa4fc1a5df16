package http

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type FieldErrorItem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrorResponse struct {
	Code   string           `json:"code"`
	Errors []FieldErrorItem `json:"errors"`
}

type CreatePollRequest struct {
	PollType             string            `json:"poll_type"`
	Title                string            `json:"title"`
	Details              string            `json:"details,omitempty"`
	GroupID              string            `json:"group_id,omitempty"`
	DiscussionID         string            `json:"discussion_id,omitempty"`
	OptionNames          []string          `json:"option_names,omitempty"`
	ClosingAt            *time.Time        `json:"closing_at,omitempty"`
	MultipleChoice       bool              `json:"multiple_choice,omitempty"`
	CustomFields         map[string]string `json:"custom_fields,omitempty"`
	AnyoneCanParticipate bool              `json:"anyone_can_participate,omitempty"`
	Announcement         bool              `json:"announcement,omitempty"`
}

type PollResponse struct {
	PollID         string            `json:"poll_id"`
	PollType       string            `json:"poll_type"`
	Title          string            `json:"title"`
	Details        string            `json:"details,omitempty"`
	AuthorID       string            `json:"author_id"`
	GroupID        string            `json:"group_id,omitempty"`
	DiscussionID   string            `json:"discussion_id,omitempty"`
	MultipleChoice bool              `json:"multiple_choice"`
	ClosingAt      *time.Time        `json:"closing_at,omitempty"`
	ClosedAt       *time.Time        `json:"closed_at,omitempty"`
	CustomFields   map[string]string `json:"custom_fields,omitempty"`
	StanceData     map[string]int    `json:"stance_data,omitempty"`
	StanceCounts   []int             `json:"stance_counts,omitempty"`
	MatrixCounts   [][]bool          `json:"matrix_counts,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Replayed       bool              `json:"replayed,omitempty"`
}

type SetOptionsRequest struct {
	OptionNames []string `json:"option_names"`
}

type SetOptionsResponse struct {
	Poll     PollResponse `json:"poll"`
	Added    []string     `json:"added,omitempty"`
	Removed  []string     `json:"removed,omitempty"`
	Replayed bool         `json:"replayed,omitempty"`
}

type StanceChoiceRequest struct {
	OptionName string `json:"option_name"`
	Score      int    `json:"score,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type RecordStanceRequest struct {
	Choices []StanceChoiceRequest `json:"choices"`
	Reason  string                `json:"reason,omitempty"`
}

type StanceResponse struct {
	StanceID      string    `json:"stance_id"`
	PollID        string    `json:"poll_id"`
	ParticipantID string    `json:"participant_id"`
	Reason        string    `json:"reason,omitempty"`
	Latest        bool      `json:"latest"`
	CreatedAt     time.Time `json:"created_at"`
	Replayed      bool      `json:"replayed,omitempty"`
}

type ResultsResponse struct {
	PollID       string         `json:"poll_id"`
	StanceData   map[string]int `json:"stance_data"`
	StanceCounts []int          `json:"stance_counts"`
	MatrixCounts [][]bool       `json:"matrix_counts,omitempty"`
}

type GroupedChoiceItem struct {
	ChoiceID string    `json:"choice_id"`
	StanceID string    `json:"stance_id"`
	Score    int       `json:"score"`
	Reason   string    `json:"reason,omitempty"`
	CastAt   time.Time `json:"cast_at"`
}

type GroupedOptionChoices struct {
	OptionID   string              `json:"option_id"`
	OptionName string              `json:"option_name"`
	Priority   int                 `json:"priority"`
	Choices    []GroupedChoiceItem `json:"choices"`
}

type GroupedChoicesResponse struct {
	PollID string                 `json:"poll_id"`
	Since  *time.Time             `json:"since,omitempty"`
	Items  []GroupedOptionChoices `json:"items"`
}

type UndecidedResponse struct {
	PollID    string `json:"poll_id"`
	Undecided int    `json:"undecided_count"`
}
