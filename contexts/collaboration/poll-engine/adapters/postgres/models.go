package postgresadapter

import (
	"encoding/json"
	"strings"
	"time"

	"quorum/contexts/collaboration/poll-engine/domain/entities"
)

type pollModel struct {
	ID                   string     `gorm:"column:id;primaryKey"`
	PollType             string     `gorm:"column:poll_type"`
	Title                string     `gorm:"column:title"`
	Details              string     `gorm:"column:details"`
	AuthorID             string     `gorm:"column:author_id"`
	GroupID              *string    `gorm:"column:group_id"`
	DiscussionID         *string    `gorm:"column:discussion_id"`
	MultipleChoice       bool       `gorm:"column:multiple_choice"`
	ClosingAt            *time.Time `gorm:"column:closing_at"`
	ClosedAt             *time.Time `gorm:"column:closed_at"`
	ClosingSoonNoticedAt *time.Time `gorm:"column:closing_soon_noticed_at"`
	CustomFields         []byte     `gorm:"column:custom_fields;type:jsonb"`
	StanceData           []byte     `gorm:"column:stance_data;type:jsonb"`
	StanceCounts         []byte     `gorm:"column:stance_counts;type:jsonb"`
	MatrixCounts         []byte     `gorm:"column:matrix_counts;type:jsonb"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

func (pollModel) TableName() string {
	return "polls"
}

func pollModelFromEntity(poll entities.Poll) (pollModel, error) {
	row := pollModel{
		ID:             strings.TrimSpace(poll.PollID),
		PollType:       strings.TrimSpace(poll.PollType),
		Title:          strings.TrimSpace(poll.Title),
		Details:        poll.Details,
		AuthorID:       strings.TrimSpace(poll.AuthorID),
		GroupID:        nullableString(poll.GroupID),
		DiscussionID:   nullableString(poll.DiscussionID),
		MultipleChoice: poll.MultipleChoice,
		CreatedAt:      poll.CreatedAt.UTC(),
		UpdatedAt:      poll.UpdatedAt.UTC(),
	}
	if poll.ClosingAt != nil {
		closing := poll.ClosingAt.UTC()
		row.ClosingAt = &closing
	}
	if poll.ClosedAt != nil {
		closed := poll.ClosedAt.UTC()
		row.ClosedAt = &closed
	}
	if len(poll.CustomFields) > 0 {
		payload, err := json.Marshal(poll.CustomFields)
		if err != nil {
			return pollModel{}, err
		}
		row.CustomFields = payload
	}
	return row, nil
}

func (m pollModel) toEntity() (entities.Poll, error) {
	poll := entities.Poll{
		PollID:         m.ID,
		PollType:       m.PollType,
		Title:          m.Title,
		Details:        m.Details,
		AuthorID:       m.AuthorID,
		MultipleChoice: m.MultipleChoice,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
	if m.GroupID != nil {
		poll.GroupID = *m.GroupID
	}
	if m.DiscussionID != nil {
		poll.DiscussionID = *m.DiscussionID
	}
	if m.ClosingAt != nil {
		closing := m.ClosingAt.UTC()
		poll.ClosingAt = &closing
	}
	if m.ClosedAt != nil {
		closed := m.ClosedAt.UTC()
		poll.ClosedAt = &closed
	}
	if len(m.CustomFields) > 0 {
		if err := json.Unmarshal(m.CustomFields, &poll.CustomFields); err != nil {
			return entities.Poll{}, err
		}
	}
	if len(m.StanceData) > 0 {
		if err := json.Unmarshal(m.StanceData, &poll.StanceData); err != nil {
			return entities.Poll{}, err
		}
	}
	if len(m.StanceCounts) > 0 {
		if err := json.Unmarshal(m.StanceCounts, &poll.StanceCounts); err != nil {
			return entities.Poll{}, err
		}
	}
	if len(m.MatrixCounts) > 0 {
		if err := json.Unmarshal(m.MatrixCounts, &poll.MatrixCounts); err != nil {
			return entities.Poll{}, err
		}
	}
	return poll, nil
}

func toPollEntities(rows []pollModel) ([]entities.Poll, error) {
	items := make([]entities.Poll, 0, len(rows))
	for _, row := range rows {
		poll, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		items = append(items, poll)
	}
	return items, nil
}

type pollOptionModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	PollID    string    `gorm:"column:poll_id;index"`
	Name      string    `gorm:"column:name"`
	Priority  int       `gorm:"column:priority"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (pollOptionModel) TableName() string {
	return "poll_options"
}

func optionModelFromEntity(option entities.PollOption) pollOptionModel {
	return pollOptionModel{
		ID:        strings.TrimSpace(option.OptionID),
		PollID:    strings.TrimSpace(option.PollID),
		Name:      strings.TrimSpace(option.Name),
		Priority:  option.Priority,
		CreatedAt: option.CreatedAt.UTC(),
	}
}

func (m pollOptionModel) toEntity() entities.PollOption {
	return entities.PollOption{
		OptionID:  m.ID,
		PollID:    m.PollID,
		Name:      m.Name,
		Priority:  m.Priority,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

type stanceModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	PollID        string    `gorm:"column:poll_id;index"`
	ParticipantID string    `gorm:"column:participant_id;index"`
	Reason        string    `gorm:"column:reason"`
	Latest        bool      `gorm:"column:latest"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (stanceModel) TableName() string {
	return "stances"
}

func stanceModelFromEntity(stance entities.Stance) stanceModel {
	return stanceModel{
		ID:            strings.TrimSpace(stance.StanceID),
		PollID:        strings.TrimSpace(stance.PollID),
		ParticipantID: strings.TrimSpace(stance.ParticipantID),
		Reason:        strings.TrimSpace(stance.Reason),
		Latest:        stance.Latest,
		CreatedAt:     stance.CreatedAt.UTC(),
		UpdatedAt:     stance.UpdatedAt.UTC(),
	}
}

func (m stanceModel) toEntity() entities.Stance {
	return entities.Stance{
		StanceID:      m.ID,
		PollID:        m.PollID,
		ParticipantID: m.ParticipantID,
		Reason:        m.Reason,
		Latest:        m.Latest,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

type stanceChoiceModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	StanceID  string    `gorm:"column:stance_id;index"`
	OptionID  string    `gorm:"column:option_id;index"`
	Score     int       `gorm:"column:score"`
	Reason    string    `gorm:"column:reason"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (stanceChoiceModel) TableName() string {
	return "stance_choices"
}

func choiceModelFromEntity(choice entities.StanceChoice) stanceChoiceModel {
	return stanceChoiceModel{
		ID:        strings.TrimSpace(choice.ChoiceID),
		StanceID:  strings.TrimSpace(choice.StanceID),
		OptionID:  strings.TrimSpace(choice.OptionID),
		Score:     choice.Score,
		Reason:    strings.TrimSpace(choice.Reason),
		CreatedAt: choice.CreatedAt.UTC(),
	}
}

func (m stanceChoiceModel) toEntity() entities.StanceChoice {
	return entities.StanceChoice{
		ChoiceID:  m.ID,
		StanceID:  m.StanceID,
		OptionID:  m.OptionID,
		Score:     m.Score,
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

type pollCommunityModel struct {
	PollID        string    `gorm:"column:poll_id;primaryKey"`
	CommunityType string    `gorm:"column:community_type;primaryKey"`
	CommunityID   string    `gorm:"column:community_id"`
	GroupID       *string   `gorm:"column:group_id"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (pollCommunityModel) TableName() string {
	return "poll_communities"
}

func (m pollCommunityModel) toEntity() entities.Community {
	community := entities.Community{
		CommunityID:   m.CommunityID,
		CommunityType: entities.CommunityType(m.CommunityType),
		CreatedAt:     m.CreatedAt.UTC(),
	}
	if m.GroupID != nil {
		community.GroupID = *m.GroupID
	}
	return community
}

type discussionProjectionModel struct {
	DiscussionID string `gorm:"column:discussion_id;primaryKey"`
	GroupID      string `gorm:"column:group_id"`
}

func (discussionProjectionModel) TableName() string {
	return "discussion_projections"
}

type groupProjectionModel struct {
	GroupID     string `gorm:"column:group_id;primaryKey"`
	CommunityID string `gorm:"column:community_id"`
}

func (groupProjectionModel) TableName() string {
	return "group_projections"
}

type memberRow struct {
	UserID             string `gorm:"column:user_id"`
	Name               string `gorm:"column:name"`
	Email              string `gorm:"column:email"`
	EmailWhenMentioned bool   `gorm:"column:email_when_mentioned"`
}

type idempotencyModel struct {
	Key         string    `gorm:"column:key;primaryKey"`
	RequestHash string    `gorm:"column:request_hash"`
	EntityID    string    `gorm:"column:entity_id"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "poll_idempotency_keys"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload;type:jsonb"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "poll_outbox_messages"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "poll_event_dedup"
}
