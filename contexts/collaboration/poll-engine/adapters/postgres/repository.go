package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"quorum/contexts/collaboration/poll-engine/domain/entities"
	domainerrors "quorum/contexts/collaboration/poll-engine/domain/errors"
	"quorum/contexts/collaboration/poll-engine/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) SavePoll(ctx context.Context, poll entities.Poll) error {
	row, err := pollModelFromEntity(poll)
	if err != nil {
		return err
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"title":           row.Title,
			"details":         row.Details,
			"group_id":        row.GroupID,
			"discussion_id":   row.DiscussionID,
			"multiple_choice": row.MultipleChoice,
			"closing_at":      row.ClosingAt,
			"closed_at":       row.ClosedAt,
			"custom_fields":   row.CustomFields,
			"updated_at":      row.UpdatedAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		if isUniqueViolation(create.Error) {
			return domainerrors.ErrConflict
		}
		return r.logError("poll_repo_save_poll_failed", create.Error,
			"poll_id", strings.TrimSpace(poll.PollID),
		)
	}
	return nil
}

func (r *Repository) GetPoll(ctx context.Context, pollID string) (entities.Poll, error) {
	var row pollModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(pollID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Poll{}, domainerrors.ErrPollNotFound
		}
		return entities.Poll{}, r.logError("poll_repo_get_poll_failed", err, "poll_id", strings.TrimSpace(pollID))
	}
	return row.toEntity()
}

func (r *Repository) SaveAggregate(ctx context.Context, pollID string, aggregate entities.Aggregate) error {
	stanceData, err := json.Marshal(aggregate.StanceData)
	if err != nil {
		return err
	}
	stanceCounts, err := json.Marshal(aggregate.StanceCounts)
	if err != nil {
		return err
	}
	var matrixCounts []byte
	if aggregate.MatrixCounts != nil {
		matrixCounts, err = json.Marshal(aggregate.MatrixCounts)
		if err != nil {
			return err
		}
	}
	result := r.db.WithContext(ctx).Model(&pollModel{}).
		Where("id = ?", strings.TrimSpace(pollID)).
		Updates(map[string]any{
			"stance_data":   stanceData,
			"stance_counts": stanceCounts,
			"matrix_counts": matrixCounts,
		})
	if result.Error != nil {
		return r.logError("poll_repo_save_aggregate_failed", result.Error,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrPollNotFound
	}
	return nil
}

func (r *Repository) ListPollsClosingSoon(
	ctx context.Context,
	from time.Time,
	until time.Time,
	noticedSince time.Time,
) ([]entities.Poll, error) {
	var rows []pollModel
	err := r.db.WithContext(ctx).
		Where("closed_at IS NULL").
		Where("closing_at > ? AND closing_at <= ?", from.UTC(), until.UTC()).
		Where("closing_soon_noticed_at IS NULL OR closing_soon_noticed_at <= ?", noticedSince.UTC()).
		Order("closing_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, r.logError("poll_repo_list_closing_soon_failed", err)
	}
	return toPollEntities(rows)
}

func (r *Repository) MarkClosingSoonNoticed(ctx context.Context, pollID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&pollModel{}).
		Where("id = ?", strings.TrimSpace(pollID)).
		Update("closing_soon_noticed_at", at.UTC())
	if result.Error != nil {
		return r.logError("poll_repo_mark_closing_soon_failed", result.Error,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrPollNotFound
	}
	return nil
}

func (r *Repository) SaveOption(ctx context.Context, option entities.PollOption) error {
	row := optionModelFromEntity(option)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"name":     row.Name,
			"priority": row.Priority,
		}),
	}).Create(&row)
	if create.Error != nil {
		if isUniqueViolation(create.Error) {
			return domainerrors.ErrConflict
		}
		return r.logError("poll_repo_save_option_failed", create.Error,
			"poll_id", strings.TrimSpace(option.PollID),
			"option_name", strings.TrimSpace(option.Name),
		)
	}
	return nil
}

func (r *Repository) ListOptions(ctx context.Context, pollID string) ([]entities.PollOption, error) {
	var rows []pollOptionModel
	if err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Order("priority ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("poll_repo_list_options_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	items := make([]entities.PollOption, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) DeleteOptions(ctx context.Context, pollID string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Where("name IN ?", names).
		Delete(&pollOptionModel{}).Error
	if err != nil {
		return r.logError("poll_repo_delete_options_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	return nil
}

// ReplaceLatestStance runs the latest-flag handover as one transaction: the
// participant's prior stances lose the flag, then the new stance and its
// choices are inserted.
func (r *Repository) ReplaceLatestStance(
	ctx context.Context,
	stance entities.Stance,
	choices []entities.StanceChoice,
) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&stanceModel{}).
			Where("poll_id = ?", strings.TrimSpace(stance.PollID)).
			Where("participant_id = ?", strings.TrimSpace(stance.ParticipantID)).
			Where("latest = true").
			Updates(map[string]any{
				"latest":     false,
				"updated_at": stance.CreatedAt.UTC(),
			}).Error; err != nil {
			return err
		}
		row := stanceModelFromEntity(stance)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for _, choice := range choices {
			choiceRow := choiceModelFromEntity(choice)
			if err := tx.Create(&choiceRow).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("poll_repo_replace_latest_stance_failed", err,
			"poll_id", strings.TrimSpace(stance.PollID),
			"participant_id", strings.TrimSpace(stance.ParticipantID),
		)
	}
	return nil
}

func (r *Repository) ListLatestStances(ctx context.Context, pollID string) ([]entities.Stance, error) {
	var rows []stanceModel
	if err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Where("latest = true").
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("poll_repo_list_latest_stances_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	items := make([]entities.Stance, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) ListChoicesForStances(ctx context.Context, stanceIDs []string) ([]entities.StanceChoice, error) {
	if len(stanceIDs) == 0 {
		return nil, nil
	}
	var rows []stanceChoiceModel
	if err := r.db.WithContext(ctx).
		Where("stance_id IN ?", stanceIDs).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("poll_repo_list_choices_failed", err)
	}
	items := make([]entities.StanceChoice, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) ListParticipants(ctx context.Context, pollID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&stanceModel{}).
		Distinct("participant_id").
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Where("latest = true").
		Order("participant_id ASC").
		Pluck("participant_id", &ids).Error
	if err != nil {
		return nil, r.logError("poll_repo_list_participants_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	return ids, nil
}

func (r *Repository) AttachCommunity(ctx context.Context, pollID string, community entities.Community) error {
	row := pollCommunityModel{
		PollID:        strings.TrimSpace(pollID),
		CommunityID:   strings.TrimSpace(community.CommunityID),
		CommunityType: string(community.CommunityType),
		GroupID:       nullableString(community.GroupID),
		CreatedAt:     community.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	// One community of a given type per poll.
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "poll_id"}, {Name: "community_type"}},
		DoUpdates: clause.Assignments(map[string]any{
			"community_id": row.CommunityID,
			"group_id":     row.GroupID,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("poll_repo_attach_community_failed", create.Error,
			"poll_id", strings.TrimSpace(pollID),
			"community_type", string(community.CommunityType),
		)
	}
	return nil
}

func (r *Repository) DetachCommunity(ctx context.Context, pollID string, communityType entities.CommunityType) error {
	err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Where("community_type = ?", string(communityType)).
		Delete(&pollCommunityModel{}).Error
	if err != nil {
		return r.logError("poll_repo_detach_community_failed", err,
			"poll_id", strings.TrimSpace(pollID),
			"community_type", string(communityType),
		)
	}
	return nil
}

func (r *Repository) ListPollCommunities(ctx context.Context, pollID string) ([]entities.Community, error) {
	var rows []pollCommunityModel
	if err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("poll_repo_list_communities_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	items := make([]entities.Community, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) GetDiscussion(ctx context.Context, discussionID string) (ports.DiscussionProjection, error) {
	var row discussionProjectionModel
	err := r.db.WithContext(ctx).
		Where("discussion_id = ?", strings.TrimSpace(discussionID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.DiscussionProjection{}, domainerrors.ErrDiscussionNotFound
		}
		return ports.DiscussionProjection{}, r.logError("poll_repo_get_discussion_failed", err,
			"discussion_id", strings.TrimSpace(discussionID),
		)
	}
	return ports.DiscussionProjection{
		DiscussionID: row.DiscussionID,
		GroupID:      row.GroupID,
	}, nil
}

func (r *Repository) GetGroup(ctx context.Context, groupID string) (ports.GroupProjection, error) {
	var row groupProjectionModel
	err := r.db.WithContext(ctx).
		Where("group_id = ?", strings.TrimSpace(groupID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.GroupProjection{}, domainerrors.ErrGroupNotFound
		}
		return ports.GroupProjection{}, r.logError("poll_repo_get_group_failed", err,
			"group_id", strings.TrimSpace(groupID),
		)
	}
	return ports.GroupProjection{
		GroupID:     row.GroupID,
		CommunityID: row.CommunityID,
	}, nil
}

func (r *Repository) GroupMembers(ctx context.Context, groupID string) ([]ports.Member, error) {
	var rows []memberRow
	err := r.db.WithContext(ctx).
		Table("group_memberships AS m").
		Select("u.user_id, u.name, u.email, u.email_when_mentioned").
		Joins("JOIN users AS u ON u.user_id = m.user_id").
		Where("m.group_id = ?", strings.TrimSpace(groupID)).
		Order("u.user_id ASC").
		Scan(&rows).
		Error
	if err != nil {
		return nil, r.logError("poll_repo_group_members_failed", err,
			"group_id", strings.TrimSpace(groupID),
		)
	}
	return toMembers(rows), nil
}

func (r *Repository) CommunityMembers(ctx context.Context, communityID string) ([]ports.Member, error) {
	var rows []memberRow
	err := r.db.WithContext(ctx).
		Table("community_memberships AS m").
		Select("u.user_id, u.name, u.email, u.email_when_mentioned").
		Joins("JOIN users AS u ON u.user_id = m.user_id").
		Where("m.community_id = ?", strings.TrimSpace(communityID)).
		Order("u.user_id ASC").
		Scan(&rows).
		Error
	if err != nil {
		return nil, r.logError("poll_repo_community_members_failed", err,
			"community_id", strings.TrimSpace(communityID),
		)
	}
	return toMembers(rows), nil
}

var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_]+)`)

// ResolveMentions extracts @username handles from the poll's text and looks
// the users up. Unknown handles are silently dropped.
func (r *Repository) ResolveMentions(ctx context.Context, poll entities.Poll) ([]ports.Member, error) {
	matches := mentionPattern.FindAllStringSubmatch(poll.Title+" "+poll.Details, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	usernames := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, match := range matches {
		if !seen[match[1]] {
			seen[match[1]] = true
			usernames = append(usernames, match[1])
		}
	}
	var rows []memberRow
	err := r.db.WithContext(ctx).
		Table("users AS u").
		Select("u.user_id, u.name, u.email, u.email_when_mentioned").
		Where("u.username IN ?", usernames).
		Order("u.user_id ASC").
		Scan(&rows).
		Error
	if err != nil {
		return nil, r.logError("poll_repo_resolve_mentions_failed", err,
			"poll_id", strings.TrimSpace(poll.PollID),
		)
	}
	return toMembers(rows), nil
}

func (r *Repository) UsersByVolume(
	ctx context.Context,
	discussionID string,
	levels []entities.VolumeLevel,
) ([]ports.Member, error) {
	if len(levels) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(levels))
	for _, level := range levels {
		values = append(values, string(level))
	}
	var rows []memberRow
	err := r.db.WithContext(ctx).
		Table("discussion_readers AS d").
		Select("u.user_id, u.name, u.email, u.email_when_mentioned").
		Joins("JOIN users AS u ON u.user_id = d.user_id").
		Where("d.discussion_id = ?", strings.TrimSpace(discussionID)).
		Where("d.volume IN ?", values).
		Order("u.user_id ASC").
		Scan(&rows).
		Error
	if err != nil {
		return nil, r.logError("poll_repo_users_by_volume_failed", err,
			"discussion_id", strings.TrimSpace(discussionID),
		)
	}
	return toMembers(rows), nil
}

func (r *Repository) Get(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var row idempotencyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", strings.TrimSpace(key)).
		Where("expires_at > ?", now.UTC()).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, r.logError("poll_repo_idempotency_get_failed", err)
	}
	return ports.IdempotencyRecord{
		Key:         row.Key,
		RequestHash: row.RequestHash,
		EntityID:    row.EntityID,
		ExpiresAt:   row.ExpiresAt.UTC(),
	}, true, nil
}

func (r *Repository) Put(ctx context.Context, record ports.IdempotencyRecord) error {
	row := idempotencyModel{
		Key:         strings.TrimSpace(record.Key),
		RequestHash: record.RequestHash,
		EntityID:    strings.TrimSpace(record.EntityID),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"request_hash": row.RequestHash,
			"entity_id":    row.EntityID,
			"expires_at":   row.ExpiresAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("poll_repo_idempotency_put_failed", create.Error)
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, event ports.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	row := outboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    event.OccurredAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("poll_repo_append_outbox_failed", err,
			"event_id", event.EventID,
			"event_type", event.EventType,
		)
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, r.logError("poll_repo_list_pending_outbox_failed", err)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      row.Payload,
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	stamp := publishedAt.UTC()
	result := r.db.WithContext(ctx).Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Where("status = ?", outboxStatusPending).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": &stamp,
		})
	if result.Error != nil {
		return r.logError("poll_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("poll_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("poll_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrConflict
	}
	return true, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "collaboration/poll-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("poll repository operation failed", fields...)
	return err
}

var _ ports.PollRepository = (*Repository)(nil)
var _ ports.OptionRepository = (*Repository)(nil)
var _ ports.StanceRepository = (*Repository)(nil)
var _ ports.CommunityRepository = (*Repository)(nil)
var _ ports.DirectoryReader = (*Repository)(nil)
var _ ports.MembershipReader = (*Repository)(nil)
var _ ports.MentionResolver = (*Repository)(nil)
var _ ports.VolumeQuery = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullableString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func toMembers(rows []memberRow) []ports.Member {
	items := make([]ports.Member, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.Member{
			UserID:             row.UserID,
			Name:               row.Name,
			Email:              row.Email,
			EmailWhenMentioned: row.EmailWhenMentioned,
		})
	}
	return items
}
