package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"quorum/contexts/collaboration/poll-engine/domain/entities"
	domainerrors "quorum/contexts/collaboration/poll-engine/domain/errors"
	"quorum/contexts/collaboration/poll-engine/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

type volumeMember struct {
	member ports.Member
	level  entities.VolumeLevel
}

// Store is the all-ports in-memory adapter used for tests and local wiring.
type Store struct {
	mu sync.RWMutex

	now *time.Time

	polls          map[string]entities.Poll
	options        map[string]entities.PollOption
	stances        map[string]entities.Stance
	choices        map[string][]entities.StanceChoice
	communities    map[string][]entities.Community
	closingNotices map[string]time.Time

	idempotency map[string]ports.IdempotencyRecord
	outbox      map[string]outboxRecord
	eventDedup  map[string]dedupRecord

	groups           map[string]ports.GroupProjection
	discussions      map[string]ports.DiscussionProjection
	groupMembers     map[string][]ports.Member
	communityMembers map[string][]ports.Member
	mentions         map[string][]ports.Member
	volumes          map[string][]volumeMember
}

func NewStore() *Store {
	return &Store{
		polls:            make(map[string]entities.Poll),
		options:          make(map[string]entities.PollOption),
		stances:          make(map[string]entities.Stance),
		choices:          make(map[string][]entities.StanceChoice),
		communities:      make(map[string][]entities.Community),
		closingNotices:   make(map[string]time.Time),
		idempotency:      make(map[string]ports.IdempotencyRecord),
		outbox:           make(map[string]outboxRecord),
		eventDedup:       make(map[string]dedupRecord),
		groups:           make(map[string]ports.GroupProjection),
		discussions:      make(map[string]ports.DiscussionProjection),
		groupMembers:     make(map[string][]ports.Member),
		communityMembers: make(map[string][]ports.Member),
		mentions:         make(map[string][]ports.Member),
		volumes:          make(map[string][]volumeMember),
	}
}

// SetNow pins the store clock for deterministic tests.
func (s *Store) SetNow(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pinned := now.UTC()
	s.now = &pinned
}

func (s *Store) SetGroup(group ports.GroupProjection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[strings.TrimSpace(group.GroupID)] = group
}

func (s *Store) SetDiscussion(discussion ports.DiscussionProjection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discussions[strings.TrimSpace(discussion.DiscussionID)] = discussion
}

func (s *Store) SetGroupMembers(groupID string, members []ports.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupMembers[strings.TrimSpace(groupID)] = append([]ports.Member(nil), members...)
}

func (s *Store) SetCommunityMembers(communityID string, members []ports.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communityMembers[strings.TrimSpace(communityID)] = append([]ports.Member(nil), members...)
}

func (s *Store) SetMentions(pollID string, members []ports.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mentions[strings.TrimSpace(pollID)] = append([]ports.Member(nil), members...)
}

func (s *Store) SetVolume(discussionID string, member ports.Member, level entities.VolumeLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(discussionID)
	s.volumes[key] = append(s.volumes[key], volumeMember{member: member, level: level})
}

func (s *Store) SavePoll(_ context.Context, poll entities.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls[strings.TrimSpace(poll.PollID)] = poll
	return nil
}

func (s *Store) GetPoll(_ context.Context, pollID string) (entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	poll, ok := s.polls[strings.TrimSpace(pollID)]
	if !ok {
		return entities.Poll{}, domainerrors.ErrPollNotFound
	}
	return poll, nil
}

func (s *Store) SaveAggregate(_ context.Context, pollID string, aggregate entities.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	poll, ok := s.polls[strings.TrimSpace(pollID)]
	if !ok {
		return domainerrors.ErrPollNotFound
	}
	poll.StanceData = aggregate.StanceData
	poll.StanceCounts = aggregate.StanceCounts
	poll.MatrixCounts = aggregate.MatrixCounts
	s.polls[poll.PollID] = poll
	return nil
}

func (s *Store) ListPollsClosingSoon(
	_ context.Context,
	from time.Time,
	until time.Time,
	noticedSince time.Time,
) ([]entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Poll, 0)
	for _, poll := range s.polls {
		if !poll.Active() || poll.ClosingAt == nil {
			continue
		}
		closing := poll.ClosingAt.UTC()
		if !closing.After(from) || closing.After(until) {
			continue
		}
		if noticed, ok := s.closingNotices[poll.PollID]; ok && noticed.After(noticedSince) {
			continue
		}
		items = append(items, poll)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].PollID < items[j].PollID
	})
	return items, nil
}

func (s *Store) MarkClosingSoonNoticed(_ context.Context, pollID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closingNotices[strings.TrimSpace(pollID)] = at.UTC()
	return nil
}

func (s *Store) SaveOption(_ context.Context, option entities.PollOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[strings.TrimSpace(option.OptionID)] = option
	return nil
}

func (s *Store) ListOptions(_ context.Context, pollID string) ([]entities.PollOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.PollOption, 0)
	for _, option := range s.options {
		if option.PollID == strings.TrimSpace(pollID) {
			items = append(items, option)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Priority < items[j].Priority
	})
	return items, nil
}

func (s *Store) DeleteOptions(_ context.Context, pollID string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doomed := make(map[string]bool, len(names))
	for _, name := range names {
		doomed[name] = true
	}
	for id, option := range s.options {
		if option.PollID == strings.TrimSpace(pollID) && doomed[option.Name] {
			delete(s.options, id)
		}
	}
	return nil
}

func (s *Store) ReplaceLatestStance(
	_ context.Context,
	stance entities.Stance,
	choices []entities.StanceChoice,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.stances {
		if existing.PollID == stance.PollID && existing.ParticipantID == stance.ParticipantID && existing.Latest {
			existing.Latest = false
			existing.UpdatedAt = stance.CreatedAt
			s.stances[id] = existing
		}
	}
	s.stances[stance.StanceID] = stance
	s.choices[stance.StanceID] = append([]entities.StanceChoice(nil), choices...)
	return nil
}

func (s *Store) ListLatestStances(_ context.Context, pollID string) ([]entities.Stance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Stance, 0)
	for _, stance := range s.stances {
		if stance.PollID == strings.TrimSpace(pollID) && stance.Latest {
			items = append(items, stance)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].StanceID < items[j].StanceID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) ListChoicesForStances(_ context.Context, stanceIDs []string) ([]entities.StanceChoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.StanceChoice, 0)
	for _, stanceID := range stanceIDs {
		items = append(items, s.choices[strings.TrimSpace(stanceID)]...)
	}
	return items, nil
}

func (s *Store) ListParticipants(_ context.Context, pollID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	items := make([]string, 0)
	for _, stance := range s.stances {
		if stance.PollID != strings.TrimSpace(pollID) || !stance.Latest {
			continue
		}
		if !seen[stance.ParticipantID] {
			seen[stance.ParticipantID] = true
			items = append(items, stance.ParticipantID)
		}
	}
	sort.Strings(items)
	return items, nil
}

func (s *Store) AttachCommunity(_ context.Context, pollID string, community entities.Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(pollID)
	// At most one community of a given type per poll.
	kept := make([]entities.Community, 0, len(s.communities[key])+1)
	for _, existing := range s.communities[key] {
		if existing.CommunityType != community.CommunityType {
			kept = append(kept, existing)
		}
	}
	s.communities[key] = append(kept, community)
	return nil
}

func (s *Store) DetachCommunity(_ context.Context, pollID string, communityType entities.CommunityType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(pollID)
	kept := make([]entities.Community, 0, len(s.communities[key]))
	for _, existing := range s.communities[key] {
		if existing.CommunityType != communityType {
			kept = append(kept, existing)
		}
	}
	s.communities[key] = kept
	return nil
}

func (s *Store) ListPollCommunities(_ context.Context, pollID string) ([]entities.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entities.Community(nil), s.communities[strings.TrimSpace(pollID)]...), nil
}

func (s *Store) GetDiscussion(_ context.Context, discussionID string) (ports.DiscussionProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	discussion, ok := s.discussions[strings.TrimSpace(discussionID)]
	if !ok {
		return ports.DiscussionProjection{}, domainerrors.ErrDiscussionNotFound
	}
	return discussion, nil
}

func (s *Store) GetGroup(_ context.Context, groupID string) (ports.GroupProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[strings.TrimSpace(groupID)]
	if !ok {
		return ports.GroupProjection{}, domainerrors.ErrGroupNotFound
	}
	return group, nil
}

func (s *Store) GroupMembers(_ context.Context, groupID string) ([]ports.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ports.Member(nil), s.groupMembers[strings.TrimSpace(groupID)]...), nil
}

func (s *Store) CommunityMembers(_ context.Context, communityID string) ([]ports.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ports.Member(nil), s.communityMembers[strings.TrimSpace(communityID)]...), nil
}

func (s *Store) ResolveMentions(_ context.Context, poll entities.Poll) ([]ports.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ports.Member(nil), s.mentions[strings.TrimSpace(poll.PollID)]...), nil
}

func (s *Store) UsersByVolume(
	_ context.Context,
	discussionID string,
	levels []entities.VolumeLevel,
) ([]ports.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[entities.VolumeLevel]bool, len(levels))
	for _, level := range levels {
		wanted[level] = true
	}
	items := make([]ports.Member, 0)
	for _, entry := range s.volumes[strings.TrimSpace(discussionID)] {
		if wanted[entry.level] {
			items = append(items, entry.member)
		}
	}
	return items, nil
}

func (s *Store) Get(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.idempotency[strings.TrimSpace(key)]
	if !ok || record.ExpiresAt.Before(now) {
		return ports.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (s *Store) Put(_ context.Context, record ports.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idempotency[strings.TrimSpace(record.Key)] = record
	return nil
}

func (s *Store) AppendOutbox(_ context.Context, event ports.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	outboxID := uuid.NewString()
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    event.EventType,
			PartitionKey: event.PartitionKey,
			Payload:      payload,
			CreatedAt:    event.OccurredAt.UTC(),
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]ports.OutboxMessage, 0)
	for _, record := range s.outbox {
		if !record.published {
			items = append(items, record.message)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].OutboxID < items[j].OutboxID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrConflict
	}
	record.published = true
	s.outbox[strings.TrimSpace(outboxID)] = record
	return nil
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(eventID)
	if existing, ok := s.eventDedup[key]; ok {
		if existing.payloadHash != payloadHash {
			return false, domainerrors.ErrConflict
		}
		return true, nil
	}
	s.eventDedup[key] = dedupRecord{payloadHash: payloadHash, expiresAt: expiresAt.UTC()}
	return false, nil
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.now != nil {
		return *s.now
	}
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.PollRepository = (*Store)(nil)
var _ ports.OptionRepository = (*Store)(nil)
var _ ports.StanceRepository = (*Store)(nil)
var _ ports.CommunityRepository = (*Store)(nil)
var _ ports.DirectoryReader = (*Store)(nil)
var _ ports.MembershipReader = (*Store)(nil)
var _ ports.MentionResolver = (*Store)(nil)
var _ ports.VolumeQuery = (*Store)(nil)
var _ ports.IdempotencyStore = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.EventDedupStore = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
