package evolution

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/evoloop/evoloop/types"
)

// MemoryStore is an in-memory Store for tests and embedded scenarios. All
// multi-step operations run under one mutex, which gives it the same
// atomicity guarantees as the transactional GORM store.
type MemoryStore struct {
	mu       sync.RWMutex
	topics   map[string]*Topic
	versions map[string][]*StrategyVersion // topicID -> versions ordered by number
	episodes map[string]*Episode
	log      []*EvolutionLogEntry
	nextLog  uint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		topics:   make(map[string]*Topic),
		versions: make(map[string][]*StrategyVersion),
		episodes: make(map[string]*Episode),
		nextLog:  1,
	}
}

func copyTopic(t *Topic) *Topic {
	out := *t
	if t.ActiveVersion != nil {
		v := *t.ActiveVersion
		out.ActiveVersion = &v
	}
	return &out
}

func copyVersion(v *StrategyVersion) *StrategyVersion {
	out := *v
	if v.ParentVersion != nil {
		p := *v.ParentVersion
		out.ParentVersion = &p
	}
	out.Config = append(json.RawMessage(nil), v.Config...)
	return &out
}

func copyEpisode(e *Episode) *Episode {
	out := *e
	out.SourcesReturned = append([]string(nil), e.SourcesReturned...)
	out.SourcesSaved = append([]string(nil), e.SourcesSaved...)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func copyLogEntry(e *EvolutionLogEntry) *EvolutionLogEntry {
	out := *e
	if e.FromVersion != nil {
		v := *e.FromVersion
		out.FromVersion = &v
	}
	out.Changes = append(json.RawMessage(nil), e.Changes...)
	return &out
}

func (s *MemoryStore) CreateTopic(ctx context.Context, topic *Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[topic.ID]; ok {
		return types.NewError(types.ErrConflict, "topic already exists")
	}
	now := time.Now()
	topic.CreatedAt = now
	topic.UpdatedAt = now
	s.topics[topic.ID] = copyTopic(topic)
	return nil
}

func (s *MemoryStore) GetTopic(ctx context.Context, id string) (*Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topics[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "topic not found")
	}
	return copyTopic(t), nil
}

func (s *MemoryStore) ListTopics(ctx context.Context) ([]Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]Topic, 0, len(s.topics))
	for _, t := range s.topics {
		topics = append(topics, *copyTopic(t))
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].CreatedAt.Before(topics[j].CreatedAt) })
	return topics, nil
}

func (s *MemoryStore) DeleteTopic(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[id]; !ok {
		return types.NewError(types.ErrNotFound, "topic not found")
	}
	delete(s.topics, id)
	delete(s.versions, id)
	for epID, ep := range s.episodes {
		if ep.TopicID == id {
			delete(s.episodes, epID)
		}
	}
	kept := s.log[:0]
	for _, entry := range s.log {
		if entry.TopicID != id {
			kept = append(kept, entry)
		}
	}
	s.log = kept
	return nil
}

func (s *MemoryStore) CreateVersion(ctx context.Context, topicID string, config json.RawMessage, parent *int, status VersionStatus, rolloutPct int) (*StrategyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[topicID]; !ok {
		return nil, types.NewError(types.ErrNotFound, "topic not found")
	}

	next := 1
	if versions := s.versions[topicID]; len(versions) > 0 {
		next = versions[len(versions)-1].Version + 1
	}

	sv := &StrategyVersion{
		TopicID:           topicID,
		Version:           next,
		Status:            status,
		RolloutPercentage: rolloutPct,
		ParentVersion:     parent,
		Config:            append(json.RawMessage(nil), config...),
		CreatedAt:         time.Now(),
	}
	s.versions[topicID] = append(s.versions[topicID], sv)
	return copyVersion(sv), nil
}

func (s *MemoryStore) findVersion(topicID string, version int) *StrategyVersion {
	for _, v := range s.versions[topicID] {
		if v.Version == version {
			return v
		}
	}
	return nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, topicID string, version int) (*StrategyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v := s.findVersion(topicID, version); v != nil {
		return copyVersion(v), nil
	}
	return nil, types.NewError(types.ErrNotFound, "strategy version not found")
}

func (s *MemoryStore) ListVersions(ctx context.Context, topicID string) ([]StrategyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := make([]StrategyVersion, 0, len(s.versions[topicID]))
	for _, v := range s.versions[topicID] {
		versions = append(versions, *copyVersion(v))
	}
	return versions, nil
}

func (s *MemoryStore) GetActive(ctx context.Context, topicID string) (*StrategyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topics[topicID]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "topic not found")
	}
	if t.ActiveVersion == nil {
		return nil, nil
	}
	if v := s.findVersion(topicID, *t.ActiveVersion); v != nil {
		return copyVersion(v), nil
	}
	return nil, types.NewError(types.ErrNotFound, "strategy version not found")
}

func (s *MemoryStore) PromoteVersion(ctx context.Context, topicID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[topicID]
	if !ok {
		return types.NewError(types.ErrNotFound, "topic not found")
	}
	target := s.findVersion(topicID, version)
	if target == nil {
		return types.NewError(types.ErrNotFound, "strategy version not found")
	}
	if target.Status == VersionArchived {
		return types.NewError(types.ErrInvalidTransition, "cannot promote an archived version")
	}

	for _, v := range s.versions[topicID] {
		if v.Version != version && v.Status != VersionArchived {
			v.Status = VersionArchived
		}
	}
	target.Status = VersionActive
	target.RolloutPercentage = 100
	v := version
	t.ActiveVersion = &v
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ArchiveVersion(ctx context.Context, topicID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.findVersion(topicID, version)
	if target == nil {
		return types.NewError(types.ErrNotFound, "strategy version not found")
	}
	if target.Status == VersionActive {
		return types.NewError(types.ErrInvalidTransition, "cannot archive the active version; promote a replacement first")
	}
	target.Status = VersionArchived
	return nil
}

func (s *MemoryStore) SetRollout(ctx context.Context, topicID string, version int, pct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.findVersion(topicID, version)
	if target == nil {
		return types.NewError(types.ErrNotFound, "strategy version not found")
	}
	if target.Status != VersionCandidate {
		return types.NewError(types.ErrInvalidTransition, "rollout percentage can only change on a candidate")
	}
	target.RolloutPercentage = pct
	return nil
}

func (s *MemoryStore) InsertEpisode(ctx context.Context, ep *Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[ep.TopicID]; !ok {
		return types.NewError(types.ErrNotFound, "topic not found")
	}
	if _, ok := s.episodes[ep.ID]; ok {
		return types.NewError(types.ErrConflict, "episode already exists")
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	s.episodes[ep.ID] = copyEpisode(ep)
	return nil
}

func (s *MemoryStore) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.episodes[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "episode not found")
	}
	return copyEpisode(ep), nil
}

func (s *MemoryStore) UpdateEpisode(ctx context.Context, ep *Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.episodes[ep.ID]
	if !ok {
		return types.NewError(types.ErrNotFound, "episode not found")
	}
	existing.SourcesReturned = append([]string(nil), ep.SourcesReturned...)
	existing.SourcesSaved = append([]string(nil), ep.SourcesSaved...)
	existing.FollowupCount = ep.FollowupCount
	existing.Status = ep.Status
	if ep.CompletedAt != nil {
		t := *ep.CompletedAt
		existing.CompletedAt = &t
	}
	return nil
}

func (s *MemoryStore) ListEpisodes(ctx context.Context, topicID string, version int, limit int) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var episodes []Episode
	for _, ep := range s.episodes {
		if ep.TopicID == topicID && ep.StrategyVersion == version {
			episodes = append(episodes, *copyEpisode(ep))
		}
	}
	sort.Slice(episodes, func(i, j int) bool { return episodes[i].CreatedAt.After(episodes[j].CreatedAt) })
	if limit > 0 && len(episodes) > limit {
		episodes = episodes[:limit]
	}
	return episodes, nil
}

func (s *MemoryStore) ListTerminalEpisodes(ctx context.Context, topicID string, version int, limit int) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var episodes []Episode
	for _, ep := range s.episodes {
		if ep.TopicID == topicID && ep.StrategyVersion == version && ep.Status.terminal() {
			episodes = append(episodes, *copyEpisode(ep))
		}
	}
	sort.Slice(episodes, func(i, j int) bool { return episodes[i].CreatedAt.After(episodes[j].CreatedAt) })
	if limit > 0 && len(episodes) > limit {
		episodes = episodes[:limit]
	}
	return episodes, nil
}

func (s *MemoryStore) AppendLogEntry(ctx context.Context, entry *EvolutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.nextLog
	s.nextLog++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.log = append(s.log, copyLogEntry(entry))
	return nil
}

func (s *MemoryStore) ListLogEntries(ctx context.Context, topicID string) ([]EvolutionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []EvolutionLogEntry
	for _, e := range s.log {
		if e.TopicID == topicID {
			entries = append(entries, *copyLogEntry(e))
		}
	}
	return entries, nil
}

func (s *MemoryStore) PruneLogEntries(ctx context.Context, olderThan time.Time) ([]EvolutionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned []EvolutionLogEntry
	kept := s.log[:0]
	for _, e := range s.log {
		if e.CreatedAt.Before(olderThan) {
			pruned = append(pruned, *copyLogEntry(e))
		} else {
			kept = append(kept, e)
		}
	}
	s.log = kept
	return pruned, nil
}

var _ Store = (*MemoryStore)(nil)
