package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/evoloop/evoloop/internal/database"
	"github.com/evoloop/evoloop/types"
)

// Store is the repository every engine component is built against. The GORM
// implementation below is the production store; MemoryStore serves tests and
// embedded use. Version allocation and promotion are the only operations that
// serialize; everything else may run unboundedly in parallel.
type Store interface {
	CreateTopic(ctx context.Context, topic *Topic) error
	GetTopic(ctx context.Context, id string) (*Topic, error)
	ListTopics(ctx context.Context) ([]Topic, error)
	DeleteTopic(ctx context.Context, id string) error

	// CreateVersion allocates the next version number for the topic inside a
	// transaction and persists the snapshot. A concurrent writer claiming the
	// same number surfaces as a CONFLICT error; callers retry with a fresh read.
	CreateVersion(ctx context.Context, topicID string, config json.RawMessage, parent *int, status VersionStatus, rolloutPct int) (*StrategyVersion, error)
	GetVersion(ctx context.Context, topicID string, version int) (*StrategyVersion, error)
	ListVersions(ctx context.Context, topicID string) ([]StrategyVersion, error)
	// GetActive resolves the topic's active pointer. It returns (nil, nil) for
	// a topic that has never had an active strategy; callers fall back to
	// strategy.Default().
	GetActive(ctx context.Context, topicID string) (*StrategyVersion, error)

	// PromoteVersion atomically archives every other version of the topic,
	// activates the target at 100% rollout, and moves the topic's active
	// pointer. No intermediate state is observable.
	PromoteVersion(ctx context.Context, topicID string, version int) error
	// ArchiveVersion marks a non-active version archived.
	ArchiveVersion(ctx context.Context, topicID string, version int) error
	// SetRollout adjusts a candidate's exposure percentage.
	SetRollout(ctx context.Context, topicID string, version int, pct int) error

	InsertEpisode(ctx context.Context, ep *Episode) error
	GetEpisode(ctx context.Context, id string) (*Episode, error)
	UpdateEpisode(ctx context.Context, ep *Episode) error
	// ListEpisodes returns episodes recorded against one specific version,
	// newest first, capped at limit (0 means no cap).
	ListEpisodes(ctx context.Context, topicID string, version int, limit int) ([]Episode, error)
	// ListTerminalEpisodes is ListEpisodes restricted to completed and failed
	// episodes. The limit caps terminal rows, so a backlog of pending or
	// running episodes cannot shrink an aggregation window.
	ListTerminalEpisodes(ctx context.Context, topicID string, version int, limit int) ([]Episode, error)

	AppendLogEntry(ctx context.Context, entry *EvolutionLogEntry) error
	ListLogEntries(ctx context.Context, topicID string) ([]EvolutionLogEntry, error)
	// PruneLogEntries deletes entries older than the cutoff and returns the
	// deleted rows so a retention archiver can move them to cold storage first.
	PruneLogEntries(ctx context.Context, olderThan time.Time) ([]EvolutionLogEntry, error)
}

// GormStore is the production Store backed by a relational database.
type GormStore struct {
	pool   *database.Pool
	logger *zap.Logger
}

// NewGormStore creates a Store on top of the shared connection pool.
func NewGormStore(pool *database.Pool, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "evolution_store")),
	}
}

// AutoMigrate creates or updates the engine's tables.
func (s *GormStore) AutoMigrate() error {
	return s.pool.DB().AutoMigrate(
		&Topic{},
		&StrategyVersion{},
		&Episode{},
		&EvolutionLogEntry{},
	)
}

func (s *GormStore) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

// classify maps driver errors onto the engine's error taxonomy.
func classify(err error, notFoundMsg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return types.NewError(types.ErrNotFound, notFoundMsg).WithCause(err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return types.NewError(types.ErrConflict, "concurrent writer claimed this version").WithCause(err)
	case database.IsRetryableError(err):
		return types.NewError(types.ErrStoreUnavailable, "store unavailable").WithCause(err).WithRetryable(true)
	default:
		return types.NewError(types.ErrInternalError, "store operation failed").WithCause(err)
	}
}

func (s *GormStore) CreateTopic(ctx context.Context, topic *Topic) error {
	return classify(s.db(ctx).Create(topic).Error, "topic already exists")
}

func (s *GormStore) GetTopic(ctx context.Context, id string) (*Topic, error) {
	var topic Topic
	if err := s.db(ctx).First(&topic, "id = ?", id).Error; err != nil {
		return nil, classify(err, "topic not found")
	}
	return &topic, nil
}

func (s *GormStore) ListTopics(ctx context.Context) ([]Topic, error) {
	var topics []Topic
	if err := s.db(ctx).Order("created_at ASC").Find(&topics).Error; err != nil {
		return nil, classify(err, "")
	}
	return topics, nil
}

// DeleteTopic removes the topic and cascades to its versions, episodes, and
// log entries in one transaction.
func (s *GormStore) DeleteTopic(ctx context.Context, id string) error {
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&Topic{}, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Where("topic_id = ?", id).Delete(&EvolutionLogEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("topic_id = ?", id).Delete(&Episode{}).Error; err != nil {
			return err
		}
		if err := tx.Where("topic_id = ?", id).Delete(&StrategyVersion{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Topic{}, "id = ?", id).Error
	})
	return classify(err, "topic not found")
}

func (s *GormStore) CreateVersion(ctx context.Context, topicID string, config json.RawMessage, parent *int, status VersionStatus, rolloutPct int) (*StrategyVersion, error) {
	var created StrategyVersion

	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&Topic{}, "id = ?", topicID).Error; err != nil {
			return err
		}

		var maxVersion int
		row := tx.Model(&StrategyVersion{}).
			Where("topic_id = ?", topicID).
			Select("COALESCE(MAX(version), 0)").
			Row()
		if err := row.Scan(&maxVersion); err != nil {
			return err
		}

		created = StrategyVersion{
			TopicID:           topicID,
			Version:           maxVersion + 1,
			Status:            status,
			RolloutPercentage: rolloutPct,
			ParentVersion:     parent,
			Config:            config,
		}
		// The unique (topic_id, version) index rejects a concurrent writer
		// that won the race for the same number.
		return tx.Create(&created).Error
	})
	if err != nil {
		return nil, classify(err, "topic not found")
	}

	s.logger.Debug("version created",
		zap.String("topic_id", topicID),
		zap.Int("version", created.Version),
		zap.String("status", string(created.Status)),
	)
	return &created, nil
}

func (s *GormStore) GetVersion(ctx context.Context, topicID string, version int) (*StrategyVersion, error) {
	var sv StrategyVersion
	err := s.db(ctx).First(&sv, "topic_id = ? AND version = ?", topicID, version).Error
	if err != nil {
		return nil, classify(err, "strategy version not found")
	}
	return &sv, nil
}

func (s *GormStore) ListVersions(ctx context.Context, topicID string) ([]StrategyVersion, error) {
	var versions []StrategyVersion
	err := s.db(ctx).Where("topic_id = ?", topicID).Order("version ASC").Find(&versions).Error
	if err != nil {
		return nil, classify(err, "")
	}
	return versions, nil
}

func (s *GormStore) GetActive(ctx context.Context, topicID string) (*StrategyVersion, error) {
	topic, err := s.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic.ActiveVersion == nil {
		return nil, nil
	}
	return s.GetVersion(ctx, topicID, *topic.ActiveVersion)
}

func (s *GormStore) PromoteVersion(ctx context.Context, topicID string, version int) error {
	err := s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		var target StrategyVersion
		if err := tx.First(&target, "topic_id = ? AND version = ?", topicID, version).Error; err != nil {
			return err
		}
		if target.Status == VersionArchived {
			return types.NewError(types.ErrInvalidTransition, "cannot promote an archived version")
		}

		if err := tx.Model(&StrategyVersion{}).
			Where("topic_id = ? AND version <> ? AND status <> ?", topicID, version, VersionArchived).
			Update("status", VersionArchived).Error; err != nil {
			return err
		}
		if err := tx.Model(&StrategyVersion{}).
			Where("topic_id = ? AND version = ?", topicID, version).
			Updates(map[string]any{
				"status":             VersionActive,
				"rollout_percentage": 100,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&Topic{}).
			Where("id = ?", topicID).
			Update("active_version", version).Error
	})
	if err != nil {
		if types.GetErrorCode(err) != "" {
			return err
		}
		return classify(err, "strategy version not found")
	}

	s.logger.Info("version promoted",
		zap.String("topic_id", topicID),
		zap.Int("version", version),
	)
	return nil
}

func (s *GormStore) ArchiveVersion(ctx context.Context, topicID string, version int) error {
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var target StrategyVersion
		if err := tx.First(&target, "topic_id = ? AND version = ?", topicID, version).Error; err != nil {
			return err
		}
		if target.Status == VersionActive {
			return types.NewError(types.ErrInvalidTransition, "cannot archive the active version; promote a replacement first")
		}
		return tx.Model(&StrategyVersion{}).
			Where("topic_id = ? AND version = ?", topicID, version).
			Update("status", VersionArchived).Error
	})
	if err != nil {
		if types.GetErrorCode(err) != "" {
			return err
		}
		return classify(err, "strategy version not found")
	}
	return nil
}

func (s *GormStore) SetRollout(ctx context.Context, topicID string, version int, pct int) error {
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var target StrategyVersion
		if err := tx.First(&target, "topic_id = ? AND version = ?", topicID, version).Error; err != nil {
			return err
		}
		if target.Status != VersionCandidate {
			return types.NewError(types.ErrInvalidTransition, "rollout percentage can only change on a candidate")
		}
		return tx.Model(&StrategyVersion{}).
			Where("topic_id = ? AND version = ?", topicID, version).
			Update("rollout_percentage", pct).Error
	})
	if err != nil {
		if types.GetErrorCode(err) != "" {
			return err
		}
		return classify(err, "strategy version not found")
	}
	return nil
}

func (s *GormStore) InsertEpisode(ctx context.Context, ep *Episode) error {
	return classify(s.db(ctx).Create(ep).Error, "topic not found")
}

func (s *GormStore) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	var ep Episode
	if err := s.db(ctx).First(&ep, "id = ?", id).Error; err != nil {
		return nil, classify(err, "episode not found")
	}
	return &ep, nil
}

func (s *GormStore) UpdateEpisode(ctx context.Context, ep *Episode) error {
	res := s.db(ctx).Model(&Episode{}).Where("id = ?", ep.ID).Updates(map[string]any{
		"sources_returned": ep.SourcesReturned,
		"sources_saved":    ep.SourcesSaved,
		"followup_count":   ep.FollowupCount,
		"status":           ep.Status,
		"completed_at":     ep.CompletedAt,
	})
	if res.Error != nil {
		return classify(res.Error, "episode not found")
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "episode not found")
	}
	return nil
}

func (s *GormStore) ListEpisodes(ctx context.Context, topicID string, version int, limit int) ([]Episode, error) {
	q := s.db(ctx).
		Where("topic_id = ? AND strategy_version = ?", topicID, version).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var episodes []Episode
	if err := q.Find(&episodes).Error; err != nil {
		return nil, classify(err, "")
	}
	return episodes, nil
}

func (s *GormStore) ListTerminalEpisodes(ctx context.Context, topicID string, version int, limit int) ([]Episode, error) {
	q := s.db(ctx).
		Where("topic_id = ? AND strategy_version = ? AND status IN ?",
			topicID, version, []EpisodeStatus{EpisodeCompleted, EpisodeFailed}).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var episodes []Episode
	if err := q.Find(&episodes).Error; err != nil {
		return nil, classify(err, "")
	}
	return episodes, nil
}

func (s *GormStore) AppendLogEntry(ctx context.Context, entry *EvolutionLogEntry) error {
	return classify(s.db(ctx).Create(entry).Error, "")
}

func (s *GormStore) ListLogEntries(ctx context.Context, topicID string) ([]EvolutionLogEntry, error) {
	var entries []EvolutionLogEntry
	err := s.db(ctx).Where("topic_id = ?", topicID).Order("created_at ASC, id ASC").Find(&entries).Error
	if err != nil {
		return nil, classify(err, "")
	}
	return entries, nil
}

func (s *GormStore) PruneLogEntries(ctx context.Context, olderThan time.Time) ([]EvolutionLogEntry, error) {
	var pruned []EvolutionLogEntry
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("created_at < ?", olderThan).Find(&pruned).Error; err != nil {
			return err
		}
		if len(pruned) == 0 {
			return nil
		}
		return tx.Where("created_at < ?", olderThan).Delete(&EvolutionLogEntry{}).Error
	})
	if err != nil {
		return nil, classify(err, "")
	}
	return pruned, nil
}

var _ Store = (*GormStore)(nil)
