package evolution

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/evoloop/evoloop/strategy"
	"github.com/evoloop/evoloop/types"
)

// RolloutManager drives the candidate -> active -> archived lifecycle. Version
// numbers are allocated by the store inside a transaction, so concurrent
// creations either serialize cleanly or surface a conflict that is retried
// here.
type RolloutManager struct {
	store          Store
	logger         *zap.Logger
	defaultRollout int
	allocAttempts  int
}

// NewRolloutManager creates a rollout manager. defaultRollout is the rollout
// percentage assigned to new candidates; values outside [0,100] fall back
// to 10.
func NewRolloutManager(store Store, defaultRollout int, logger *zap.Logger) *RolloutManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultRollout < 0 || defaultRollout > 100 {
		defaultRollout = 10
	}
	return &RolloutManager{
		store:          store,
		logger:         logger.With(zap.String("component", "rollout")),
		defaultRollout: defaultRollout,
		allocAttempts:  3,
	}
}

// CreateCandidate persists a new candidate version derived from parent. A
// version number conflict from a concurrent creation is retried with a fresh
// allocation.
func (m *RolloutManager) CreateCandidate(ctx context.Context, topicID string, config strategy.Config, parent *int) (*StrategyVersion, error) {
	payload, err := config.Encode()
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "candidate config cannot be encoded").WithCause(err)
	}

	var sv *StrategyVersion
	var lastErr error
	for i := 0; i < m.allocAttempts; i++ {
		sv, lastErr = m.store.CreateVersion(ctx, topicID, payload, parent, VersionCandidate, m.defaultRollout)
		if lastErr == nil {
			break
		}
		if !types.IsConflict(lastErr) {
			return nil, lastErr
		}
		m.logger.Debug("version allocation conflict, retrying",
			zap.String("topic_id", topicID),
			zap.Int("attempt", i+1),
		)
	}
	if lastErr != nil {
		return nil, lastErr
	}

	m.logger.Info("candidate created",
		zap.String("topic_id", topicID),
		zap.Int("version", sv.Version),
		zap.Intp("parent_version", parent),
		zap.Int("rollout_percentage", sv.RolloutPercentage),
	)
	return sv, nil
}

// Promote makes a version the topic's active strategy. The store performs the
// swap in one transaction: every other non-archived version is archived, the
// target becomes active at full rollout, and the topic's active pointer moves.
// At most one version per topic is ever active.
func (m *RolloutManager) Promote(ctx context.Context, topicID string, version int) error {
	if err := m.store.PromoteVersion(ctx, topicID, version); err != nil {
		return err
	}
	m.logger.Info("version promoted",
		zap.String("topic_id", topicID),
		zap.Int("version", version),
	)
	return nil
}

// Archive retires a candidate. The active version cannot be archived directly;
// promoting a replacement archives it.
func (m *RolloutManager) Archive(ctx context.Context, topicID string, version int) error {
	if err := m.store.ArchiveVersion(ctx, topicID, version); err != nil {
		return err
	}
	m.logger.Info("version archived",
		zap.String("topic_id", topicID),
		zap.Int("version", version),
	)
	return nil
}

// UpdateRollout adjusts the rollout percentage of a candidate.
func (m *RolloutManager) UpdateRollout(ctx context.Context, topicID string, version int, pct int) error {
	if pct < 0 || pct > 100 {
		return types.NewError(types.ErrValidation, fmt.Sprintf("rollout percentage must be in [0,100], got %d", pct))
	}
	if err := m.store.SetRollout(ctx, topicID, version, pct); err != nil {
		return err
	}
	m.logger.Info("rollout updated",
		zap.String("topic_id", topicID),
		zap.Int("version", version),
		zap.Int("rollout_percentage", pct),
	)
	return nil
}
