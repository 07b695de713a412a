package evolution

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/evoloop/evoloop/strategy"
	"github.com/evoloop/evoloop/types"
)

// Archiver receives pruned audit entries before they are dropped from the
// primary store. Implementations must be durable; a prune aborts if archiving
// fails.
type Archiver interface {
	ArchiveEntries(ctx context.Context, entries []EvolutionLogEntry) error
}

// AuditLog records every evolution step: which version derived which, why, and
// the exact field-level changes. Entries are append-only.
type AuditLog struct {
	store    Store
	archiver Archiver
	logger   *zap.Logger
}

// NewAuditLog creates an audit log. The archiver may be nil, in which case
// Prune deletes without archiving.
func NewAuditLog(store Store, archiver Archiver, logger *zap.Logger) *AuditLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLog{
		store:    store,
		archiver: archiver,
		logger:   logger.With(zap.String("component", "audit")),
	}
}

// Record appends one audit entry describing a transition from the parent
// config to the derived one, with the aggregate that motivated it.
func (a *AuditLog) Record(ctx context.Context, topicID string, fromVersion *int, toVersion int, reason string, before, after strategy.Config, metrics *Aggregate) (*EvolutionLogEntry, error) {
	changeSet := ChangeSet{Metrics: metrics}
	for _, fc := range strategy.Diff(before, after) {
		changeSet.Fields = append(changeSet.Fields, FieldChangeEntry{
			Field:  fc.Field,
			Before: fc.Before,
			After:  fc.After,
		})
	}
	changes, err := json.Marshal(changeSet)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode change set").WithCause(err)
	}

	entry := &EvolutionLogEntry{
		TopicID:     topicID,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Reason:      reason,
		Changes:     changes,
		CreatedAt:   time.Now(),
	}
	if err := a.store.AppendLogEntry(ctx, entry); err != nil {
		return nil, err
	}

	a.logger.Info("evolution recorded",
		zap.String("topic_id", topicID),
		zap.Intp("from_version", fromVersion),
		zap.Int("to_version", toVersion),
		zap.String("reason", reason),
		zap.Int("changed_fields", len(changeSet.Fields)),
	)
	return entry, nil
}

// List returns the audit trail for a topic in chronological order.
func (a *AuditLog) List(ctx context.Context, topicID string) ([]EvolutionLogEntry, error) {
	return a.store.ListLogEntries(ctx, topicID)
}

// Prune moves entries older than the retention window out of the primary
// store. With an archiver attached, pruned entries go to the archive; when the
// archive write fails the entries are restored and the prune reports an error,
// so the trail stays intact somewhere. Returns the number of entries pruned.
func (a *AuditLog) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	entries, err := a.store.PruneLogEntries(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if a.archiver != nil {
		if err := a.archiver.ArchiveEntries(ctx, entries); err != nil {
			for i := range entries {
				if restoreErr := a.store.AppendLogEntry(ctx, &entries[i]); restoreErr != nil {
					a.logger.Error("failed to restore audit entry after archive failure",
						zap.String("topic_id", entries[i].TopicID),
						zap.Int("to_version", entries[i].ToVersion),
						zap.Error(restoreErr),
					)
				}
			}
			return 0, types.NewError(types.ErrStoreUnavailable, "audit archive failed, prune rolled back").WithCause(err).WithRetryable(true)
		}
	}
	a.logger.Info("audit entries pruned",
		zap.Int("count", len(entries)),
		zap.Time("cutoff", cutoff),
	)
	return len(entries), nil
}
