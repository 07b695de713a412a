package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evoloop/evoloop/strategy"
	"github.com/evoloop/evoloop/types"
)

func TestAuditRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	audit := NewAuditLog(store, nil, zap.NewNop())

	before := strategy.Default()
	after := before.Clone()
	after.SearchDepth = strategy.DepthDeep

	from := 1
	metrics := &Aggregate{TopicID: topic.ID, Version: 1, TotalEpisodes: 12, AvgSaveRate: 0.2}
	entry, err := audit.Record(ctx, topic.ID, &from, 2, ReasonLowSaveRate, before, after, metrics)
	require.NoError(t, err)

	assert.Equal(t, ReasonLowSaveRate, entry.Reason)
	require.NotNil(t, entry.FromVersion)
	assert.Equal(t, 1, *entry.FromVersion)
	assert.Equal(t, 2, entry.ToVersion)

	var cs ChangeSet
	require.NoError(t, json.Unmarshal(entry.Changes, &cs))
	require.Len(t, cs.Fields, 1)
	assert.Equal(t, "search_depth", cs.Fields[0].Field)
	assert.Equal(t, "standard", cs.Fields[0].Before)
	assert.Equal(t, "deep", cs.Fields[0].After)
	require.NotNil(t, cs.Metrics)
	assert.Equal(t, 12, cs.Metrics.TotalEpisodes)

	entries, err := audit.List(ctx, topic.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type captureArchiver struct {
	entries []EvolutionLogEntry
	fail    bool
}

func (a *captureArchiver) ArchiveEntries(_ context.Context, entries []EvolutionLogEntry) error {
	if a.fail {
		return errors.New("archive backend down")
	}
	a.entries = append(a.entries, entries...)
	return nil
}

func appendAgedEntry(t *testing.T, store Store, topicID string, age time.Duration) {
	t.Helper()
	entry := &EvolutionLogEntry{
		TopicID:   topicID,
		ToVersion: 1,
		Reason:    "seed",
		Changes:   json.RawMessage(`{"fields":[]}`),
		CreatedAt: time.Now().Add(-age),
	}
	require.NoError(t, store.AppendLogEntry(context.Background(), entry))
}

func TestAuditPruneArchives(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	archiver := &captureArchiver{}
	audit := NewAuditLog(store, archiver, zap.NewNop())

	appendAgedEntry(t, store, topic.ID, 30*24*time.Hour)
	appendAgedEntry(t, store, topic.ID, time.Hour)

	pruned, err := audit.Prune(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	assert.Len(t, archiver.entries, 1)

	remaining, err := store.ListLogEntries(ctx, topic.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestAuditPruneRestoresOnArchiveFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	audit := NewAuditLog(store, &captureArchiver{fail: true}, zap.NewNop())

	appendAgedEntry(t, store, topic.ID, 30*24*time.Hour)

	_, err := audit.Prune(ctx, 7*24*time.Hour)
	require.Error(t, err)
	assert.True(t, types.IsStoreUnavailable(err))
	assert.True(t, types.IsRetryable(err))

	// The entry is back in the primary store.
	remaining, err := store.ListLogEntries(ctx, topic.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestAuditPruneNothingToDo(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	audit := NewAuditLog(store, &captureArchiver{fail: true}, zap.NewNop())

	appendAgedEntry(t, store, topic.ID, time.Hour)

	// No entries past retention, so the failing archiver is never touched.
	pruned, err := audit.Prune(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
