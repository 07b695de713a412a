package evolution

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evoloop/evoloop/strategy"
	"github.com/evoloop/evoloop/types"
)

func TestCreateCandidate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	rm := NewRolloutManager(store, 10, zap.NewNop())

	parent := 0
	sv, err := rm.CreateCandidate(ctx, topic.ID, strategy.Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sv.Version)
	assert.Equal(t, VersionCandidate, sv.Status)
	assert.Equal(t, 10, sv.RolloutPercentage)
	assert.Nil(t, sv.ParentVersion)

	parent = sv.Version
	child, err := rm.CreateCandidate(ctx, topic.ID, strategy.Default(), &parent)
	require.NoError(t, err)
	assert.Equal(t, 2, child.Version)
	require.NotNil(t, child.ParentVersion)
	assert.Equal(t, 1, *child.ParentVersion)

	// The persisted config decodes back cleanly.
	cfg, err := strategy.Decode(child.Config)
	require.NoError(t, err)
	assert.True(t, cfg.Equal(strategy.Default()))
}

func TestCreateCandidateRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	store := &conflictOnceStore{Store: NewMemoryStore()}
	topic := mustCreateTopic(t, store.Store, "t")
	rm := NewRolloutManager(store, 10, zap.NewNop())

	sv, err := rm.CreateCandidate(ctx, topic.ID, strategy.Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sv.Version)
	assert.Equal(t, 1, store.conflicts)
}

type conflictOnceStore struct {
	Store
	conflicts int
}

func (s *conflictOnceStore) CreateVersion(ctx context.Context, topicID string, config json.RawMessage, parent *int, status VersionStatus, rolloutPct int) (*StrategyVersion, error) {
	if s.conflicts == 0 {
		s.conflicts++
		return nil, types.NewError(types.ErrConflict, "concurrent writer claimed this version")
	}
	return s.Store.CreateVersion(ctx, topicID, config, parent, status, rolloutPct)
}

func TestPromoteArchivesSiblings(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	rm := NewRolloutManager(store, 10, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := rm.CreateCandidate(ctx, topic.ID, strategy.Default(), nil)
		require.NoError(t, err)
	}
	require.NoError(t, rm.Promote(ctx, topic.ID, 2))

	versions, err := store.ListVersions(ctx, topic.ID)
	require.NoError(t, err)
	for _, v := range versions {
		if v.Version == 2 {
			assert.Equal(t, VersionActive, v.Status)
			assert.Equal(t, 100, v.RolloutPercentage)
		} else {
			assert.Equal(t, VersionArchived, v.Status)
		}
	}
}

// Concurrent promotions of different versions must leave exactly one active
// version, whichever promotion lands last.
func TestConcurrentPromotionsKeepOneActive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	rm := NewRolloutManager(store, 10, zap.NewNop())

	const n = 6
	for i := 0; i < n; i++ {
		_, err := rm.CreateCandidate(ctx, topic.ID, strategy.Default(), nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for v := 1; v <= n; v++ {
		wg.Add(1)
		go func(version int) {
			defer wg.Done()
			// Losers of the race may find their target already archived.
			err := rm.Promote(ctx, topic.ID, version)
			if err != nil {
				assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
			}
		}(v)
	}
	wg.Wait()

	versions, err := store.ListVersions(ctx, topic.ID)
	require.NoError(t, err)
	activeCount := 0
	var activeVersion int
	for _, v := range versions {
		if v.Status == VersionActive {
			activeCount++
			activeVersion = v.Version
		}
	}
	require.Equal(t, 1, activeCount)

	tp, err := store.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	require.NotNil(t, tp.ActiveVersion)
	assert.Equal(t, activeVersion, *tp.ActiveVersion)
}

func TestUpdateRolloutValidation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	rm := NewRolloutManager(store, 10, zap.NewNop())

	_, err := rm.CreateCandidate(ctx, topic.ID, strategy.Default(), nil)
	require.NoError(t, err)

	require.NoError(t, rm.UpdateRollout(ctx, topic.ID, 1, 0))
	require.NoError(t, rm.UpdateRollout(ctx, topic.ID, 1, 100))

	err = rm.UpdateRollout(ctx, topic.ID, 1, 101)
	assert.True(t, types.IsValidation(err))
	err = rm.UpdateRollout(ctx, topic.ID, 1, -1)
	assert.True(t, types.IsValidation(err))
}

func TestArchiveCandidate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	rm := NewRolloutManager(store, 10, zap.NewNop())

	_, err := rm.CreateCandidate(ctx, topic.ID, strategy.Default(), nil)
	require.NoError(t, err)
	require.NoError(t, rm.Archive(ctx, topic.ID, 1))

	sv, err := store.GetVersion(ctx, topic.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, VersionArchived, sv.Status)
}
