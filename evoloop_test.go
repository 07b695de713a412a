package evoloop_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evoloop/evoloop"
	"github.com/evoloop/evoloop/evolution"
)

func reportBadEpisodes(t *testing.T, eng *evolution.Engine, topicID string, version, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := eng.ReportEpisode(context.Background(), topicID, version, &evolution.Outcome{
			Query:           "query",
			SourcesReturned: []string{"a", "b", "c", "d"},
			SourcesSaved:    nil,
			FollowupCount:   8,
		})
		require.NoError(t, err)
	}
}

func TestNewDefaultsToMemoryStore(t *testing.T) {
	eng, err := evoloop.New()
	require.NoError(t, err)

	topic, version, err := eng.CreateTopic(context.Background(), "embedded topic", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, topic.ID)
	assert.Equal(t, 1, version.Version)
}

func TestNewEvolvesOnDegradedPerformance(t *testing.T) {
	store := evolution.NewMemoryStore()
	eng, err := evoloop.New(evoloop.WithStore(store))
	require.NoError(t, err)

	topic, _, err := eng.CreateTopic(context.Background(), "degrading topic", nil)
	require.NoError(t, err)

	reportBadEpisodes(t, eng, topic.ID, 1, 6)

	versions, err := store.ListVersions(context.Background(), topic.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, evolution.VersionCandidate, versions[1].Status)

	// v1 stays active until an operator promotes.
	active, err := store.GetActive(context.Background(), topic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version)
}

func TestNewWithAutoPromote(t *testing.T) {
	store := evolution.NewMemoryStore()
	eng, err := evoloop.New(evoloop.WithStore(store), evoloop.WithAutoPromote())
	require.NoError(t, err)

	topic, _, err := eng.CreateTopic(context.Background(), "auto promote", nil)
	require.NoError(t, err)

	reportBadEpisodes(t, eng, topic.ID, 1, 6)

	active, err := store.GetActive(context.Background(), topic.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)
}

func TestNewWithThresholds(t *testing.T) {
	store := evolution.NewMemoryStore()
	eng, err := evoloop.New(
		evoloop.WithStore(store),
		evoloop.WithThresholds(evolution.Thresholds{
			MinEpisodes:     3,
			SaveRateFloor:   0.5,
			FollowupCeiling: 5,
			WindowSize:      10,
		}),
	)
	require.NoError(t, err)

	topic, _, err := eng.CreateTopic(context.Background(), "custom thresholds", nil)
	require.NoError(t, err)

	reportBadEpisodes(t, eng, topic.ID, 1, 3)

	versions, err := store.ListVersions(context.Background(), topic.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}
