package evolution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evoloop/evoloop/internal/cache"
)

func seedEpisode(t *testing.T, store Store, topicID string, version int, status EpisodeStatus, returned, saved int, followups int) {
	t.Helper()
	sources := func(n, prefix int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("s%d-%d", prefix, i)
		}
		return out
	}
	now := time.Now()
	ep := &Episode{
		ID:              uuid.NewString(),
		TopicID:         topicID,
		StrategyVersion: version,
		Query:           "q",
		SourcesReturned: sources(returned, 0),
		SourcesSaved:    sources(saved, 0),
		FollowupCount:   followups,
		Status:          status,
		CreatedAt:       now,
	}
	if status.terminal() {
		ep.CompletedAt = &now
	}
	require.NoError(t, store.InsertEpisode(context.Background(), ep))
}

func TestAnalyzerAggregate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	analyzer := NewAnalyzer(store, nil, zap.NewNop())

	// Two completed episodes at 0.5 and 1.0, one failed, one still running.
	seedEpisode(t, store, topic.ID, 1, EpisodeCompleted, 4, 2, 2)
	seedEpisode(t, store, topic.ID, 1, EpisodeCompleted, 3, 3, 4)
	seedEpisode(t, store, topic.ID, 1, EpisodeFailed, 5, 5, 6)
	seedEpisode(t, store, topic.ID, 1, EpisodeRunning, 2, 2, 0)

	agg, err := analyzer.Aggregate(ctx, topic.ID, 1, 0)
	require.NoError(t, err)

	// The failed episode counts with a forced zero save rate; the running one
	// is excluded entirely.
	assert.Equal(t, 3, agg.TotalEpisodes)
	assert.InDelta(t, 0.5, agg.AvgSaveRate, 1e-9)
	assert.InDelta(t, 4.0, agg.AvgFollowups, 1e-9)
}

func TestAnalyzerAggregateScopedToVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	analyzer := NewAnalyzer(store, nil, zap.NewNop())

	seedEpisode(t, store, topic.ID, 1, EpisodeCompleted, 4, 0, 0)
	seedEpisode(t, store, topic.ID, 2, EpisodeCompleted, 4, 4, 0)

	agg, err := analyzer.Aggregate(ctx, topic.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TotalEpisodes)
	assert.InDelta(t, 1.0, agg.AvgSaveRate, 1e-9)
}

func TestAnalyzerAggregateEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	analyzer := NewAnalyzer(store, nil, zap.NewNop())

	agg, err := analyzer.Aggregate(ctx, topic.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, agg.TotalEpisodes)
	assert.Zero(t, agg.AvgSaveRate)
}

func TestAnalyzerCaching(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cm := cache.NewManagerWithClient(client, cache.DefaultConfig(), zap.NewNop())
	t.Cleanup(func() { _ = cm.Close() })

	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	analyzer := NewAnalyzer(store, cm, zap.NewNop())

	seedEpisode(t, store, topic.ID, 1, EpisodeCompleted, 2, 1, 0)

	first, err := analyzer.Aggregate(ctx, topic.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalEpisodes)

	// A second read within the TTL comes from the cache and misses new data.
	seedEpisode(t, store, topic.ID, 1, EpisodeCompleted, 2, 2, 0)
	second, err := analyzer.Aggregate(ctx, topic.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, second.TotalEpisodes)

	// Invalidation forces a recompute.
	analyzer.InvalidateAggregate(ctx, topic.ID, 1)
	third, err := analyzer.Aggregate(ctx, topic.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, third.TotalEpisodes)
}

func TestAnalyzerInvalidationCoversWindowedReads(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cm := cache.NewManagerWithClient(client, cache.DefaultConfig(), zap.NewNop())
	t.Cleanup(func() { _ = cm.Close() })

	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	analyzer := NewAnalyzer(store, cm, zap.NewNop())
	window := DefaultThresholds().WindowSize

	seedEpisode(t, store, topic.ID, 1, EpisodeCompleted, 2, 1, 0)
	first, err := analyzer.Aggregate(ctx, topic.ID, 1, window)
	require.NoError(t, err)
	require.Equal(t, 1, first.TotalEpisodes)

	// Invalidation names the window, so the windowed key the decision path
	// reads is dropped along with the unwindowed one.
	seedEpisode(t, store, topic.ID, 1, EpisodeCompleted, 2, 2, 0)
	analyzer.InvalidateAggregate(ctx, topic.ID, 1, window)

	agg, err := analyzer.Aggregate(ctx, topic.ID, 1, window)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.TotalEpisodes)
}

func TestAnalyzerWindowCountsOnlyTerminalEpisodes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	analyzer := NewAnalyzer(store, nil, zap.NewNop())

	// Four terminal episodes, then a newer backlog of in-flight work.
	for i := 0; i < 4; i++ {
		seedEpisode(t, store, topic.ID, 1, EpisodeCompleted, 2, 1, 0)
	}
	seedEpisode(t, store, topic.ID, 1, EpisodePending, 0, 0, 0)
	seedEpisode(t, store, topic.ID, 1, EpisodePending, 0, 0, 0)
	seedEpisode(t, store, topic.ID, 1, EpisodeRunning, 0, 0, 0)

	// The window caps terminal episodes; in-flight rows cannot crowd them out.
	agg, err := analyzer.Aggregate(ctx, topic.ID, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, agg.TotalEpisodes)
	assert.InDelta(t, 0.5, agg.AvgSaveRate, 1e-9)
}

func TestAnalyzeOne(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	topic := mustCreateTopic(t, store, "t")
	analyzer := NewAnalyzer(store, nil, zap.NewNop())
	thresholds := DefaultThresholds()

	tests := []struct {
		name           string
		status         EpisodeStatus
		returned       int
		saved          int
		followups      int
		recommendation string
		reason         string
	}{
		{"healthy", EpisodeCompleted, 4, 3, 2, RecommendKeep, ReasonWithinThresholds},
		{"low save rate", EpisodeCompleted, 10, 1, 2, RecommendEvolve, ReasonLowSaveRate},
		{"too many followups", EpisodeCompleted, 4, 4, 9, RecommendEvolve, ReasonExcessiveFollowups},
		{"failed", EpisodeFailed, 4, 4, 2, RecommendEvolve, ReasonLowSaveRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seedEpisode(t, store, topic.ID, 1, tt.status, tt.returned, tt.saved, tt.followups)
			episodes, err := store.ListEpisodes(ctx, topic.ID, 1, 1)
			require.NoError(t, err)
			require.Len(t, episodes, 1)

			analysis, err := analyzer.AnalyzeOne(ctx, episodes[0].ID, thresholds)
			require.NoError(t, err)
			assert.Equal(t, tt.recommendation, analysis.Recommendation)
			assert.Equal(t, tt.reason, analysis.Reason)
		})
	}
}
