package evolution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/evoloop/evoloop/internal/cache"
)

// Analyzer computes per-episode and aggregate performance signals. Aggregates
// are scoped to one strategy version so metrics never mix data from different
// configurations. When a cache is attached, aggregates are served from it with
// a short TTL; a slightly stale aggregate is acceptable to the policy.
type Analyzer struct {
	store  Store
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// EpisodeAnalysis is the advisory result of evaluating a single episode. The
// binding decision is always the aggregate-based policy.
type EpisodeAnalysis struct {
	EpisodeID      string  `json:"episode_id"`
	SaveRate       float64 `json:"save_rate"`
	FollowupCount  int     `json:"followup_count"`
	Recommendation string  `json:"recommendation"`
	Reason         string  `json:"reason"`
}

// Recommendation values for EpisodeAnalysis.
const (
	RecommendEvolve = "evolve"
	RecommendKeep   = "keep"
)

// NewAnalyzer creates an analyzer. The cache may be nil.
func NewAnalyzer(store Store, cacheManager *cache.Manager, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		store:  store,
		cache:  cacheManager,
		ttl:    30 * time.Second,
		logger: logger.With(zap.String("component", "analyzer")),
	}
}

// episodeSaveRate applies the failed-episode rule: a failed execution counts
// as zero save rate regardless of what it returned.
func episodeSaveRate(ep *Episode) float64 {
	if ep.Status == EpisodeFailed {
		return 0
	}
	return ep.SaveRate()
}

// Aggregate computes the mean save rate and follow-up count over the terminal
// episodes recorded against one version. sinceCount limits the window to the
// most recent N episodes; 0 means all.
func (a *Analyzer) Aggregate(ctx context.Context, topicID string, version int, sinceCount int) (*Aggregate, error) {
	key := fmt.Sprintf("agg:%s:%d:%d", topicID, version, sinceCount)
	if a.cache != nil {
		var cached Aggregate
		if err := a.cache.GetJSON(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			a.logger.Warn("aggregate cache read failed", zap.Error(err))
		}
	}

	episodes, err := a.store.ListTerminalEpisodes(ctx, topicID, version, sinceCount)
	if err != nil {
		return nil, err
	}

	agg := &Aggregate{TopicID: topicID, Version: version}
	var sumSave, sumFollowups float64
	for i := range episodes {
		ep := &episodes[i]
		agg.TotalEpisodes++
		sumSave += episodeSaveRate(ep)
		sumFollowups += float64(ep.FollowupCount)
	}
	if agg.TotalEpisodes > 0 {
		agg.AvgSaveRate = sumSave / float64(agg.TotalEpisodes)
		agg.AvgFollowups = sumFollowups / float64(agg.TotalEpisodes)
	}

	if a.cache != nil {
		if err := a.cache.SetJSON(ctx, key, agg, a.ttl); err != nil {
			a.logger.Warn("aggregate cache write failed", zap.Error(err))
		}
	}
	return agg, nil
}

// InvalidateAggregate drops cached aggregates for a version after new
// telemetry lands. Cache keys are per window size, so callers pass every
// window they read through; the unwindowed key is always included. Windows
// nobody names age out via TTL.
func (a *Analyzer) InvalidateAggregate(ctx context.Context, topicID string, version int, windows ...int) {
	if a.cache == nil {
		return
	}
	keys := []string{
		fmt.Sprintf("agg:%s:%d:0", topicID, version),
	}
	for _, w := range windows {
		if w != 0 {
			keys = append(keys, fmt.Sprintf("agg:%s:%d:%d", topicID, version, w))
		}
	}
	if err := a.cache.Delete(ctx, keys...); err != nil {
		a.logger.Warn("aggregate cache invalidation failed", zap.Error(err))
	}
}

// AnalyzeOne evaluates one episode against the fixed advisory thresholds for
// fast feedback, without waiting for aggregate volume.
func (a *Analyzer) AnalyzeOne(ctx context.Context, episodeID string, thresholds Thresholds) (*EpisodeAnalysis, error) {
	ep, err := a.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	analysis := &EpisodeAnalysis{
		EpisodeID:     ep.ID,
		SaveRate:      episodeSaveRate(ep),
		FollowupCount: ep.FollowupCount,
	}

	switch {
	case analysis.SaveRate < thresholds.SaveRateFloor:
		analysis.Recommendation = RecommendEvolve
		analysis.Reason = ReasonLowSaveRate
	case float64(analysis.FollowupCount) > thresholds.FollowupCeiling:
		analysis.Recommendation = RecommendEvolve
		analysis.Reason = ReasonExcessiveFollowups
	default:
		analysis.Recommendation = RecommendKeep
		analysis.Reason = ReasonWithinThresholds
	}
	return analysis, nil
}
