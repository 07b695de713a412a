package evolution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evoloop/evoloop/types"
)

// Recorder appends episode telemetry. Terminal writes are the feedback loop's
// source of truth, so they retry with backoff when the store is transiently
// unavailable; a lost episode degrades only future evolution, never the
// execution that produced it.
type Recorder struct {
	store      Store
	logger     *zap.Logger
	maxRetries int
}

// NewRecorder creates a telemetry recorder.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:      store,
		logger:     logger.With(zap.String("component", "telemetry")),
		maxRetries: 3,
	}
}

// Start registers a pending episode at execution start and returns it.
func (r *Recorder) Start(ctx context.Context, topicID string, strategyVersion int, query string) (*Episode, error) {
	ep := &Episode{
		ID:              uuid.NewString(),
		TopicID:         topicID,
		StrategyVersion: strategyVersion,
		Query:           query,
		Status:          EpisodePending,
		CreatedAt:       time.Now(),
	}
	if err := r.withRetry(ctx, func() error { return r.store.InsertEpisode(ctx, ep) }); err != nil {
		return nil, err
	}
	return ep, nil
}

// Record writes a completed episode in one shot, for callers that report only
// at execution end.
func (r *Recorder) Record(ctx context.Context, topicID string, strategyVersion int, query string, sourcesReturned, sourcesSaved []string, followupCount int) (*Episode, error) {
	now := time.Now()
	ep := &Episode{
		ID:              uuid.NewString(),
		TopicID:         topicID,
		StrategyVersion: strategyVersion,
		Query:           query,
		SourcesReturned: sourcesReturned,
		SourcesSaved:    sourcesSaved,
		FollowupCount:   followupCount,
		Status:          EpisodeCompleted,
		CreatedAt:       now,
		CompletedAt:     &now,
	}
	if err := r.withRetry(ctx, func() error { return r.store.InsertEpisode(ctx, ep) }); err != nil {
		return nil, err
	}
	r.logger.Debug("episode recorded",
		zap.String("episode_id", ep.ID),
		zap.String("topic_id", topicID),
		zap.Int("strategy_version", strategyVersion),
		zap.Float64("save_rate", ep.SaveRate()),
	)
	return ep, nil
}

// MarkRunning transitions a pending episode to running.
func (r *Recorder) MarkRunning(ctx context.Context, episodeID string) error {
	return r.transition(ctx, episodeID, func(ep *Episode) error {
		ep.Status = EpisodeRunning
		return nil
	})
}

// MarkCompleted writes the final counts for an episode. Terminal episodes are
// immutable; a second completion is rejected.
func (r *Recorder) MarkCompleted(ctx context.Context, episodeID string, sourcesReturned, sourcesSaved []string, followupCount int) (*Episode, error) {
	var result *Episode
	err := r.transition(ctx, episodeID, func(ep *Episode) error {
		now := time.Now()
		ep.SourcesReturned = sourcesReturned
		ep.SourcesSaved = sourcesSaved
		ep.FollowupCount = followupCount
		ep.Status = EpisodeCompleted
		ep.CompletedAt = &now
		result = ep
		return nil
	})
	return result, err
}

// MarkFailed records a failed execution. The episode still counts toward
// aggregates with a zero save rate and its observed follow-up count, so
// silent degradation stays visible to the policy.
func (r *Recorder) MarkFailed(ctx context.Context, episodeID string, followupCount int) (*Episode, error) {
	var result *Episode
	err := r.transition(ctx, episodeID, func(ep *Episode) error {
		now := time.Now()
		ep.FollowupCount = followupCount
		ep.Status = EpisodeFailed
		ep.CompletedAt = &now
		result = ep
		return nil
	})
	return result, err
}

func (r *Recorder) transition(ctx context.Context, episodeID string, apply func(*Episode) error) error {
	ep, err := r.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	if ep.Status.terminal() {
		return types.NewError(types.ErrInvalidTransition, "episode is already terminal")
	}
	if err := apply(ep); err != nil {
		return err
	}
	return r.withRetry(ctx, func() error { return r.store.UpdateEpisode(ctx, ep) })
}

func (r *Recorder) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < r.maxRetries; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !types.IsRetryable(lastErr) {
			return lastErr
		}

		r.logger.Warn("episode write failed, retrying",
			zap.Int("attempt", i+1),
			zap.Error(lastErr),
		)

		backoff := time.Duration(1<<uint(i)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}
