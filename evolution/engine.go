package evolution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/evoloop/evoloop/internal/metrics"
	"github.com/evoloop/evoloop/strategy"
	"github.com/evoloop/evoloop/types"
)

// Options tunes engine behavior.
type Options struct {
	// Thresholds drive the evolution policy.
	Thresholds Thresholds

	// CandidateRollout is the rollout percentage for fresh candidates.
	CandidateRollout int

	// AutoPromote promotes a candidate immediately after creation. Off by
	// default; promotion is normally an operator action.
	AutoPromote bool

	// CheckRate limits evolution checks per topic. Zero disables limiting.
	CheckRate rate.Limit

	// CheckBurst is the burst allowance for CheckRate.
	CheckBurst int
}

// DefaultOptions returns the stock engine settings.
func DefaultOptions() Options {
	return Options{
		Thresholds:       DefaultThresholds(),
		CandidateRollout: 10,
		CheckRate:        rate.Every(10 * time.Second),
		CheckBurst:       3,
	}
}

// Engine is the evolution feedback loop: it consumes episode telemetry,
// evaluates the policy over per-version aggregates, and derives candidate
// strategy versions when performance degrades. All store writes that need
// atomicity happen inside the store; the engine itself serializes only the
// evolution check per topic.
type Engine struct {
	store    Store
	recorder *Recorder
	analyzer *Analyzer
	rollout  *RolloutManager
	audit    *AuditLog
	events   *Publisher
	executor Executor
	metrics  *metrics.Collector
	opts     Options
	logger   *zap.Logger

	// checkGroup collapses concurrent checks for the same topic into one.
	checkGroup singleflight.Group

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	// thresholdsMu guards opts.Thresholds, which config reloads may swap while
	// checks are running.
	thresholdsMu sync.RWMutex
}

// NewEngine wires the engine. executor and collector may be nil; without an
// executor only externally reported episodes flow through.
func NewEngine(store Store, analyzer *Analyzer, audit *AuditLog, events *Publisher, executor Executor, collector *metrics.Collector, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Thresholds.MinEpisodes <= 0 {
		opts.Thresholds = DefaultThresholds()
	}
	if events == nil {
		events = NewPublisher(logger)
	}
	return &Engine{
		store:    store,
		recorder: NewRecorder(store, logger),
		analyzer: analyzer,
		rollout:  NewRolloutManager(store, opts.CandidateRollout, logger),
		audit:    audit,
		events:   events,
		executor: executor,
		metrics:  collector,
		opts:     opts,
		logger:   logger.With(zap.String("component", "engine")),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Recorder exposes the telemetry recorder for callers that report episodes
// directly.
func (e *Engine) Recorder() *Recorder { return e.recorder }

// Events exposes the event publisher for watch subscribers.
func (e *Engine) Events() *Publisher { return e.events }

// Thresholds returns the policy thresholds currently in effect.
func (e *Engine) Thresholds() Thresholds {
	e.thresholdsMu.RLock()
	defer e.thresholdsMu.RUnlock()
	return e.opts.Thresholds
}

// SetThresholds swaps the policy thresholds at runtime. Invalid thresholds
// (non-positive MinEpisodes) are ignored, matching the constructor's guard.
// In-flight checks finish on the thresholds they started with.
func (e *Engine) SetThresholds(t Thresholds) {
	if t.MinEpisodes <= 0 {
		e.logger.Warn("ignoring invalid thresholds", zap.Int("min_episodes", t.MinEpisodes))
		return
	}
	e.thresholdsMu.Lock()
	defer e.thresholdsMu.Unlock()
	e.opts.Thresholds = t
}

// AnalyzeEpisode returns the advisory analysis of one episode against the
// thresholds currently in effect. The binding decision stays with the
// aggregate policy.
func (e *Engine) AnalyzeEpisode(ctx context.Context, episodeID string) (*EpisodeAnalysis, error) {
	if episodeID == "" {
		return nil, types.NewError(types.ErrValidation, "episode id must not be empty")
	}
	return e.analyzer.AnalyzeOne(ctx, episodeID, e.Thresholds())
}

// CreateTopic registers a topic and seeds version 1 as its active strategy.
// A nil config seeds the compiled-in default.
func (e *Engine) CreateTopic(ctx context.Context, title string, cfg *strategy.Config) (*Topic, *StrategyVersion, error) {
	if title == "" {
		return nil, nil, types.NewError(types.ErrValidation, "topic title must not be empty")
	}

	seed := strategy.Default()
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		seed = cfg.Clone()
	}
	payload, err := seed.Encode()
	if err != nil {
		return nil, nil, types.NewError(types.ErrInternalError, "failed to encode seed config").WithCause(err)
	}

	topic := &Topic{ID: uuid.NewString(), Title: title}
	if err := e.store.CreateTopic(ctx, topic); err != nil {
		return nil, nil, err
	}
	sv, err := e.store.CreateVersion(ctx, topic.ID, payload, nil, VersionCandidate, 100)
	if err != nil {
		return nil, nil, err
	}
	if err := e.store.PromoteVersion(ctx, topic.ID, sv.Version); err != nil {
		return nil, nil, err
	}

	sv, err = e.store.GetVersion(ctx, topic.ID, sv.Version)
	if err != nil {
		return nil, nil, err
	}
	topic, err = e.store.GetTopic(ctx, topic.ID)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info("topic created",
		zap.String("topic_id", topic.ID),
		zap.String("title", title),
	)
	return topic, sv, nil
}

// ActiveConfig resolves the config a new episode should run with. A topic
// without an active version, or with an active version whose payload is
// corrupt, falls back to the compiled-in default; the returned version is 0
// in that case so telemetry can still attribute the episode.
func (e *Engine) ActiveConfig(ctx context.Context, topicID string) (strategy.Config, int, error) {
	active, err := e.store.GetActive(ctx, topicID)
	if err != nil {
		return strategy.Config{}, 0, err
	}
	if active == nil {
		return strategy.Default(), 0, nil
	}

	cfg, err := strategy.Decode(active.Config)
	if err != nil {
		e.logger.Error("active version has corrupt config, falling back to default",
			zap.String("topic_id", topicID),
			zap.Int("version", active.Version),
			zap.Error(err),
		)
		return strategy.Default(), 0, nil
	}
	return cfg, active.Version, nil
}

// RunEpisode executes one research episode against the topic's active config
// and records its telemetry. The evolution check runs afterwards on the same
// goroutine; transient failures there never fail the episode.
func (e *Engine) RunEpisode(ctx context.Context, topicID, query string) (*Episode, error) {
	if e.executor == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "no executor configured")
	}

	cfg, version, err := e.ActiveConfig(ctx, topicID)
	if err != nil {
		return nil, err
	}

	ep, err := e.recorder.Start(ctx, topicID, version, query)
	if err != nil {
		return nil, err
	}
	if err := e.recorder.MarkRunning(ctx, ep.ID); err != nil {
		return nil, err
	}

	outcome, execErr := e.executor.Execute(ctx, topicID, cfg, query)
	if execErr != nil || (outcome != nil && outcome.Failed) {
		followups := 0
		if outcome != nil {
			followups = outcome.FollowupCount
		}
		ep, err = e.recorder.MarkFailed(ctx, ep.ID, followups)
		if err != nil {
			return nil, err
		}
		if execErr != nil {
			e.logger.Warn("episode execution failed",
				zap.String("episode_id", ep.ID),
				zap.String("topic_id", topicID),
				zap.Error(execErr),
			)
		}
	} else {
		ep, err = e.recorder.MarkCompleted(ctx, ep.ID, outcome.SourcesReturned, outcome.SourcesSaved, outcome.FollowupCount)
		if err != nil {
			return nil, err
		}
	}

	e.afterEpisode(ctx, ep)
	return ep, nil
}

// ReportEpisode records an externally executed episode and runs the evolution
// check.
func (e *Engine) ReportEpisode(ctx context.Context, topicID string, version int, outcome *Outcome) (*Episode, error) {
	if outcome == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "outcome must not be nil")
	}

	var ep *Episode
	var err error
	if outcome.Failed {
		ep, err = e.recorder.Start(ctx, topicID, version, outcome.Query)
		if err != nil {
			return nil, err
		}
		ep, err = e.recorder.MarkFailed(ctx, ep.ID, outcome.FollowupCount)
	} else {
		ep, err = e.recorder.Record(ctx, topicID, version, outcome.Query, outcome.SourcesReturned, outcome.SourcesSaved, outcome.FollowupCount)
	}
	if err != nil {
		return nil, err
	}

	e.afterEpisode(ctx, ep)
	return ep, nil
}

// afterEpisode publishes the completion event, updates metrics, and runs the
// evolution check for the episode's version.
func (e *Engine) afterEpisode(ctx context.Context, ep *Episode) {
	if e.analyzer != nil {
		// Both the unwindowed key and the window the decision path reads.
		e.analyzer.InvalidateAggregate(ctx, ep.TopicID, ep.StrategyVersion, e.Thresholds().WindowSize)
	}
	if e.metrics != nil {
		e.metrics.RecordEpisode(string(ep.Status), episodeSaveRate(ep))
	}
	e.events.Publish(Event{
		Type:      EventEpisodeCompleted,
		TopicID:   ep.TopicID,
		Version:   ep.StrategyVersion,
		EpisodeID: ep.ID,
	})

	if err := e.CheckEvolution(ctx, ep.TopicID, ep.StrategyVersion); err != nil {
		// The episode is already durable; a failed check simply defers
		// evolution to the next one.
		e.logger.Warn("evolution check failed",
			zap.String("topic_id", ep.TopicID),
			zap.Int("version", ep.StrategyVersion),
			zap.Error(err),
		)
	}
}

// CheckEvolution evaluates the policy for one topic version and derives a
// candidate when it says to. Concurrent checks for the same topic collapse
// into one, and a per-topic rate limit skips checks entirely under episode
// bursts; skipped checks are safe because the next episode re-triggers.
//
// Episodes attributed to version 0 ran on the compiled-in default and are
// never evolved from.
func (e *Engine) CheckEvolution(ctx context.Context, topicID string, version int) error {
	if version == 0 {
		return nil
	}
	if !e.allowCheck(topicID) {
		if e.metrics != nil {
			e.metrics.RecordEvolutionCheck("skipped")
		}
		return nil
	}

	key := fmt.Sprintf("%s:%d", topicID, version)
	_, err, _ := e.checkGroup.Do(key, func() (any, error) {
		return nil, e.runCheck(ctx, topicID, version)
	})
	return err
}

func (e *Engine) allowCheck(topicID string) bool {
	if e.opts.CheckRate == 0 {
		return true
	}
	e.limiterMu.Lock()
	limiter, ok := e.limiters[topicID]
	if !ok {
		limiter = rate.NewLimiter(e.opts.CheckRate, e.opts.CheckBurst)
		e.limiters[topicID] = limiter
	}
	e.limiterMu.Unlock()
	return limiter.Allow()
}

func (e *Engine) runCheck(ctx context.Context, topicID string, version int) error {
	thresholds := e.Thresholds()
	agg, err := e.analyzer.Aggregate(ctx, topicID, version, thresholds.WindowSize)
	if err != nil {
		return err
	}

	decision := Evaluate(agg, thresholds)
	if !decision.ShouldEvolve {
		if e.metrics != nil {
			e.metrics.RecordEvolutionCheck("maintain")
		}
		return nil
	}
	if e.metrics != nil {
		e.metrics.RecordEvolutionCheck("evolve")
	}

	// Only the active version spawns candidates. A degrading candidate is an
	// experiment answering its own question; it gets archived, not evolved.
	active, err := e.store.GetActive(ctx, topicID)
	if err != nil {
		return err
	}
	if active == nil || active.Version != version {
		e.logger.Debug("degrading version is not active, skipping evolution",
			zap.String("topic_id", topicID),
			zap.Int("version", version),
		)
		return nil
	}

	// One open experiment per version: if a live candidate already derives
	// from this version, wait for its verdict instead of stacking another.
	versions, err := e.store.ListVersions(ctx, topicID)
	if err != nil {
		return err
	}
	for i := range versions {
		v := &versions[i]
		if v.Status == VersionCandidate && v.ParentVersion != nil && *v.ParentVersion == version {
			e.logger.Debug("candidate already open for this version",
				zap.String("topic_id", topicID),
				zap.Int("version", version),
				zap.Int("candidate", v.Version),
			)
			return nil
		}
	}

	current, err := strategy.Decode(active.Config)
	if err != nil {
		e.logger.Error("active version has corrupt config, cannot evolve",
			zap.String("topic_id", topicID),
			zap.Int("version", version),
			zap.Error(err),
		)
		return err
	}

	next, err := Derive(current, decision.Reason, decision.Metrics)
	if err != nil {
		e.logger.Warn("no viable mutation",
			zap.String("topic_id", topicID),
			zap.Int("version", version),
			zap.String("reason", decision.Reason),
			zap.Error(err),
		)
		return err
	}

	parent := version
	candidate, err := e.rollout.CreateCandidate(ctx, topicID, next, &parent)
	if err != nil {
		return err
	}
	if _, err := e.audit.Record(ctx, topicID, &parent, candidate.Version, decision.Reason, current, next, decision.Metrics); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordEvolutionTriggered(decision.Reason)
	}
	e.events.Publish(Event{
		Type:    EventCandidateCreated,
		TopicID: topicID,
		Version: candidate.Version,
		Reason:  decision.Reason,
		Metrics: decision.Metrics,
	})

	if e.opts.AutoPromote {
		if err := e.Promote(ctx, topicID, candidate.Version); err != nil {
			return err
		}
	}
	return nil
}

// Promote makes a version active and publishes the promotion event.
func (e *Engine) Promote(ctx context.Context, topicID string, version int) error {
	if err := e.rollout.Promote(ctx, topicID, version); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordPromotion()
	}
	e.events.Publish(Event{
		Type:    EventPromoted,
		TopicID: topicID,
		Version: version,
	})
	return nil
}

// Archive retires a candidate and publishes the archive event.
func (e *Engine) Archive(ctx context.Context, topicID string, version int) error {
	if err := e.rollout.Archive(ctx, topicID, version); err != nil {
		return err
	}
	e.events.Publish(Event{
		Type:    EventArchived,
		TopicID: topicID,
		Version: version,
	})
	return nil
}

// UpdateRollout adjusts a candidate's rollout percentage.
func (e *Engine) UpdateRollout(ctx context.Context, topicID string, version int, pct int) error {
	return e.rollout.UpdateRollout(ctx, topicID, version, pct)
}

// VersionOverview pairs a version with its decoded config and aggregate.
// Config is nil when the payload is corrupt.
type VersionOverview struct {
	StrategyVersion
	DecodedConfig *strategy.Config `json:"decoded_config,omitempty"`
	Aggregate     *Aggregate       `json:"aggregate,omitempty"`
}

// TopicOverview is the full state of a topic: versions with metrics plus the
// evolution log.
type TopicOverview struct {
	Topic    Topic               `json:"topic"`
	Versions []VersionOverview   `json:"versions"`
	Log      []EvolutionLogEntry `json:"log"`
}

// Overview assembles the topic's versions, their aggregates, and the audit
// trail. Versions with corrupt configs are included but carry no decoded
// config and no aggregate; they are logged and otherwise inert.
func (e *Engine) Overview(ctx context.Context, topicID string) (*TopicOverview, error) {
	topic, err := e.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	versions, err := e.store.ListVersions(ctx, topicID)
	if err != nil {
		return nil, err
	}

	overview := &TopicOverview{Topic: *topic}
	for i := range versions {
		v := VersionOverview{StrategyVersion: versions[i]}
		cfg, decodeErr := strategy.Decode(versions[i].Config)
		if decodeErr != nil {
			e.logger.Warn("version has corrupt config, excluded from overview metrics",
				zap.String("topic_id", topicID),
				zap.Int("version", versions[i].Version),
				zap.Error(decodeErr),
			)
		} else {
			v.DecodedConfig = &cfg
			agg, aggErr := e.analyzer.Aggregate(ctx, topicID, versions[i].Version, 0)
			if aggErr != nil {
				return nil, aggErr
			}
			v.Aggregate = agg
		}
		overview.Versions = append(overview.Versions, v)
	}

	log, err := e.store.ListLogEntries(ctx, topicID)
	if err != nil {
		return nil, err
	}
	overview.Log = log
	return overview, nil
}
