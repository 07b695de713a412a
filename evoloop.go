// Package evoloop provides a top-level convenience entry point for building
// an evolution engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/evoloop/evoloop"
//
//	eng, err := evoloop.New()
//	eng, err := evoloop.New(evoloop.WithStore(store), evoloop.WithAutoPromote())
//
// The zero-option form runs entirely in memory: useful for embedding the
// feedback loop in another process or for tests. Production deployments use
// cmd/evoloop, which wires the relational store, cache, and HTTP surface from
// configuration.
package evoloop

import (
	"go.uber.org/zap"

	"github.com/evoloop/evoloop/evolution"
)

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	store       evolution.Store
	executor    evolution.Executor
	logger      *zap.Logger
	thresholds  *evolution.Thresholds
	rollout     int
	autoPromote bool
}

// WithStore sets the backing store. Defaults to an in-memory store.
func WithStore(store evolution.Store) Option {
	return func(o *options) { o.store = store }
}

// WithExecutor sets the episode executor so the engine can run queries
// itself. Without one, only externally reported episodes flow through.
func WithExecutor(executor evolution.Executor) Option {
	return func(o *options) { o.executor = executor }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithThresholds overrides the evolution policy thresholds.
func WithThresholds(t evolution.Thresholds) Option {
	return func(o *options) { o.thresholds = &t }
}

// WithCandidateRollout sets the rollout percentage for fresh candidates.
func WithCandidateRollout(pct int) Option {
	return func(o *options) { o.rollout = pct }
}

// WithAutoPromote promotes candidates immediately after creation instead of
// waiting for an operator action.
func WithAutoPromote() Option {
	return func(o *options) { o.autoPromote = true }
}

// New creates an evolution engine with minimal configuration.
func New(opts ...Option) (*evolution.Engine, error) {
	o := &options{
		rollout: evolution.DefaultOptions().CandidateRollout,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.store == nil {
		o.store = evolution.NewMemoryStore()
	}

	engineOpts := evolution.DefaultOptions()
	if o.thresholds != nil {
		engineOpts.Thresholds = *o.thresholds
	}
	engineOpts.CandidateRollout = o.rollout
	engineOpts.AutoPromote = o.autoPromote
	// Embedded engines check on demand rather than behind a request surface,
	// so the per-topic limiter stays off.
	engineOpts.CheckRate = 0

	analyzer := evolution.NewAnalyzer(o.store, nil, o.logger)
	audit := evolution.NewAuditLog(o.store, nil, o.logger)
	events := evolution.NewPublisher(o.logger)

	return evolution.NewEngine(o.store, analyzer, audit, events, o.executor, nil, engineOpts, o.logger), nil
}
