// Package evolution implements the strategy evolution feedback loop: episode
// telemetry feeds per-version aggregates, a pure policy decides when a
// strategy is underperforming, and a deterministic mutator derives candidate
// versions that move through a candidate, active, archived lifecycle with a
// full audit trail.
//
// The Engine ties the pieces together; each component (Recorder, Analyzer,
// RolloutManager, AuditLog) is usable on its own against any Store.
package evolution
