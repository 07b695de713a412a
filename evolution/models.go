package evolution

import (
	"encoding/json"
	"time"
)

// VersionStatus is the lifecycle state of a strategy version.
type VersionStatus string

const (
	VersionCandidate VersionStatus = "candidate"
	VersionActive    VersionStatus = "active"
	VersionArchived  VersionStatus = "archived"
)

// EpisodeStatus is the lifecycle state of a recorded execution.
type EpisodeStatus string

const (
	EpisodePending   EpisodeStatus = "pending"
	EpisodeRunning   EpisodeStatus = "running"
	EpisodeCompleted EpisodeStatus = "completed"
	EpisodeFailed    EpisodeStatus = "failed"
)

// terminal reports whether an episode status admits no further transitions.
func (s EpisodeStatus) terminal() bool {
	return s == EpisodeCompleted || s == EpisodeFailed
}

// Topic is a research subject under autonomous strategy management.
// ActiveVersion is nil until the first promotion and is written only by the
// rollout manager.
type Topic struct {
	ID            string `gorm:"primaryKey;size:36" json:"id"`
	Title         string `gorm:"size:255" json:"title"`
	ActiveVersion *int   `json:"active_version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StrategyVersion is an immutable configuration snapshot. The config payload
// is never edited in place; evolution always appends a new version. Version
// numbers start at 1 and are unique per topic, enforced by the composite
// unique index.
type StrategyVersion struct {
	ID                uint            `gorm:"primaryKey" json:"-"`
	TopicID           string          `gorm:"size:36;uniqueIndex:idx_topic_version" json:"topic_id"`
	Version           int             `gorm:"uniqueIndex:idx_topic_version" json:"version"`
	Status            VersionStatus   `gorm:"size:16;index" json:"status"`
	RolloutPercentage int             `json:"rollout_percentage"`
	ParentVersion     *int            `json:"parent_version"`
	Config            json.RawMessage `gorm:"type:json" json:"config"`

	CreatedAt time.Time `json:"created_at"`
}

// Episode is the telemetry record for one execution under a strategy version.
// The row is created when the execution starts and written once more at
// completion; terminal rows are never mutated again.
type Episode struct {
	ID              string        `gorm:"primaryKey;size:36" json:"id"`
	TopicID         string        `gorm:"size:36;index:idx_episode_topic_version" json:"topic_id"`
	StrategyVersion int           `gorm:"index:idx_episode_topic_version" json:"strategy_version"`
	Query           string        `json:"query"`
	SourcesReturned []string      `gorm:"serializer:json" json:"sources_returned"`
	SourcesSaved    []string      `gorm:"serializer:json" json:"sources_saved"`
	FollowupCount   int           `json:"followup_count"`
	Status          EpisodeStatus `gorm:"size:16;index" json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SaveRate is the fraction of returned sources that were saved, 0 when the
// execution returned nothing.
func (e *Episode) SaveRate() float64 {
	if len(e.SourcesReturned) == 0 {
		return 0
	}
	return float64(len(e.SourcesSaved)) / float64(len(e.SourcesReturned))
}

// EvolutionLogEntry is the append-only audit record of one version transition.
// FromVersion is nil for a topic's first version. Changes carries the
// structured before/after config diff and the aggregate metrics that
// justified the transition.
type EvolutionLogEntry struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	TopicID     string          `gorm:"size:36;index" json:"topic_id"`
	FromVersion *int            `json:"from_version"`
	ToVersion   int             `json:"to_version"`
	Reason      string          `json:"reason"`
	Changes     json.RawMessage `gorm:"type:json" json:"changes"`

	CreatedAt time.Time `json:"created_at"`
}

// ChangeSet is the shape of EvolutionLogEntry.Changes.
type ChangeSet struct {
	Fields  []FieldChangeEntry `json:"fields"`
	Metrics *Aggregate         `json:"metrics,omitempty"`
}

// FieldChangeEntry mirrors strategy.FieldChange for the audit payload.
type FieldChangeEntry struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// Aggregate holds the per-version performance signals the policy decides on.
type Aggregate struct {
	TopicID       string  `json:"topic_id"`
	Version       int     `json:"version"`
	TotalEpisodes int     `json:"total_episodes"`
	AvgSaveRate   float64 `json:"avg_save_rate"`
	AvgFollowups  float64 `json:"avg_followups"`
}
