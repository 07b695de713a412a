package api

import (
	"github.com/evoloop/evoloop/strategy"
)

// CreateTopicRequest registers a new research topic. Config is optional; when
// omitted the topic seeds with the stock strategy.
type CreateTopicRequest struct {
	Title  string           `json:"title"`
	Config *strategy.Config `json:"config,omitempty"`
}

// RunEpisodeRequest executes one research episode through the configured
// executor.
type RunEpisodeRequest struct {
	Query string `json:"query"`
}

// ReportEpisodeRequest records the outcome of an externally executed episode.
// Version names the strategy version the episode ran under; version 0 means
// the compiled-in default.
type ReportEpisodeRequest struct {
	Version         int      `json:"version"`
	Query           string   `json:"query"`
	SourcesReturned []string `json:"sources_returned"`
	SourcesSaved    []string `json:"sources_saved"`
	FollowupCount   int      `json:"followup_count"`
	Failed          bool     `json:"failed"`
}

// RolloutRequest adjusts a candidate's rollout percentage.
type RolloutRequest struct {
	Percentage int `json:"percentage"`
}
