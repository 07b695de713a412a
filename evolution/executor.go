package evolution

import (
	"context"

	"github.com/evoloop/evoloop/strategy"
)

// Outcome is what an executor reports back after running one research episode
// with a given strategy config.
type Outcome struct {
	Query           string   `json:"query"`
	SourcesReturned []string `json:"sources_returned"`
	SourcesSaved    []string `json:"sources_saved"`
	FollowupCount   int      `json:"followup_count"`
	Failed          bool     `json:"failed"`
}

// Executor runs research episodes. The engine is deliberately ignorant of how
// execution works; it hands over a config and consumes the outcome. Execution
// backends live outside this module.
type Executor interface {
	Execute(ctx context.Context, topicID string, config strategy.Config, query string) (*Outcome, error)
}
