package evolution

import (
	"github.com/evoloop/evoloop/strategy"
	"github.com/evoloop/evoloop/types"
)

// Derive produces a candidate config from the current one for a given policy
// reason. Mutations are deterministic and diff-minimal: each rule changes the
// smallest set of fields that plausibly addresses the reason, and the result
// always differs from the input. A config with no remaining mutation for the
// reason yields a VALIDATION error rather than an identical candidate.
func Derive(current strategy.Config, reason string, metrics *Aggregate) (strategy.Config, error) {
	next := current.Clone()

	switch reason {
	case ReasonLowSaveRate:
		if !mutateForLowSaveRate(&next) {
			return strategy.Config{}, types.NewError(types.ErrValidation, "config is saturated, no mutation available for low save rate")
		}
	case ReasonExcessiveFollowups:
		if !mutateForExcessiveFollowups(&next, metrics) {
			return strategy.Config{}, types.NewError(types.ErrValidation, "config is saturated, no mutation available for excessive follow-ups")
		}
	default:
		return strategy.Config{}, types.NewError(types.ErrValidation, "no mutation rule for reason: "+reason)
	}

	if err := next.Validate(); err != nil {
		return strategy.Config{}, err
	}
	if next.Equal(current) {
		return strategy.Config{}, types.NewError(types.ErrValidation, "mutation produced an identical config")
	}
	return next, nil
}

// mutateForLowSaveRate tries progressively broader retrieval. The first rule
// whose precondition holds is applied; the ordering keeps the diff to a single
// field whenever possible.
func mutateForLowSaveRate(c *strategy.Config) bool {
	if next, ok := deeperDepth(c.SearchDepth); ok {
		c.SearchDepth = next
		return true
	}
	if next, ok := widerWindow(c.TimeWindow); ok {
		c.TimeWindow = next
		return true
	}
	if c.RankingMode != strategy.RankPrecision {
		c.RankingMode = strategy.RankPrecision
		return true
	}
	if !c.ParallelSearch {
		c.ParallelSearch = true
		return true
	}
	return false
}

// mutateForExcessiveFollowups tightens the follow-up budget toward the
// observed mean, then falls back to sharpening retrieval so fewer follow-ups
// are needed in the first place.
func mutateForExcessiveFollowups(c *strategy.Config, metrics *Aggregate) bool {
	if c.MaxFollowups > 1 {
		target := c.MaxFollowups - 1
		if metrics != nil && metrics.AvgFollowups > 0 {
			if observed := int(metrics.AvgFollowups); observed >= 1 && observed < target {
				target = observed
			}
		}
		c.MaxFollowups = target
		return true
	}
	if next, ok := deeperDepth(c.SearchDepth); ok {
		c.SearchDepth = next
		return true
	}
	if c.RankingMode != strategy.RankPrecision {
		c.RankingMode = strategy.RankPrecision
		return true
	}
	return false
}

func deeperDepth(depth string) (string, bool) {
	switch depth {
	case strategy.DepthShallow:
		return strategy.DepthStandard, true
	case strategy.DepthStandard:
		return strategy.DepthDeep, true
	default:
		return "", false
	}
}

func widerWindow(window string) (string, bool) {
	switch window {
	case strategy.WindowDay:
		return strategy.WindowWeek, true
	case strategy.WindowWeek:
		return strategy.WindowMonth, true
	case strategy.WindowMonth:
		return strategy.WindowYear, true
	default:
		return "", false
	}
}
