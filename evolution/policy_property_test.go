package evolution

import (
	"testing"

	"pgregory.net/rapid"
)

func aggregateGen() *rapid.Generator[*Aggregate] {
	return rapid.Custom(func(t *rapid.T) *Aggregate {
		return &Aggregate{
			TotalEpisodes: rapid.IntRange(0, 500).Draw(t, "episodes"),
			AvgSaveRate:   rapid.Float64Range(0, 1).Draw(t, "save_rate"),
			AvgFollowups:  rapid.Float64Range(0, 30).Draw(t, "followups"),
		}
	})
}

func thresholdsGen() *rapid.Generator[Thresholds] {
	return rapid.Custom(func(t *rapid.T) Thresholds {
		return Thresholds{
			MinEpisodes:     rapid.IntRange(1, 50).Draw(t, "min_episodes"),
			SaveRateFloor:   rapid.Float64Range(0, 1).Draw(t, "floor"),
			FollowupCeiling: rapid.Float64Range(0, 30).Draw(t, "ceiling"),
		}
	})
}

// The policy is a pure function: evaluating twice with the same inputs yields
// the same decision.
func TestEvaluateIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		agg := aggregateGen().Draw(t, "agg")
		thresholds := thresholdsGen().Draw(t, "thresholds")

		first := Evaluate(agg, thresholds)
		second := Evaluate(agg, thresholds)
		if first.ShouldEvolve != second.ShouldEvolve || first.Reason != second.Reason {
			t.Fatalf("decision changed between evaluations: %+v vs %+v", first, second)
		}
	})
}

// Below the episode minimum the policy never evolves, whatever the metrics say.
func TestEvaluateNeverEvolvesOnThinData(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		thresholds := thresholdsGen().Draw(t, "thresholds")
		agg := aggregateGen().Draw(t, "agg")
		agg.TotalEpisodes = rapid.IntRange(0, thresholds.MinEpisodes-1).Draw(t, "thin")

		decision := Evaluate(agg, thresholds)
		if decision.ShouldEvolve {
			t.Fatalf("evolved with %d episodes, minimum %d", agg.TotalEpisodes, thresholds.MinEpisodes)
		}
		if decision.Reason != ReasonInsufficientData {
			t.Fatalf("unexpected reason %q", decision.Reason)
		}
	})
}

// Every decision carries one of the four known reasons, and ShouldEvolve is
// consistent with the reason.
func TestEvaluateReasonConsistency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		agg := aggregateGen().Draw(t, "agg")
		thresholds := thresholdsGen().Draw(t, "thresholds")

		decision := Evaluate(agg, thresholds)
		switch decision.Reason {
		case ReasonLowSaveRate, ReasonExcessiveFollowups:
			if !decision.ShouldEvolve {
				t.Fatalf("degrading reason %q without evolve", decision.Reason)
			}
		case ReasonInsufficientData, ReasonWithinThresholds:
			if decision.ShouldEvolve {
				t.Fatalf("stable reason %q with evolve", decision.Reason)
			}
		default:
			t.Fatalf("unknown reason %q", decision.Reason)
		}
	})
}
