package evolution

// Policy reasons, recorded in the evolution log and exported as metric labels.
const (
	ReasonInsufficientData   = "insufficient data"
	ReasonLowSaveRate        = "low save rate"
	ReasonExcessiveFollowups = "excessive follow-ups"
	ReasonWithinThresholds   = "within thresholds"
)

// Thresholds are the tunable knobs of the evolution policy.
type Thresholds struct {
	// MinEpisodes is the minimum number of terminal episodes required before
	// the policy will consider evolving. Below it the answer is always
	// "insufficient data".
	MinEpisodes int `yaml:"min_episodes" json:"min_episodes"`

	// SaveRateFloor is the mean save rate below which evolution triggers.
	SaveRateFloor float64 `yaml:"save_rate_floor" json:"save_rate_floor"`

	// FollowupCeiling is the mean follow-up count above which evolution
	// triggers.
	FollowupCeiling float64 `yaml:"followup_ceiling" json:"followup_ceiling"`

	// WindowSize caps how many recent episodes feed the aggregate; 0 means
	// all episodes for the version.
	WindowSize int `yaml:"window_size" json:"window_size"`
}

// DefaultThresholds returns the stock policy settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinEpisodes:     5,
		SaveRateFloor:   0.5,
		FollowupCeiling: 5,
		WindowSize:      50,
	}
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	ShouldEvolve bool       `json:"should_evolve"`
	Reason       string     `json:"reason"`
	Metrics      *Aggregate `json:"metrics,omitempty"`
}

// Evaluate applies the thresholds to an aggregate. It is a pure function of
// its inputs: no clock, no randomness, no stored state. The same aggregate and
// thresholds always yield the same decision, which is what makes the policy
// unit-testable and its log entries reproducible.
//
// Low save rate is checked before excessive follow-ups, so when both fire the
// recorded reason is the save rate. A nil aggregate is treated as having no
// episodes.
func Evaluate(agg *Aggregate, thresholds Thresholds) Decision {
	if agg == nil || agg.TotalEpisodes < thresholds.MinEpisodes {
		return Decision{ShouldEvolve: false, Reason: ReasonInsufficientData, Metrics: agg}
	}
	if agg.AvgSaveRate < thresholds.SaveRateFloor {
		return Decision{ShouldEvolve: true, Reason: ReasonLowSaveRate, Metrics: agg}
	}
	if agg.AvgFollowups > thresholds.FollowupCeiling {
		return Decision{ShouldEvolve: true, Reason: ReasonExcessiveFollowups, Metrics: agg}
	}
	return Decision{ShouldEvolve: false, Reason: ReasonWithinThresholds, Metrics: agg}
}
