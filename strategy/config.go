package strategy

import (
	"encoding/json"
	"fmt"

	"github.com/evoloop/evoloop/types"
)

// CurrentSchemaVersion is the schema tag written to every config payload
// produced by this build. Payloads with an older tag are migrated on read.
const CurrentSchemaVersion = 2

// Search depth levels.
const (
	DepthShallow  = "shallow"
	DepthStandard = "standard"
	DepthDeep     = "deep"
)

// Time window presets.
const (
	WindowDay   = "day"
	WindowWeek  = "week"
	WindowMonth = "month"
	WindowYear  = "year"
)

// Result ranking modes.
const (
	RankRecency   = "recency"
	RankRelevance = "relevance"
	RankPrecision = "precision"
)

// Config is the versioned bundle of behavioral parameters a strategy version
// carries. Fields the engine reads or mutates are explicit; everything else a
// payload contains is preserved verbatim in Extra so unknown fields survive a
// decode/encode round trip.
type Config struct {
	SchemaVersion  int      `json:"schema_version"`
	SearchDepth    string   `json:"search_depth"`
	TimeWindow     string   `json:"time_window"`
	Model          string   `json:"model,omitempty"`
	MaxFollowups   int      `json:"max_followups"`
	ParallelSearch bool     `json:"parallel_search"`
	RankingMode    string   `json:"ranking_mode"`
	ToolAllowlist  []string `json:"tool_allowlist,omitempty"`
	OutputTemplate string   `json:"output_template,omitempty"`

	// Extra holds fields this engine does not interpret.
	Extra map[string]json.RawMessage `json:"-"`
}

// Default returns the compiled-in fallback configuration used when a topic has
// no active strategy version. This is the only behavior in the system that
// exists without a version record.
func Default() Config {
	return Config{
		SchemaVersion:  CurrentSchemaVersion,
		SearchDepth:    DepthStandard,
		TimeWindow:     WindowWeek,
		MaxFollowups:   5,
		ParallelSearch: false,
		RankingMode:    RankRelevance,
	}
}

// knownKeys are the payload keys owned by the typed fields above. Anything
// else lands in Extra.
var knownKeys = map[string]struct{}{
	"schema_version":  {},
	"search_depth":    {},
	"time_window":     {},
	"model":           {},
	"max_followups":   {},
	"parallel_search": {},
	"ranking_mode":    {},
	"tool_allowlist":  {},
	"output_template": {},
}

// configAlias avoids MarshalJSON/UnmarshalJSON recursion.
type configAlias Config

// MarshalJSON encodes the typed fields and merges Extra back in, so payloads
// round-trip without losing fields written by other tools.
func (c Config) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(configAlias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, owned := knownKeys[k]; owned {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the typed fields and captures unknown keys in Extra.
func (c *Config) UnmarshalJSON(data []byte) error {
	var alias configAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var extra map[string]json.RawMessage
	for k, v := range raw {
		if _, owned := knownKeys[k]; owned {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}

	*c = Config(alias)
	c.Extra = extra
	return nil
}

// Decode parses a persisted config payload, migrating payloads tagged with an
// older schema version to the current shape. A payload that cannot be parsed
// or fails validation after migration yields a VALIDATION error; callers treat
// the owning version as corrupt and exclude it from aggregates.
func Decode(payload []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(payload, &c); err != nil {
		return Config{}, types.NewError(types.ErrValidation, "malformed config payload").WithCause(err)
	}

	if c.SchemaVersion < CurrentSchemaVersion {
		if err := migrate(&c); err != nil {
			return Config{}, err
		}
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Encode serializes the config for persistence, stamping the current schema
// version.
func (c Config) Encode() ([]byte, error) {
	c.SchemaVersion = CurrentSchemaVersion
	return json.Marshal(c)
}

// Validate checks field values against the known enumerations.
func (c Config) Validate() error {
	switch c.SearchDepth {
	case DepthShallow, DepthStandard, DepthDeep:
	default:
		return types.NewError(types.ErrValidation, fmt.Sprintf("invalid search_depth %q", c.SearchDepth))
	}
	switch c.TimeWindow {
	case WindowDay, WindowWeek, WindowMonth, WindowYear:
	default:
		return types.NewError(types.ErrValidation, fmt.Sprintf("invalid time_window %q", c.TimeWindow))
	}
	switch c.RankingMode {
	case RankRecency, RankRelevance, RankPrecision:
	default:
		return types.NewError(types.ErrValidation, fmt.Sprintf("invalid ranking_mode %q", c.RankingMode))
	}
	if c.MaxFollowups < 0 {
		return types.NewError(types.ErrValidation, "max_followups must not be negative")
	}
	return nil
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	if c.ToolAllowlist != nil {
		out.ToolAllowlist = append([]string(nil), c.ToolAllowlist...)
	}
	if c.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// Equal reports whether two configs carry identical parameters, ignoring the
// schema version tag.
func (c Config) Equal(other Config) bool {
	c.SchemaVersion = 0
	other.SchemaVersion = 0
	a, errA := json.Marshal(c)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}
