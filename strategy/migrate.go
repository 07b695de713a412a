package strategy

import (
	"encoding/json"
	"fmt"

	"github.com/evoloop/evoloop/types"
)

// migrate upgrades a decoded config from its tagged schema version to the
// current one, one step at a time.
func migrate(c *Config) error {
	for c.SchemaVersion < CurrentSchemaVersion {
		switch c.SchemaVersion {
		case 0, 1:
			if err := migrateV1(c); err != nil {
				return err
			}
			c.SchemaVersion = 2
		default:
			return types.NewError(types.ErrValidation,
				fmt.Sprintf("no migration from schema version %d", c.SchemaVersion))
		}
	}
	return nil
}

// migrateV1 upgrades schema v1 payloads (and untagged v0 payloads, which share
// its shape):
//   - search_depth used low/med/high instead of shallow/standard/deep
//   - the follow-up budget lived under "followup_budget"
//   - ranking_mode did not exist; relevance is the historical behavior
func migrateV1(c *Config) error {
	switch c.SearchDepth {
	case "low":
		c.SearchDepth = DepthShallow
	case "med":
		c.SearchDepth = DepthStandard
	case "high":
		c.SearchDepth = DepthDeep
	case "":
		c.SearchDepth = DepthStandard
	}

	if raw, ok := c.Extra["followup_budget"]; ok {
		var budget int
		if err := json.Unmarshal(raw, &budget); err != nil {
			return types.NewError(types.ErrValidation, "invalid followup_budget in v1 payload").WithCause(err)
		}
		c.MaxFollowups = budget
		delete(c.Extra, "followup_budget")
		if len(c.Extra) == 0 {
			c.Extra = nil
		}
	}

	if c.TimeWindow == "" {
		c.TimeWindow = WindowWeek
	}
	if c.RankingMode == "" {
		c.RankingMode = RankRelevance
	}
	return nil
}
