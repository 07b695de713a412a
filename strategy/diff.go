package strategy

import (
	"encoding/json"
	"sort"
)

// FieldChange records a single field's before/after values in a config diff.
type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// Diff computes the structured field-level difference between two configs.
// The schema version tag is not part of the diff. Unknown fields carried in
// Extra are compared byte-wise.
func Diff(before, after Config) []FieldChange {
	var changes []FieldChange

	add := func(field string, b, a any) {
		changes = append(changes, FieldChange{Field: field, Before: b, After: a})
	}

	if before.SearchDepth != after.SearchDepth {
		add("search_depth", before.SearchDepth, after.SearchDepth)
	}
	if before.TimeWindow != after.TimeWindow {
		add("time_window", before.TimeWindow, after.TimeWindow)
	}
	if before.Model != after.Model {
		add("model", before.Model, after.Model)
	}
	if before.MaxFollowups != after.MaxFollowups {
		add("max_followups", before.MaxFollowups, after.MaxFollowups)
	}
	if before.ParallelSearch != after.ParallelSearch {
		add("parallel_search", before.ParallelSearch, after.ParallelSearch)
	}
	if before.RankingMode != after.RankingMode {
		add("ranking_mode", before.RankingMode, after.RankingMode)
	}
	if !stringSlicesEqual(before.ToolAllowlist, after.ToolAllowlist) {
		add("tool_allowlist", before.ToolAllowlist, after.ToolAllowlist)
	}
	if before.OutputTemplate != after.OutputTemplate {
		add("output_template", before.OutputTemplate, after.OutputTemplate)
	}

	for _, key := range extraKeys(before, after) {
		b, inBefore := before.Extra[key]
		a, inAfter := after.Extra[key]
		if inBefore && inAfter && string(b) == string(a) {
			continue
		}
		var bv, av any
		if inBefore {
			_ = json.Unmarshal(b, &bv)
		}
		if inAfter {
			_ = json.Unmarshal(a, &av)
		}
		add(key, bv, av)
	}

	return changes
}

func extraKeys(before, after Config) []string {
	seen := make(map[string]struct{})
	for k := range before.Extra {
		seen[k] = struct{}{}
	}
	for k := range after.Extra {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
