// Package types defines shared types used across the engine: the structured
// error taxonomy and request-scoped context helpers.
package types
