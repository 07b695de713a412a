// Package api defines the request and response shapes of the HTTP surface.
//
// The API is a RESTful interface over the evolution engine:
//   - Topic management and per-topic overviews
//   - Episode reporting and execution
//   - Candidate promotion, archiving, and rollout control
//   - Event streaming over WebSocket
//   - Health monitoring and metrics
//
// Handlers live in the handlers subpackage; this package carries only the
// wire types they share.
package api
