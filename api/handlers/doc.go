/*
Package handlers implements the HTTP endpoints of the evolution engine.

# Core types

  - TopicsHandler   — topic CRUD plus version promotion, archiving, rollout
  - EpisodesHandler — episode reporting and execution
  - WatchHandler    — WebSocket event streaming
  - HealthHandler   — liveness, readiness, and version endpoints
  - Response        — uniform JSON envelope (success + data + error + timestamp)
  - ErrorInfo       — structured error body with code, message, retryable flag
  - ResponseWriter  — wraps http.ResponseWriter to capture the status code

Handlers follow standard net/http and read path parameters through
http.Request.PathValue; routing patterns are registered by the serve binary.
Structured errors map onto HTTP status codes in one place (WriteError), so
every endpoint reports failures the same way.
*/
package handlers
