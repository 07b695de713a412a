package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/evoloop/evoloop/api"
	"github.com/evoloop/evoloop/evolution"
)

// EpisodesHandler serves episode reporting and execution.
type EpisodesHandler struct {
	engine *evolution.Engine
	logger *zap.Logger
}

func NewEpisodesHandler(engine *evolution.Engine, logger *zap.Logger) *EpisodesHandler {
	return &EpisodesHandler{
		engine: engine,
		logger: logger.With(zap.String("component", "episodes_handler")),
	}
}

// HandleReport serves POST /api/v1/topics/{id}/episodes: records an episode
// that was executed outside the engine. The evolution check runs before the
// response is written, so a triggered candidate is visible to an immediate
// follow-up read.
func (h *EpisodesHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	var req api.ReportEpisodeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	ep, err := h.engine.ReportEpisode(r.Context(), r.PathValue("id"), req.Version, &evolution.Outcome{
		Query:           req.Query,
		SourcesReturned: req.SourcesReturned,
		SourcesSaved:    req.SourcesSaved,
		FollowupCount:   req.FollowupCount,
		Failed:          req.Failed,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, ep)
}

// HandleRun serves POST /api/v1/topics/{id}/episodes/run: executes one
// episode through the configured executor under the topic's active strategy.
func (h *EpisodesHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req api.RunEpisodeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	ep, err := h.engine.RunEpisode(r.Context(), r.PathValue("id"), req.Query)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, ep)
}

// HandleAnalysis serves GET /api/v1/episodes/{id}/analysis: the advisory
// verdict for a single episode.
func (h *EpisodesHandler) HandleAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.engine.AnalyzeEpisode(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, analysis)
}
