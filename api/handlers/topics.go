package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/evoloop/evoloop/api"
	"github.com/evoloop/evoloop/evolution"
	"github.com/evoloop/evoloop/types"
)

// TopicsHandler serves topic CRUD and version lifecycle operations.
type TopicsHandler struct {
	engine *evolution.Engine
	store  evolution.Store
	logger *zap.Logger
}

func NewTopicsHandler(engine *evolution.Engine, store evolution.Store, logger *zap.Logger) *TopicsHandler {
	return &TopicsHandler{
		engine: engine,
		store:  store,
		logger: logger.With(zap.String("component", "topics_handler")),
	}
}

// HandleList serves GET /api/v1/topics.
func (h *TopicsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	topics, err := h.store.ListTopics(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, topics)
}

// HandleCreate serves POST /api/v1/topics.
func (h *TopicsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTopicRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	topic, version, err := h.engine.CreateTopic(r.Context(), req.Title, req.Config)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteCreated(w, map[string]any{
		"topic":   topic,
		"version": version,
	})
}

// HandleGet serves GET /api/v1/topics/{id}: the full overview with versions,
// aggregates, and the evolution log.
func (h *TopicsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	overview, err := h.engine.Overview(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, overview)
}

// HandleDelete serves DELETE /api/v1/topics/{id}.
func (h *TopicsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteTopic(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandlePromote serves POST /api/v1/topics/{id}/versions/{version}/promote.
func (h *TopicsHandler) HandlePromote(w http.ResponseWriter, r *http.Request) {
	version, ok := h.pathVersion(w, r)
	if !ok {
		return
	}
	if err := h.engine.Promote(r.Context(), r.PathValue("id"), version); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleArchive serves POST /api/v1/topics/{id}/versions/{version}/archive.
func (h *TopicsHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	version, ok := h.pathVersion(w, r)
	if !ok {
		return
	}
	if err := h.engine.Archive(r.Context(), r.PathValue("id"), version); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleRollout serves PUT /api/v1/topics/{id}/versions/{version}/rollout.
func (h *TopicsHandler) HandleRollout(w http.ResponseWriter, r *http.Request) {
	version, ok := h.pathVersion(w, r)
	if !ok {
		return
	}

	var req api.RolloutRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.engine.UpdateRollout(r.Context(), r.PathValue("id"), version, req.Percentage); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

func (h *TopicsHandler) pathVersion(w http.ResponseWriter, r *http.Request) (int, bool) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "version must be an integer"), h.logger)
		return 0, false
	}
	return version, true
}
