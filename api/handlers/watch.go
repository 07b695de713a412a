package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/evoloop/evoloop/evolution"
)

// watchBufferSize bounds the per-subscriber event queue. A slow client drops
// events rather than stalling the engine.
const watchBufferSize = 64

// WatchHandler streams engine events over WebSocket.
type WatchHandler struct {
	events *evolution.Publisher
	logger *zap.Logger
}

func NewWatchHandler(events *evolution.Publisher, logger *zap.Logger) *WatchHandler {
	return &WatchHandler{
		events: events,
		logger: logger.With(zap.String("component", "watch_handler")),
	}
}

// HandleWatch serves GET /api/v1/watch. Each connection gets its own
// subscription; an optional topic_id query parameter filters the stream.
// The connection closes when the client disconnects or the write fails.
func (h *WatchHandler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	topicFilter := r.URL.Query().Get("topic_id")

	events, unsubscribe := h.events.Subscribe(watchBufferSize)
	defer unsubscribe()

	ctx := r.Context()
	h.logger.Debug("watch client connected", zap.String("topic_filter", topicFilter))

	// Drain client frames so pings are answered and disconnects surface as
	// context cancellation.
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		for {
			if _, _, err := conn.Read(readCtx); err != nil {
				cancelRead()
				return
			}
		}
	}()

	for {
		select {
		case <-readCtx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "publisher closed")
				return
			}
			if topicFilter != "" && ev.TopicID != topicFilter {
				continue
			}
			if err := h.writeEvent(readCtx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("watch write failed, dropping client", zap.Error(err))
				}
				return
			}
		}
	}
}

func (h *WatchHandler) writeEvent(ctx context.Context, conn *websocket.Conn, ev evolution.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
