package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/dailystack/dailystack/internal/state"
)

// WebSocketHandler serves the chat relay over a WebSocket connection as
// an alternative to the SSE ask endpoint. The client sends ask messages
// and receives one chunk message per streamed fragment, then a done
// marker.
type WebSocketHandler struct {
	app           *state.App
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket chat handler sharing the
// Handler's rate limiter.
func NewWebSocketHandler(app *state.App, h *Handler, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		app:           app,
		limiter:       h.limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        h.logger,
	}
}

// wsMessage represents the WebSocket message structure, both directions.
type wsMessage struct {
	Type     string `json:"type"`
	Question string `json:"question,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	key := clientKey(r)
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "ip", r.RemoteAddr)
			} else {
				h.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "ask":
			h.handleAsk(ctx, ws, key, msg)
		case "ping":
			h.writeJSON(ctx, ws, wsMessage{Type: "pong"})
		default:
			h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

func (h *WebSocketHandler) handleAsk(ctx context.Context, ws *websocket.Conn, key string, msg wsMessage) {
	if msg.Question == "" {
		h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: "question cannot be empty"})
		return
	}
	if !h.limiter.Allow(key) {
		h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: "rate limit exceeded"})
		return
	}

	for chunk, err := range h.app.Ask(ctx, msg.Question, msg.Hidden) {
		if err != nil {
			h.logger.Warn("Chat stream failed", "error", err)
			h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: err.Error()})
			return
		}
		if !h.writeJSON(ctx, ws, wsMessage{Type: "chunk", Answer: chunk.Answer}) {
			return
		}
	}
	h.writeJSON(ctx, ws, wsMessage{Type: "done"})
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, msg wsMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("WebSocket write error", "error", err)
		return false
	}
	return true
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
