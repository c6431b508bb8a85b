package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
)

type askRequest struct {
	Question string `json:"question"`
	Hidden   bool   `json:"hidden,omitempty"`
}

// Ask relays a question about the current flashcard to the agent and
// streams the answer back as server-sent events. Each chunk is written
// as a `data: {"answer": ...}` line; an upstream failure is written as a
// final `data: {"error": ...}` line.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(clientKey(r)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		Error(w, http.StatusBadRequest, "question cannot be empty")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk, err := range h.app.Ask(r.Context(), req.Question, req.Hidden) {
		if err != nil {
			h.logger.Warn("Chat stream failed", "error", err)
			writeSSE(w, map[string]string{"error": err.Error()})
			flusher.Flush()
			return
		}
		writeSSE(w, map[string]string{"answer": chunk.Answer})
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// clientKey identifies the caller for rate limiting. RemoteAddr is
// rewritten by the RealIP middleware when forwarding headers are set.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
