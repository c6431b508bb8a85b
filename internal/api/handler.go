// Package api provides HTTP handlers for the DailyStack API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dailystack/dailystack/internal/config"
	"github.com/dailystack/dailystack/internal/domain"
	"github.com/dailystack/dailystack/internal/state"
	"github.com/dailystack/dailystack/internal/stackspot"
)

// reloadTimeout bounds the background challenge refetch triggered by
// credential updates and the debug reload endpoint.
const reloadTimeout = 5 * time.Minute

// Handler provides common handler utilities.
type Handler struct {
	app     *state.App
	fetcher state.Fetcher
	auth    *stackspot.Authenticator
	limiter *RateLimiter
	cfg     *config.Config
	logger  *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(app *state.App, fetcher state.Fetcher, auth *stackspot.Authenticator, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		app:     app,
		fetcher: fetcher,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg:     cfg,
		logger:  logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes mounts all API routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/scenario", h.Scenario)
		r.Get("/flashcard/current", h.CurrentFlashcard)
		r.Post("/flashcard/next", h.NextFlashcard)
		r.Post("/ask-llm", h.Ask)
		r.Get("/chat/history", h.ChatHistory)
		r.Get("/status", h.Status)
		r.Get("/check-auth", h.CheckAuth)
		r.Get("/check-credentials", h.CheckCredentials)
		r.Post("/save-credentials", h.SaveCredentials)
		r.Route("/debug", func(r chi.Router) {
			r.Get("/state", h.DebugState)
			r.Post("/reload", h.DebugReload)
			r.Get("/fetch", h.DebugFetch)
		})
	})
}

// Scenario returns the current challenge scenario.
func (h *Handler) Scenario(w http.ResponseWriter, r *http.Request) {
	scenario, ok := h.app.Scenario()
	if !ok {
		Error(w, http.StatusNotFound, "no challenge loaded")
		return
	}
	JSON(w, http.StatusOK, scenario)
}

type flashcardResponse struct {
	Flashcard domain.Flashcard `json:"flashcard"`
	Index     int              `json:"index"`
	Total     int              `json:"total"`
}

// CurrentFlashcard returns the flashcard at the current position.
func (h *Handler) CurrentFlashcard(w http.ResponseWriter, r *http.Request) {
	card, ok := h.app.CurrentFlashcard()
	if !ok {
		Error(w, http.StatusNotFound, "no flashcards available")
		return
	}
	JSON(w, http.StatusOK, flashcardResponse{
		Flashcard: card,
		Index:     h.app.CurrentIndex(),
		Total:     h.app.FlashcardCount(),
	})
}

// NextFlashcard advances to the next flashcard, wrapping at the end.
func (h *Handler) NextFlashcard(w http.ResponseWriter, r *http.Request) {
	card, ok := h.app.NextFlashcard()
	if !ok {
		Error(w, http.StatusNotFound, "no flashcards available")
		return
	}
	JSON(w, http.StatusOK, flashcardResponse{
		Flashcard: card,
		Index:     h.app.CurrentIndex(),
		Total:     h.app.FlashcardCount(),
	})
}

// ChatHistory returns the transcript of the current conversation.
func (h *Handler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	history := h.app.History()
	if history == nil {
		history = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]any{"messages": history})
}

// Status reports the challenge loading state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	loading, hasData, lastError := h.app.Status()
	JSON(w, http.StatusOK, map[string]any{
		"loading":  loading,
		"has_data": hasData,
		"error":    lastError,
	})
}

// CheckAuth verifies that a provider token can be obtained.
func (h *Handler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	_, err := h.auth.Token(r.Context())
	JSON(w, http.StatusOK, map[string]bool{"authenticated": err == nil})
}

// CheckCredentials reports which credential variables are configured.
func (h *Handler) CheckCredentials(w http.ResponseWriter, r *http.Request) {
	creds := config.LoadCredentials()
	missing := creds.Missing()
	if missing == nil {
		missing = []string{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"configured": creds.Complete(),
		"missing":    missing,
	})
}

type saveCredentialsRequest struct {
	ClientID  string `json:"client_id"`
	ClientKey string `json:"client_key"`
	Realm     string `json:"realm"`
}

// SaveCredentials validates and persists new provider credentials, then
// reloads the authenticator and refetches the challenge in the
// background.
func (h *Handler) SaveCredentials(w http.ResponseWriter, r *http.Request) {
	var req saveCredentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	creds := config.Credentials{
		ClientID:  req.ClientID,
		ClientKey: req.ClientKey,
		Realm:     req.Realm,
	}
	if missing := creds.Missing(); len(missing) > 0 {
		JSON(w, http.StatusBadRequest, map[string]any{
			"error":   "missing credentials",
			"missing": missing,
		})
		return
	}

	if err := config.SaveCredentials(h.cfg.EnvFile, creds); err != nil {
		h.logger.Error("Failed to persist credentials", "error", err)
		Error(w, http.StatusInternalServerError, "failed to save credentials")
		return
	}

	h.auth.Reload(creds)
	h.logger.Info("Credentials updated, reloading challenge")
	go h.reloadChallenge()

	JSON(w, http.StatusOK, map[string]bool{"saved": true})
}

// DebugState dumps the application state for troubleshooting.
func (h *Handler) DebugState(w http.ResponseWriter, r *http.Request) {
	loading, hasData, lastError := h.app.Status()
	JSON(w, http.StatusOK, map[string]any{
		"loading":         loading,
		"has_data":        hasData,
		"error":           lastError,
		"date":            h.app.Date(),
		"flashcard_count": h.app.FlashcardCount(),
		"current_index":   h.app.CurrentIndex(),
		"has_credentials": h.auth.HasCredentials(),
	})
}

// DebugReload refetches the daily challenge in the background.
func (h *Handler) DebugReload(w http.ResponseWriter, r *http.Request) {
	go h.reloadChallenge()
	JSON(w, http.StatusAccepted, map[string]bool{"reloading": true})
}

// DebugFetch refetches the daily challenge synchronously and returns it.
func (h *Handler) DebugFetch(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.fetcher.FetchDailyChallenge(r.Context())
	if err != nil {
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	JSON(w, http.StatusOK, challenge)
}

func (h *Handler) reloadChallenge() {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	h.app.LoadChallenge(ctx, h.fetcher)
}
