package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/handlers"

	"github.com/kalambet/adgen/internal/pipeline"
	"github.com/kalambet/adgen/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Sessions is the session service behind the HTTP and MCP surfaces.
type Sessions interface {
	Start(req pipeline.StartRequest) (session.Session, error)
	Get(id string) (session.Session, error)
	SubmitFeedback(id, feedback string) (session.Session, error)
	Delete(id string) error
	List(limit int) ([]session.Session, error)
	Running() int
}

// ChannelServer upgrades a request into a session's notification channel.
type ChannelServer interface {
	ServeSession(sessionID string) http.Handler
}

// StatusCounter reports how many stored sessions are in each status.
type StatusCounter interface {
	CountByStatus() (map[session.Status]int, error)
}

type Deps struct {
	Service     Sessions
	Channels    ChannelServer
	Stats       StatusCounter // optional
	Token       string        // empty disables bearer auth on /api
	CORSOrigins []string
	Version     string
}

// GenerationResponse is the envelope returned by the session endpoints.
type GenerationResponse struct {
	SessionID string           `json:"session_id"`
	Status    session.Status   `json:"status"`
	Message   string           `json:"message"`
	Data      *session.Session `json:"data,omitempty"`
}

type feedbackRequest struct {
	SessionID string `json:"session_id"`
	Feedback  string `json:"feedback"`
}

// NewHandler returns the REST API, the websocket channel route and the
// liveness endpoints.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/ws/{session_id}", handleChannel(deps))
	})

	r.Route("/api", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/web-status", handleWebStatus(deps))
		r.Post("/start-generation", handleStartGeneration(deps))
		r.Post("/script-feedback", handleScriptFeedback(deps))
		r.Get("/session/{id}", handleGetSession(deps))
		r.Delete("/session/{id}", handleDeleteSession(deps))
		r.Get("/sessions", handleListSessions(deps))
	})

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(r)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChannel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Channels.ServeSession(chi.URLParam(r, "session_id")).ServeHTTP(w, r)
	}
}

func handleWebStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status":  "ok",
			"service": "adgen",
			"version": deps.Version,
			"running": deps.Service.Running(),
		}
		if deps.Stats != nil {
			counts, err := deps.Stats.CountByStatus()
			if err != nil {
				slog.Warn("counting sessions", "error", err)
			} else {
				resp["sessions"] = counts
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleStartGeneration(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req pipeline.StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		sess, err := deps.Service.Start(req)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, GenerationResponse{
			SessionID: sess.ID,
			Status:    session.StatusStarted,
			Message:   "Video generation started",
		})
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Service.Get(chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, GenerationResponse{
			SessionID: sess.ID,
			Status:    sess.Status,
			Message:   fmt.Sprintf("Current step: %s", sess.Step),
			Data:      &sess,
		})
	}
}

func handleScriptFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SessionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id is required")
			return
		}

		sess, err := deps.Service.SubmitFeedback(req.SessionID, req.Feedback)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, GenerationResponse{
			SessionID: sess.ID,
			Status:    sess.Status,
			Message:   "Feedback received, updating script...",
		})
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Service.Delete(chi.URLParam(r, "id")); err != nil {
			serviceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		sessions, err := deps.Service.List(limit)
		if err != nil {
			serviceError(w, err)
			return
		}
		if sessions == nil {
			sessions = []session.Session{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	}
}

// serviceError maps service errors onto HTTP status codes.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, session.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, session.ErrNotAwaitingFeedback):
		httpError(w, http.StatusConflict, "invalid_state", "%v", err)
	case errors.Is(err, pipeline.ErrShuttingDown), errors.Is(err, pipeline.ErrBusy):
		httpError(w, http.StatusServiceUnavailable, "unavailable", "%v", err)
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
