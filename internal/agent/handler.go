package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Croups/cloudprinter-chatbot/internal/api"
	"github.com/Croups/cloudprinter-chatbot/internal/domain"
	"github.com/Croups/cloudprinter-chatbot/internal/identity"
	"github.com/Croups/cloudprinter-chatbot/internal/llm"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the session API under /api/agent.
type Handler struct {
	sessions    *Manager
	rateLimiter *RateLimiter
	maxBodySize int64
}

// NewHandler creates the handler. A nil limiter disables rate limiting.
func NewHandler(sessions *Manager, limiter *RateLimiter, maxBodySize int64) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		sessions:    sessions,
		rateLimiter: limiter,
		maxBodySize: maxBodySize,
	}
}

// RegisterRoutes registers agent routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agent", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/history", h.HandleHistory)
		r.Get("/context", h.HandleContext)
		r.Get("/usage", h.HandleUsage)
		r.Post("/reset", h.HandleReset)
		r.Get("/sessions", h.HandleSessions)
		r.Get("/sessions/{sessionID}", h.HandleSessionInfo)
	})
}

// HandleChat handles POST /api/agent/chat. Clients accepting
// text/event-stream receive tool progress before the reply.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	slog.Info("Agent chat request",
		"user_id", userID,
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"remote_ip", identity.IPFromRequest(r),
		"message_length", len(req.Message),
	)

	// A turn runs to completion even if the client goes away, so the
	// history never ends on an unanswered tool call.
	turnCtx := context.WithoutCancel(r.Context())

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		res := h.sessions.Send(turnCtx, userID, sessionID, req.Message, nil)
		api.JSON(w, http.StatusOK, newChatResponse(res))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	observe := func(ev TurnEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := writeSSE(w, "tool", string(data)); err != nil {
			slog.Warn("failed to write SSE tool event", "error", err)
			return
		}
		flusher.Flush()
	}

	res := h.sessions.Send(turnCtx, userID, sessionID, req.Message, observe)
	data, err := json.Marshal(newChatResponse(res))
	if err != nil {
		slog.Warn("failed to marshal chat response", "error", err)
		_ = writeSSE(w, "error", `{"error":"failed to serialize response"}`)
		flusher.Flush()
		return
	}
	event := "message"
	if res.Err != nil {
		event = "error"
	}
	if err := writeSSE(w, event, string(data)); err != nil {
		slog.Warn("failed to write SSE message event", "error", err)
		return
	}
	flusher.Flush()
}

// HistoryResponse is the body of GET /api/agent/history.
type HistoryResponse struct {
	SessionID string        `json:"session_id"`
	State     string        `json:"state"`
	Messages  []llm.Message `json:"messages"`
}

// HandleHistory handles GET /api/agent/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	api.JSON(w, http.StatusOK, HistoryResponse{
		SessionID: sess.ID(),
		State:     sess.State().String(),
		Messages:  sess.History(),
	})
}

// HandleContext handles GET /api/agent/context.
func (h *Handler) HandleContext(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	api.JSON(w, http.StatusOK, sess.Context())
}

// HandleUsage handles GET /api/agent/usage.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	api.JSON(w, http.StatusOK, sess.Usage())
}

// HandleReset handles POST /api/agent/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())
	h.sessions.Reset(r.Context(), userID, sessionID)
	api.JSON(w, http.StatusOK, map[string]string{"status": "reset", "session_id": sessionID})
}

// SessionsResponse is the body of GET /api/agent/sessions.
type SessionsResponse struct {
	Sessions []*domain.ChatSession `json:"sessions"`
}

// HandleSessions handles GET /api/agent/sessions, listing the caller's
// recorded conversations.
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessions, err := h.sessions.Sessions(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list sessions", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.ChatSession{}
	}
	api.JSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

// HandleSessionInfo handles GET /api/agent/sessions/{sessionID}.
func (h *Handler) HandleSessionInfo(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	cs, err := h.sessions.SessionInfo(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to get session", "user_id", userID, "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if cs == nil {
		api.Error(w, http.StatusNotFound, "session not found")
		return
	}
	api.JSON(w, http.StatusOK, cs)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	sessionID := identity.SessionIDFromContext(r.Context())
	sess := h.sessions.Get(r.Context(), userID, sessionID)
	h.sessions.Touch(r.Context(), userID, sessionID)
	return sess, true
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
