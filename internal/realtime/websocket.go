package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Croups/cloudprinter-chatbot/internal/agent"
	"github.com/Croups/cloudprinter-chatbot/internal/identity"
	"github.com/Croups/cloudprinter-chatbot/internal/llm"
	"github.com/coder/websocket"
)

// Inbound message types.
const (
	TypeMessage = "message"
	TypeReset   = "reset"
	TypePing    = "ping"
)

// Outbound message types.
const (
	TypeReply = "reply"
	TypeTool  = "tool"
	TypePong  = "pong"
	TypeError = "error"
)

// inbound is a client message.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// outbound is a server message.
type outbound struct {
	Type      string           `json:"type"`
	Content   string           `json:"content,omitempty"`
	ToolsUsed []string         `json:"tools_used,omitempty"`
	Usage     *llm.Usage       `json:"usage,omitempty"`
	Event     *agent.TurnEvent `json:"event,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// WebSocketHandler serves /ws/chat.
type WebSocketHandler struct {
	sessions      *agent.Manager
	sm            *SessionManager
	rateLimiter   *agent.RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. limiter may be nil.
func NewWebSocketHandler(sessions *agent.Manager, sm *SessionManager, limiter *agent.RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:      sessions,
		sm:            sm,
		rateLimiter:   limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sm.Register(userID, sessionID, ws)
	defer h.sm.Unregister(userID, sessionID, ws)

	h.sessions.Get(r.Context(), userID, sessionID)
	h.readLoop(r.Context(), ws, userID, sessionID)
	slog.Info("Chat connection ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			h.send(ctx, ws, outbound{Type: TypeError, Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case TypeMessage:
			h.handleMessage(ctx, ws, userID, sessionID, msg.Content)
		case TypeReset:
			h.sessions.Reset(ctx, userID, sessionID)
			h.send(ctx, ws, outbound{Type: TypeReset})
		case TypePing:
			h.sessions.Touch(ctx, userID, sessionID)
			h.send(ctx, ws, outbound{Type: TypePong})
		default:
			h.send(ctx, ws, outbound{Type: TypeError, Error: "unknown message type: " + msg.Type})
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, ws *websocket.Conn, userID, sessionID, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		h.send(ctx, ws, outbound{Type: TypeError, Error: "message is required"})
		return
	}
	if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
		h.send(ctx, ws, outbound{Type: TypeError, Error: "rate limit exceeded"})
		return
	}

	// A turn runs to completion even if the socket drops mid-turn.
	res := h.sessions.Send(context.WithoutCancel(ctx), userID, sessionID, content, func(ev agent.TurnEvent) {
		h.send(ctx, ws, outbound{Type: TypeTool, Event: &ev})
	})

	reply := outbound{Type: TypeReply, Content: res.Reply, ToolsUsed: res.ToolsUsed, Usage: &res.Usage}
	if res.Err != nil {
		reply.Error = res.Err.Error()
	}
	h.send(ctx, ws, reply)
}

func (h *WebSocketHandler) send(ctx context.Context, ws *websocket.Conn, msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("Failed to encode websocket message", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err, "type", msg.Type)
	}
}
