package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Croups/cloudprinter-chatbot/internal/agent"
	"github.com/Croups/cloudprinter-chatbot/internal/catalog"
	"github.com/Croups/cloudprinter-chatbot/internal/identity"
	"github.com/Croups/cloudprinter-chatbot/internal/llm"
	"github.com/Croups/cloudprinter-chatbot/internal/tools"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// scriptedModel asks for get_shipping_levels on the first call of every
// turn and answers with text on the second.
type scriptedModel struct {
	mu    sync.Mutex
	calls int
}

func (m *scriptedModel) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	usage := &llm.Usage{PromptTokens: 10, CompletionTokens: 2}
	if len(req.Tools) > 0 {
		return &llm.Response{
			Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "get_shipping_levels", Arguments: "{}"}}},
			Usage:   usage,
		}, nil
	}
	return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: "Saver shipping is available."}, Usage: usage}, nil
}

func (m *scriptedModel) Name() string { return "scripted" }

type stubCatalog struct{}

func (stubCatalog) Products(context.Context) ([]catalog.Product, error) { return nil, nil }
func (stubCatalog) ProductDetail(context.Context, string) (*catalog.ProductDetail, error) {
	return &catalog.ProductDetail{}, nil
}
func (stubCatalog) ShippingCountries(context.Context) ([]catalog.ShippingCountry, error) {
	return nil, nil
}
func (stubCatalog) ShippingStates(context.Context, string) ([]catalog.ShippingState, error) {
	return nil, nil
}
func (stubCatalog) ShippingLevels(context.Context) ([]catalog.ShippingLevel, error) {
	return []catalog.ShippingLevel{{Reference: "cp_saver", Name: "Saver"}}, nil
}
func (stubCatalog) Quote(context.Context, catalog.QuoteRequest) (*catalog.QuoteResponse, error) {
	return &catalog.QuoteResponse{}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *SessionManager, *agent.Manager) {
	t.Helper()

	model := &scriptedModel{}
	registry := tools.New(stubCatalog{}, model)
	mgr := agent.NewManager(func(userID, sessionID string) *agent.Session {
		return agent.NewSession(sessionID, model, registry, agent.WithUserID(userID))
	}, nil, nil)
	sm := NewSessionManager()
	h := NewWebSocketHandler(mgr, sm, nil, "", true)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	r.Get("/ws/chat", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, sm, mgr
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?session_id=tab-1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, msg inbound, until string) []outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, _ := json.Marshal(msg)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	var got []outbound
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read failed after %d messages: %v", len(got), err)
		}
		var out outbound
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("invalid server message %s: %v", raw, err)
		}
		got = append(got, out)
		if out.Type == until || out.Type == TypeError {
			return got
		}
	}
}

func TestWebSocketChatTurn(t *testing.T) {
	t.Parallel()

	srv, sm, mgr := newTestServer(t)
	conn := dial(t, srv)

	got := exchange(t, conn, inbound{Type: TypeMessage, Content: "How fast can you ship?"}, TypeReply)
	if len(got) != 3 {
		t.Fatalf("expected tool_call, tool_result and reply, got %+v", got)
	}
	if got[0].Event == nil || got[0].Event.Type != agent.EventToolCall || got[1].Event.Type != agent.EventToolResult {
		t.Errorf("unexpected progress events: %+v %+v", got[0], got[1])
	}
	reply := got[2]
	if reply.Content != "Saver shipping is available." || len(reply.ToolsUsed) != 1 || reply.Usage.TotalTokens != 24 {
		t.Errorf("unexpected reply: %+v", reply)
	}
	if sm.Count() != 1 || mgr.Len() != 1 {
		t.Errorf("expected one connection and session, got %d/%d", sm.Count(), mgr.Len())
	}

	if pong := exchange(t, conn, inbound{Type: TypePing}, TypePong); pong[0].Type != TypePong {
		t.Errorf("expected pong, got %+v", pong)
	}
	if got := exchange(t, conn, inbound{Type: TypeReset}, TypeReset); got[0].Type != TypeReset {
		t.Errorf("expected reset acknowledgment, got %+v", got)
	}
}

func TestWebSocketRejectsBadMessages(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	conn := dial(t, srv)

	if got := exchange(t, conn, inbound{Type: "subscribe"}, TypeError); !strings.Contains(got[0].Error, "unknown message type") {
		t.Errorf("unexpected response %+v", got)
	}
	if got := exchange(t, conn, inbound{Type: TypeMessage, Content: "  "}, TypeError); got[0].Error != "message is required" {
		t.Errorf("unexpected response %+v", got)
	}
}
