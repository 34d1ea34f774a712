package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Croups/cloudprinter-chatbot/internal/identity"
	"github.com/Croups/cloudprinter-chatbot/internal/llm"
	"github.com/Croups/cloudprinter-chatbot/internal/store"
	"github.com/Croups/cloudprinter-chatbot/internal/tools"
	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T, p *fakeProvider, limiter *RateLimiter) (http.Handler, *Manager) {
	t.Helper()
	return newTestRouterWithStore(t, p, limiter, nil)
}

func newTestRouterWithStore(t *testing.T, p *fakeProvider, limiter *RateLimiter, repo store.Repository) (http.Handler, *Manager) {
	t.Helper()
	registry := tools.New(&memCatalog{}, p)
	mgr := NewManager(func(userID, sessionID string) *Session {
		return NewSession(sessionID, p, registry, WithUserID(userID))
	}, repo, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := identity.WithIdentity(r.Context(), "anon_test", r.Header.Get(identity.SessionHeaderName))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	NewHandler(mgr, limiter, 256).RegisterRoutes(r)
	return r, mgr
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleChatJSON(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{replies: []fakeReply{text("Which product?", 20, 5)}}
	h, mgr := newTestRouter(t, p, nil)

	w := do(t, h, http.MethodPost, "/api/agent/chat", `{"message":"hello"}`, map[string]string{identity.SessionHeaderName: "tab-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Response != "Which product?" || resp.Usage.TotalTokens != 25 || resp.Error != "" {
		t.Errorf("unexpected response %+v", resp)
	}
	if _, ok := mgr.Lookup("anon_test", "tab-1"); !ok {
		t.Error("expected the session to be keyed by tab")
	}

	w = do(t, h, http.MethodGet, "/api/agent/history", "", map[string]string{identity.SessionHeaderName: "tab-1"})
	var hist HistoryResponse
	if err := json.NewDecoder(w.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Messages) != 2 || hist.State != "awaiting_user_input" || hist.SessionID != "tab-1" {
		t.Errorf("unexpected history %+v", hist)
	}

	w = do(t, h, http.MethodGet, "/api/agent/usage", "", map[string]string{identity.SessionHeaderName: "tab-1"})
	var usage llm.Usage
	_ = json.NewDecoder(w.Body).Decode(&usage)
	if usage.TotalTokens != 25 {
		t.Errorf("unexpected usage %+v", usage)
	}

	w = do(t, h, http.MethodPost, "/api/agent/reset", "", map[string]string{identity.SessionHeaderName: "tab-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("reset failed: %d", w.Code)
	}
	sess, _ := mgr.Lookup("anon_test", "tab-1")
	if len(sess.History()) != 0 || sess.Usage().TotalTokens != 0 {
		t.Error("expected session reset")
	}
}

func TestHandleChatValidation(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t, &fakeProvider{}, nil)
	cases := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{"message":`, http.StatusBadRequest},
		{"empty message", `{"message":"   "}`, http.StatusBadRequest},
		{"too large", `{"message":"` + strings.Repeat("x", 512) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		if w := do(t, h, http.MethodPost, "/api/agent/chat", tc.body, nil); w.Code != tc.code {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.code, w.Code)
		}
	}
}

func TestHandleChatRateLimited(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(1, time.Minute)
	defer limiter.Close()
	p := &fakeProvider{replies: []fakeReply{text("one", 1, 1), text("two", 1, 1)}}
	h, _ := newTestRouter(t, p, limiter)

	if w := do(t, h, http.MethodPost, "/api/agent/chat", `{"message":"a"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", w.Code)
	}
	// A new tab does not get a fresh budget.
	w := do(t, h, http.MethodPost, "/api/agent/chat", `{"message":"b"}`, map[string]string{identity.SessionHeaderName: "tab-2"})
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

func TestHandleChatStream(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{replies: []fakeReply{
		calls(llm.ToolCall{ID: "call_1", Name: "get_shipping_levels", Arguments: "{}"}),
		text("Saver is available.", 10, 2),
	}}
	h, _ := newTestRouter(t, p, nil)

	w := do(t, h, http.MethodPost, "/api/agent/chat", `{"message":"shipping?"}`, map[string]string{"Accept": "text/event-stream"})
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	var events []string
	var last string
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		line := sc.Text()
		if ev, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, ev)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			last = data
		}
	}
	if strings.Join(events, ",") != "tool,tool,message" {
		t.Fatalf("unexpected events %v", events)
	}
	var resp ChatResponse
	if err := json.Unmarshal([]byte(last), &resp); err != nil {
		t.Fatalf("decode final event: %v", err)
	}
	if resp.Response != "Saver is available." || len(resp.ToolsUsed) != 1 {
		t.Errorf("unexpected final event %+v", resp)
	}
}

func TestHandleChatStreamError(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t, &fakeProvider{}, nil)
	w := do(t, h, http.MethodPost, "/api/agent/chat", `{"message":"hi"}`, map[string]string{"Accept": "text/event-stream"})
	if !strings.Contains(w.Body.String(), "event: error\n") || !strings.Contains(w.Body.String(), "An error occurred: ") {
		t.Errorf("expected error event, got %q", w.Body.String())
	}
}

// cancelAwareProvider fails calls made on a cancelled context.
type cancelAwareProvider struct {
	*fakeProvider
}

func (p cancelAwareProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.fakeProvider.Complete(ctx, req)
}

func TestHandleChatSurvivesClientDisconnect(t *testing.T) {
	t.Parallel()

	p := cancelAwareProvider{&fakeProvider{replies: []fakeReply{text("Done.", 10, 2)}}}
	registry := tools.New(&memCatalog{}, p)
	mgr := NewManager(func(userID, sessionID string) *Session {
		return NewSession(sessionID, p, registry, WithUserID(userID))
	}, nil, nil)
	h := NewHandler(mgr, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/agent/chat", strings.NewReader(`{"message":"hello"}`))
	req = req.WithContext(identity.WithIdentity(ctx, "anon_test", "tab-1"))
	w := httptest.NewRecorder()
	h.HandleChat(w, req)

	var resp ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "" || resp.Response != "Done." {
		t.Errorf("expected the turn to complete despite the disconnect, got %+v", resp)
	}
}

func TestHandleSessions(t *testing.T) {
	t.Parallel()

	repo, err := store.NewSQLite(store.MemoryPath)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	p := &fakeProvider{replies: []fakeReply{text("Which product?", 20, 5)}}
	h, _ := newTestRouterWithStore(t, p, nil, repo)
	tab := map[string]string{identity.SessionHeaderName: "tab-1"}

	if w := do(t, h, http.MethodPost, "/api/agent/chat", `{"message":"hello"}`, tab); w.Code != http.StatusOK {
		t.Fatalf("chat failed: %d %s", w.Code, w.Body.String())
	}

	w := do(t, h, http.MethodGet, "/api/agent/sessions", "", nil)
	var list SessionsResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].SessionID != "tab-1" || list.Sessions[0].Turns != 1 {
		t.Fatalf("unexpected sessions %+v", list.Sessions)
	}

	w = do(t, h, http.MethodGet, "/api/agent/sessions/tab-1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var info struct {
		TotalTokens int64 `json:"total_tokens"`
	}
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil || info.TotalTokens != 25 {
		t.Errorf("unexpected session info %+v (%v)", info, err)
	}

	if w := do(t, h, http.MethodGet, "/api/agent/sessions/unknown", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", w.Code)
	}
}

func TestHandleSessionsWithoutStore(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t, &fakeProvider{}, nil)
	w := do(t, h, http.MethodGet, "/api/agent/sessions", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"sessions":[]`) {
		t.Errorf("expected empty list, got %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/api/agent/sessions/default", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a store, got %d", w.Code)
	}
}
