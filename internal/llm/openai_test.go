package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type capturedRequest struct {
	mu    sync.Mutex
	body  map[string]any
	auth  string
	path  string
	calls int
}

func newOpenAIServer(t *testing.T, status int, response string) (*capturedRequest, *OpenAIProvider) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		captured.mu.Lock()
		captured.calls++
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		_ = json.Unmarshal(raw, &captured.body)
		captured.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	p, err := NewOpenAI(OpenAIConfig{
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		BaseURL: srv.URL + "/v1/",
	})
	if err != nil {
		t.Fatalf("NewOpenAI failed: %v", err)
	}
	return captured, p
}

const toolCallCompletion = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1760400000,
	"model": "gpt-4o-mini",
	"choices": [{
		"index": 0,
		"finish_reason": "tool_calls",
		"message": {
			"role": "assistant",
			"content": null,
			"tool_calls": [{
				"id": "call_1",
				"type": "function",
				"function": {"name": "list_all_products", "arguments": "{\"category\":\"business cards\"}"}
			}]
		}
	}],
	"usage": {"prompt_tokens": 120, "completion_tokens": 15, "total_tokens": 135}
}`

func TestOpenAICompleteWithTools(t *testing.T) {
	t.Parallel()

	captured, p := newOpenAIServer(t, http.StatusOK, toolCallCompletion)

	resp, err := p.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "system prompt"},
			{Role: RoleUser, Content: "I need business cards"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "get_shipping_levels", Arguments: "{}"}}},
			{Role: RoleTool, ToolCallID: "call_0", Content: `[]`},
		},
		Tools: []ToolDefinition{{
			Name:        "list_all_products",
			Description: "Get a list of all available print products",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
		ToolChoice: ToolChoiceAuto,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.Message.ToolCalls))
	}
	call := resp.Message.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "list_all_products" || !strings.Contains(call.Arguments, "business cards") {
		t.Errorf("unexpected tool call: %+v", call)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 120 || resp.Usage.CompletionTokens != 15 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", resp.FinishReason)
	}

	captured.mu.Lock()
	defer captured.mu.Unlock()
	if captured.path != "/v1/chat/completions" {
		t.Errorf("unexpected path %q", captured.path)
	}
	if captured.auth != "Bearer test-key" {
		t.Errorf("unexpected auth header %q", captured.auth)
	}
	if captured.body["tool_choice"] != "auto" {
		t.Errorf("expected tool_choice auto, got %v", captured.body["tool_choice"])
	}
	tools, _ := captured.body["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %v", captured.body["tools"])
	}

	messages, _ := captured.body["messages"].([]any)
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	assistant := messages[2].(map[string]any)
	calls, _ := assistant["tool_calls"].([]any)
	if len(calls) != 1 || calls[0].(map[string]any)["id"] != "call_0" {
		t.Errorf("expected assistant tool call call_0, got %v", assistant["tool_calls"])
	}
	tool := messages[3].(map[string]any)
	if tool["role"] != "tool" || tool["tool_call_id"] != "call_0" {
		t.Errorf("unexpected tool message: %v", tool)
	}
}

func TestOpenAICompleteWithoutTools(t *testing.T) {
	t.Parallel()

	captured, p := newOpenAIServer(t, http.StatusOK, `{
		"id": "chatcmpl-2", "object": "chat.completion", "created": 1760400000, "model": "gpt-4o-mini",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Business Cards, Premium Business Cards"}}],
		"usage": {"prompt_tokens": 50, "completion_tokens": 8, "total_tokens": 58}
	}`)

	resp, err := p.Complete(context.Background(), Request{
		Messages:    []Message{{Role: RoleUser, Content: "match products"}},
		Temperature: Temperature(0.3),
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Message.Content != "Business Cards, Premium Business Cards" {
		t.Errorf("unexpected content %q", resp.Message.Content)
	}

	captured.mu.Lock()
	defer captured.mu.Unlock()
	if _, ok := captured.body["tools"]; ok {
		t.Error("expected no tools in request")
	}
	if _, ok := captured.body["tool_choice"]; ok {
		t.Error("expected no tool_choice in request")
	}
	if captured.body["temperature"] != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", captured.body["temperature"])
	}
}

func TestOpenAICompleteServerError(t *testing.T) {
	t.Parallel()

	captured, p := newOpenAIServer(t, http.StatusInternalServerError, `{"error":{"message":"upstream failure","type":"server_error"}}`)

	_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var callErr *ModelCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected ModelCallError, got %v", err)
	}
	if callErr.Provider != "openai" {
		t.Errorf("unexpected provider %q", callErr.Provider)
	}

	captured.mu.Lock()
	defer captured.mu.Unlock()
	if captured.calls != 1 {
		t.Errorf("expected a single request without retries, got %d", captured.calls)
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestUsageCounter(t *testing.T) {
	t.Parallel()

	var c UsageCounter
	c.Add(&Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	c.Add(nil)
	c.Add(&Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 99})
	c.Add(&Usage{PromptTokens: -4})

	got := c.Snapshot()
	if got.PromptTokens != 17 || got.CompletionTokens != 8 {
		t.Fatalf("unexpected usage %+v", got)
	}
	if got.TotalTokens != got.PromptTokens+got.CompletionTokens {
		t.Errorf("total %d is not prompt+completion", got.TotalTokens)
	}

	c.Reset()
	if got := c.Snapshot(); got != (Usage{}) {
		t.Errorf("expected zero usage after reset, got %+v", got)
	}
}
