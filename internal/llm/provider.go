// Package llm defines the chat-completion boundary used by the assistant and
// an OpenAI-backed implementation of it.
package llm

import (
	"context"
	"fmt"
	"sync"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolChoiceAuto lets the model decide whether to call tools.
const ToolChoiceAuto = "auto"

// Message is a single chat message. ToolCalls is set on assistant messages
// that request tool execution; ToolCallID is set on tool results.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is a single completion call.
type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	ToolChoice  string
	Temperature *float64
	MaxTokens   int64
}

// Usage holds token counters of one or more calls.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Response is the model's answer to a Request.
type Response struct {
	Message      Message
	Usage        *Usage
	FinishReason string
}

// Provider is a chat-completion backend.
type Provider interface {
	// Complete sends the request and returns the model's single reply message.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name used in logs and errors.
	Name() string
}

// ModelCallError wraps a transport or provider failure.
type ModelCallError struct {
	Provider string
	Err      error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *ModelCallError) Unwrap() error {
	return e.Err
}

// Temperature returns a pointer for Request.Temperature.
func Temperature(v float64) *float64 {
	return &v
}

// UsageCounter accumulates token usage across calls. Counters only grow and
// the total is always prompt plus completion.
type UsageCounter struct {
	mu    sync.Mutex
	usage Usage
}

// Add accumulates u. A nil u is ignored.
func (c *UsageCounter) Add(u *Usage) {
	if u == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if u.PromptTokens > 0 {
		c.usage.PromptTokens += u.PromptTokens
	}
	if u.CompletionTokens > 0 {
		c.usage.CompletionTokens += u.CompletionTokens
	}
	c.usage.TotalTokens = c.usage.PromptTokens + c.usage.CompletionTokens
}

// Snapshot returns the current totals.
func (c *UsageCounter) Snapshot() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Reset zeroes all counters.
func (c *UsageCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = Usage{}
}
