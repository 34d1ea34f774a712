package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Croups/cloudprinter-chatbot/internal/llm"
	"github.com/Croups/cloudprinter-chatbot/internal/order"
	"github.com/Croups/cloudprinter-chatbot/internal/prompt"
	"github.com/Croups/cloudprinter-chatbot/internal/tools"
	"github.com/google/uuid"
)

// Session is one conversation: its message history, order context and token
// usage. Turns are serialized; the read accessors may be called at any time.
type Session struct {
	id       string
	userID   string
	provider llm.Provider
	registry *tools.Registry

	systemPrompt string
	temperature  *float64
	maxTokens    int64
	logger       *slog.Logger
	onFailure    FailureHook
	convLog      ConversationLogger

	turnMu sync.Mutex

	mu      sync.RWMutex
	state   State
	history []llm.Message

	order *order.Context
	usage *llm.UsageCounter
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSystemPrompt replaces the built-in system prompt.
func WithSystemPrompt(p string) SessionOption {
	return func(s *Session) {
		if p != "" {
			s.systemPrompt = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFailureHook registers fn to be called for every failed turn.
func WithFailureHook(fn FailureHook) SessionOption {
	return func(s *Session) { s.onFailure = fn }
}

// WithConversationLogger records the conversation to l.
func WithConversationLogger(l ConversationLogger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.convLog = l
		}
	}
}

// WithModelParams sets the sampling temperature and completion token limit
// of the conversation calls. A nil temperature or zero limit keeps the
// provider default.
func WithModelParams(temperature *float64, maxTokens int64) SessionOption {
	return func(s *Session) {
		s.temperature = temperature
		s.maxTokens = maxTokens
	}
}

// WithUserID sets the owner recorded in conversation logs.
func WithUserID(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.userID = id
		}
	}
}

// NewSession creates a session whose history holds only the system prompt.
func NewSession(id string, provider llm.Provider, registry *tools.Registry, opts ...SessionOption) *Session {
	s := &Session{
		id:           id,
		userID:       "local",
		provider:     provider,
		registry:     registry,
		systemPrompt: prompt.DefaultSystem,
		logger:       slog.Default(),
		convLog:      noopConversationLogger{},
		order:        order.New(),
		usage:        &llm.UsageCounter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", id)
	s.history = []llm.Message{s.systemMessage()}
	return s
}

func (s *Session) systemMessage() llm.Message {
	return llm.Message{Role: llm.RoleSystem, Content: s.systemPrompt}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State reports where the session is in its turn cycle.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// History returns a copy of the conversation without the system prompt.
func (s *Session) History() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, 0, len(s.history)-1)
	for _, m := range s.history[1:] {
		out = append(out, copyMessage(m))
	}
	return out
}

// Context returns the current order context.
func (s *Session) Context() order.Snapshot {
	return s.order.Snapshot()
}

// Usage returns the accumulated token usage.
func (s *Session) Usage() llm.Usage {
	return s.usage.Snapshot()
}

// Reset clears the conversation back to the system prompt, empties the order
// context and zeroes usage. It waits for a running turn to finish.
func (s *Session) Reset() {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	s.history = []llm.Message{s.systemMessage()}
	s.state = StateAwaitingUserInput
	s.mu.Unlock()

	s.order.Reset()
	s.usage.Reset()
	s.logger.Info("Session reset")
	s.logEvent("", "inbound", "session_reset", "", nil)
}

// Send runs one turn for the user's text and returns the reply.
func (s *Session) Send(ctx context.Context, text string) TurnResult {
	return s.SendObserved(ctx, text, nil)
}

// SendObserved is Send with tool progress reported to observe.
func (s *Session) SendObserved(ctx context.Context, text string, observe TurnObserver) TurnResult {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	turnID := uuid.NewString()
	start := time.Now()
	before := s.usage.Snapshot()

	s.appendMessage(llm.Message{Role: llm.RoleUser, Content: text})
	s.logEvent(turnID, "outbound", "user_message", text, nil)

	reply, toolsUsed, err := s.runTurn(ctx, turnID, observe)
	if err != nil {
		reply = "An error occurred: " + err.Error()
		s.appendMessage(llm.Message{Role: llm.RoleAssistant, Content: reply})
		s.logger.Error("Turn failed", "turn_id", turnID, "error", err)
		s.logEvent(turnID, "inbound", "turn_error", reply, map[string]any{"error": err.Error()})
		if s.onFailure != nil {
			s.onFailure(ctx, s.id, err)
		}
	} else {
		s.logEvent(turnID, "inbound", "assistant_message", reply, map[string]any{"tools_used": toolsUsed})
	}
	s.setState(StateAwaitingUserInput)

	after := s.usage.Snapshot()
	delta := llm.Usage{
		PromptTokens:     after.PromptTokens - before.PromptTokens,
		CompletionTokens: after.CompletionTokens - before.CompletionTokens,
		TotalTokens:      after.TotalTokens - before.TotalTokens,
	}
	s.logger.Info("Turn completed",
		"turn_id", turnID,
		"tools_used", len(toolsUsed),
		"total_tokens", delta.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds(),
		"failed", err != nil,
	)
	return TurnResult{Reply: reply, ToolsUsed: toolsUsed, Usage: delta, Err: err}
}

func (s *Session) runTurn(ctx context.Context, turnID string, observe TurnObserver) (string, []string, error) {
	s.setState(StateAwaitingModelResponse)
	resp, err := s.complete(ctx, s.registry.Definitions())
	if err != nil {
		return "", nil, err
	}

	msg := resp.Message
	msg.Role = llm.RoleAssistant
	s.appendMessage(msg)
	if len(msg.ToolCalls) == 0 {
		return msg.Content, nil, nil
	}

	s.setState(StateExecutingTools)
	env := tools.Env{Order: s.order, Usage: s.usage}
	toolsUsed := make([]string, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		if observe != nil {
			observe(TurnEvent{Type: EventToolCall, Tool: call.Name, CallID: call.ID, Arguments: call.Arguments, OK: true})
		}
		s.logEvent(turnID, "inbound", "tool_call", call.Arguments, map[string]any{"tool": call.Name, "call_id": call.ID})

		result := s.dispatch(ctx, env, call)
		content := result.JSON()
		s.appendMessage(llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: call.ID})
		toolsUsed = append(toolsUsed, call.Name)

		if observe != nil {
			observe(TurnEvent{Type: EventToolResult, Tool: call.Name, CallID: call.ID, Result: content, OK: result.OK()})
		}
		s.logEvent(turnID, "outbound", "tool_result", content, map[string]any{"tool": call.Name, "call_id": call.ID, "ok": result.OK()})
	}

	s.setState(StateAwaitingFinalResponse)
	final, err := s.complete(ctx, nil)
	if err != nil {
		return "", toolsUsed, err
	}
	reply := final.Message.Content
	s.appendMessage(llm.Message{Role: llm.RoleAssistant, Content: reply})
	return reply, toolsUsed, nil
}

func (s *Session) dispatch(ctx context.Context, env tools.Env, call llm.ToolCall) tools.Result {
	result, err := s.registry.Dispatch(ctx, env, call.Name, call.Arguments)
	if err != nil {
		s.logger.Warn("Model requested unavailable tool", "tool", call.Name, "error", err)
		return tools.Result{Err: err.Error()}
	}
	return result
}

// complete sends the current history. Tools are offered only when defs is
// non-empty.
func (s *Session) complete(ctx context.Context, defs []llm.ToolDefinition) (*llm.Response, error) {
	req := llm.Request{
		Messages:    s.messages(),
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	}
	if len(defs) > 0 {
		req.Tools = defs
		req.ToolChoice = llm.ToolChoiceAuto
	}

	resp, err := s.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%s returned no response", s.provider.Name())
	}
	s.usage.Add(resp.Usage)
	return resp, nil
}

func (s *Session) messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Message, len(s.history))
	for i, m := range s.history {
		out[i] = copyMessage(m)
	}
	return out
}

func (s *Session) appendMessage(m llm.Message) {
	s.mu.Lock()
	s.history = append(s.history, copyMessage(m))
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// release frees per-session resources held outside the session.
func (s *Session) release() {
	s.convLog.Forget(s.userID, s.id)
}

func (s *Session) logEvent(turnID, direction, eventType, content string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	if turnID != "" {
		meta["turn_id"] = turnID
	}
	s.convLog.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     s.userID,
		SessionID:  s.id,
		Channel:    "chat",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}

func copyMessage(m llm.Message) llm.Message {
	if m.ToolCalls != nil {
		m.ToolCalls = append([]llm.ToolCall(nil), m.ToolCalls...)
	}
	return m
}
