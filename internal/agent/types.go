// Package agent runs the quote assistant conversation: the per-session
// orchestration loop, the session registry and its HTTP surface.
package agent

import (
	"context"

	"github.com/Croups/cloudprinter-chatbot/internal/llm"
)

// State is the position of a session in its turn cycle.
type State int

const (
	// StateAwaitingUserInput is the idle state between turns.
	StateAwaitingUserInput State = iota
	// StateAwaitingModelResponse waits for the first completion of a turn.
	StateAwaitingModelResponse
	// StateExecutingTools runs the tool calls requested by the model.
	StateExecutingTools
	// StateAwaitingFinalResponse waits for the completion that follows tool results.
	StateAwaitingFinalResponse
)

func (s State) String() string {
	switch s {
	case StateAwaitingUserInput:
		return "awaiting_user_input"
	case StateAwaitingModelResponse:
		return "awaiting_model_response"
	case StateExecutingTools:
		return "executing_tools"
	case StateAwaitingFinalResponse:
		return "awaiting_final_response"
	default:
		return "unknown"
	}
}

// TurnResult is the outcome of one Send. Usage is the token delta of the
// turn. When Err is set, Reply holds the synthetic error message that was
// appended to the history.
type TurnResult struct {
	Reply     string
	ToolsUsed []string
	Usage     llm.Usage
	Err       error
}

// Turn event types.
const (
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
)

// TurnEvent reports tool progress inside a turn.
type TurnEvent struct {
	Type      string `json:"type"`
	Tool      string `json:"tool"`
	CallID    string `json:"call_id"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`
	OK        bool   `json:"ok"`
}

// TurnObserver receives progress events. It is called synchronously from
// the turn and must not call back into the session.
type TurnObserver func(TurnEvent)

// FailureHook is told about every failed turn.
type FailureHook func(ctx context.Context, sessionID string, err error)

// ChatRequest is the body of POST /api/agent/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the reply to a chat request.
type ChatResponse struct {
	Response  string    `json:"response"`
	ToolsUsed []string  `json:"tools_used,omitempty"`
	Usage     llm.Usage `json:"usage"`
	Error     string    `json:"error,omitempty"`
}

func newChatResponse(res TurnResult) ChatResponse {
	resp := ChatResponse{
		Response:  res.Reply,
		ToolsUsed: res.ToolsUsed,
		Usage:     res.Usage,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}
