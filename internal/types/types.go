// Package types provides shared type definitions used across ratchet packages.
// This package exists to break import cycles between session, gate, and tools.
// Types in this package should be foundational data structures with no complex
// dependencies.
package types

import (
	"time"
)

// =============================================================================
// CONVERSATION TYPES
// =============================================================================

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // Assistant messages only
	ToolCallID string     `json:"tool_call_id,omitempty"` // Tool messages only
	Timestamp  time.Time  `json:"timestamp,omitempty"`
}

// =============================================================================
// TOOL TYPES
// =============================================================================

// ToolClass categorizes a tool by its effect on the workspace.
// The planning gate blocks write-class tools when no task is active.
type ToolClass string

const (
	ToolClassRead  ToolClass = "read"
	ToolClassWrite ToolClass = "write"
)

// ToolDefinition describes a tool that the LLM can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"` // JSON Schema for parameters
	Class       ToolClass              `json:"class"`        // read or write
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID    string                 `json:"id"`    // Unique ID for this tool use
	Name  string                 `json:"name"`  // Tool name to invoke
	Input map[string]interface{} `json:"input"` // Tool arguments
}

// ToolResult is the structured outcome of a tool execution. A failed tool is
// a recoverable event: Success=false with Error set, never a Go error from
// the loop's perspective.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolContext carries per-conversation state handed to tool executions.
// Handles to the memory store and spawner are captured by the tool closures
// at registration time; this struct carries only what varies per call.
type ToolContext struct {
	SessionID    string
	WorkDir      string
	Conversation ConversationManager
}

// =============================================================================
// LLM RESPONSE TYPES
// =============================================================================

// UsageMetadata captures token usage metrics from the LLM.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Completion is one fully accumulated LLM turn: text, requested tool calls,
// or both.
type Completion struct {
	Text         string        `json:"text"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	FinishReason string        `json:"finish_reason"` // "stop", "tool_calls", "length", ...
	Usage        UsageMetadata `json:"usage"`
}

// ToolCallFragment is a partial tool call carried by one stream chunk.
// Fragments with the same Index belong to the same call; ArgsDelta strings
// concatenate into the call's JSON argument document.
type ToolCallFragment struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	ArgsDelta string `json:"args_delta,omitempty"`
}

// StreamChunk is one delta from a streaming LLM turn. A chunk carries partial
// content and/or a partial tool-call fragment; the final chunk carries a
// non-empty FinishReason.
type StreamChunk struct {
	ContentDelta string            `json:"content_delta,omitempty"`
	ToolCall     *ToolCallFragment `json:"tool_call,omitempty"`
	FinishReason string            `json:"finish_reason,omitempty"`
	Usage        *UsageMetadata    `json:"usage,omitempty"`
}

// =============================================================================
// CLASSIFICATION TYPES
// =============================================================================

// SignalKind identifies the class of an incomplete-work signal.
type SignalKind string

const (
	SignalCompletionClaim   SignalKind = "completion_claim"
	SignalRemainingWork     SignalKind = "remaining_work"
	SignalTodoItem          SignalKind = "todo_item"
	SignalPermissionRequest SignalKind = "permission_request"
)

// Signal is one detected fragment of evidence in analyzed text.
type Signal struct {
	Kind    SignalKind `json:"kind"`
	Excerpt string     `json:"excerpt"` // The matched line or phrase
	Reason  string     `json:"reason"`  // Why this fragment was flagged
}

// Verdict is the result of analyzing assistant text for unfinished work.
type Verdict struct {
	Incomplete bool     `json:"incomplete"`
	Reason     string   `json:"reason"`
	Priority   string   `json:"priority"` // "high", "medium", "low"
	Signals    []Signal `json:"signals,omitempty"`
}
