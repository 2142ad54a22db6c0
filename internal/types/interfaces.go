package types

import (
	"context"
)

// LLMClient defines the interface for LLM interactions. The runtime treats
// providers as opaque; any implementation of this contract is interchangeable.
type LLMClient interface {
	// Chat sends the conversation and returns one complete turn.
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Completion, error)

	// ChatStream sends the conversation and streams the turn back as delta
	// chunks. Both channels are closed when the turn ends; at most one error
	// is delivered. A transport error here is fatal to the calling loop.
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, <-chan error)
}

// ToolRegistry resolves and executes tool calls on behalf of the loop.
type ToolRegistry interface {
	// Execute runs the named tool. Failures are reported inside the result,
	// never as an error value: the loop treats every tool outcome as
	// recoverable.
	Execute(ctx context.Context, call ToolCall, tc *ToolContext) ToolResult

	// Definitions returns the tool definitions to advertise to the LLM.
	Definitions() []ToolDefinition

	// Lookup returns the definition for a tool name.
	Lookup(name string) (ToolDefinition, bool)
}

// ConversationManager owns an ordered message history. Appends happen in
// strict call order within one loop instance.
type ConversationManager interface {
	Append(msg Message)
	Messages() []Message
	Len() int
}

// Classifier inspects assistant text for signals of unfinished work.
// Detectors are approximate by nature; callers depend on this contract, not
// on any particular phrase table. One pattern-based implementation exists
// today; an LLM-backed one can be swapped in without touching the gate:
//
//	verdict, err := classifier.Classify(ctx, answerText)
//	if err == nil && verdict.Incomplete {
//	    // open tracking items from verdict.Signals
//	}
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// ModelController is an optional interface for LLM clients whose model can be
// switched at runtime. Use type assertion to check support:
//
//	if mc, ok := client.(types.ModelController); ok {
//	    mc.SetModel("gpt-4o-mini")
//	}
type ModelController interface {
	SetModel(model string)
	GetModel() string
}
