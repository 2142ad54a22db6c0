package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ratchet/internal/gate"
	"ratchet/internal/logging"
	"ratchet/internal/memory"
	"ratchet/internal/types"
)

// ErrLLMTransport marks a fatal LLM transport failure. Unlike tool errors,
// these abort the loop and propagate to the caller.
var ErrLLMTransport = errors.New("llm transport failure")

// Outcome distinguishes how a loop run ended.
type Outcome string

const (
	// OutcomeClean means the completion gate accepted the final answer.
	OutcomeClean Outcome = "clean"

	// OutcomeExhausted means the iteration ceiling fired before the gate
	// accepted. The returned text is the last assistant message, not a
	// gate-approved completion.
	OutcomeExhausted Outcome = "exhausted"
)

// Result is the outcome of one ProcessUserMessage run.
type Result struct {
	Text       string
	Outcome    Outcome
	Iterations int
}

// Policy is the immutable bundle of collaborators and bounds a loop runs
// under. It is supplied once at construction; there are no late-bound
// setters, so a constructed loop is never partially configured.
type Policy struct {
	// Gate is the composite completion validator.
	Gate *gate.Gate

	// Session is the session-scoped memory the gate and tools mutate.
	Session *memory.SessionStore

	// Memory, when set, provides the context summary injected as a system
	// message at the start of each run. Subagent loops leave it nil and use
	// a textual brief instead.
	Memory *memory.Store

	// MaxIterations bounds the loop; 0 means unlimited.
	MaxIterations int

	// MinIterations is the floor below which the incomplete-work heuristic
	// stays quiet. Early turns often narrate remaining work legitimately.
	MinIterations int

	// HistoryCap bounds the conversation history.
	HistoryCap int

	// BatchParallelism bounds the parallel tool batch executor.
	BatchParallelism int

	// ContextTokenBudget is passed to the memory context summary.
	ContextTokenBudget int

	// SystemPrompt, when non-empty, seeds the conversation.
	SystemPrompt string
}

// Loop is the top-level agentic controller: it requests LLM turns, executes
// requested tools, and consults the completion gate before accepting a
// plain answer as final. One loop owns one conversation; it is
// single-threaded and cooperative, suspending only on the LLM call and on
// tool executions.
type Loop struct {
	client       types.LLMClient
	registry     types.ToolRegistry
	policy       Policy
	conversation *Conversation
	batch        *BatchExecutor
	paused       atomic.Bool
	workDir      string
	sessionID    string
}

// NewLoop constructs a loop from its policy bundle.
func NewLoop(client types.LLMClient, registry types.ToolRegistry, policy Policy) *Loop {
	l := &Loop{
		client:       client,
		registry:     registry,
		policy:       policy,
		conversation: NewConversation(policy.HistoryCap),
		batch:        NewBatchExecutor(registry, policy.BatchParallelism),
	}
	if policy.Memory != nil {
		l.sessionID = policy.Memory.SessionID()
	}
	if policy.SystemPrompt != "" {
		l.conversation.Append(types.Message{Role: types.RoleSystem, Content: policy.SystemPrompt})
	}
	return l
}

// SetWorkDir sets the working directory handed to tool executions.
func (l *Loop) SetWorkDir(dir string) {
	l.workDir = dir
}

// Conversation exposes the loop's message history.
func (l *Loop) Conversation() *Conversation {
	return l.conversation
}

// Pause requests a cooperative pause. In-flight operations finish; the loop
// stops at the next iteration boundary until Resume or cancellation.
func (l *Loop) Pause() {
	l.paused.Store(true)
	logging.Session("Pause requested")
}

// Resume clears the pause flag.
func (l *Loop) Resume() {
	l.paused.Store(false)
	logging.Session("Resumed")
}

// IsPaused reports whether the pause flag is set.
func (l *Loop) IsPaused() bool {
	return l.paused.Load()
}

// ProcessUserMessage runs the iterate-until-done loop for one user message
// and returns the final assistant text with its outcome. Tool errors are
// recoverable and never surface here; the error return is reserved for LLM
// transport failures and cancellation.
func (l *Loop) ProcessUserMessage(ctx context.Context, text string) (*Result, error) {
	timer := logging.StartTimer(logging.CategorySession, "ProcessUserMessage")
	defer timer.StopWithInfo()

	if l.policy.Memory != nil && l.policy.ContextTokenBudget > 0 {
		if summary := l.policy.Memory.ContextSummary(l.policy.ContextTokenBudget); summary != "" {
			l.conversation.Append(types.Message{Role: types.RoleSystem, Content: summary})
		}
	}
	l.conversation.Append(types.Message{Role: types.RoleUser, Content: text})

	var lastText string
	iteration := 0
	for {
		iteration++
		if err := l.waitIfPaused(ctx); err != nil {
			return nil, err
		}

		logging.Session("Iteration %d starting (history=%d)", iteration, l.conversation.Len())
		turn, err := l.requestTurn(ctx)
		if err != nil {
			logging.SessionError("Iteration %d: LLM turn failed: %v", iteration, err)
			return nil, fmt.Errorf("%w: %v", ErrLLMTransport, err)
		}

		l.conversation.Append(types.Message{
			Role:      types.RoleAssistant,
			Content:   turn.Text,
			ToolCalls: turn.ToolCalls,
		})

		if len(turn.ToolCalls) > 0 {
			// Tool calls never terminate the loop, even at the ceiling:
			// their results must enter history first.
			l.executeToolCalls(ctx, turn.ToolCalls)
		} else {
			lastText = turn.Text
			res := l.policy.Gate.CheckAnswer(ctx, turn.Text)
			if !res.Accepted && res.Marker == gate.MarkerIncompleteWork && iteration < l.policy.MinIterations {
				logging.SessionDebug("Suppressing heuristic rejection at iteration %d (min %d)",
					iteration, l.policy.MinIterations)
				res.Accepted = true
			}
			if res.Accepted {
				logging.Session("Completion accepted after %d iteration(s)", iteration)
				logging.AuditWithSession(l.sessionID).Log(logging.AuditEvent{
					EventType: logging.AuditGateAccept,
					Success:   true,
					Message:   fmt.Sprintf("accepted after %d iterations", iteration),
				})
				return &Result{Text: turn.Text, Outcome: OutcomeClean, Iterations: iteration}, nil
			}

			// Exactly one synthetic corrective per rejection. The marker in
			// the body is the contract tests and the model key off.
			logging.AuditWithSession(l.sessionID).GateRejection(res.Marker, res.Reason)
			l.conversation.Append(types.Message{Role: types.RoleUser, Content: res.Reason})
		}

		if l.policy.MaxIterations > 0 && iteration >= l.policy.MaxIterations {
			logging.SessionWarn("Iteration ceiling %d reached, terminating exhausted", l.policy.MaxIterations)
			return &Result{Text: lastText, Outcome: OutcomeExhausted, Iterations: iteration}, nil
		}
	}
}

// waitIfPaused blocks at the iteration boundary while the pause flag is
// set. Cancellation wins over pause.
func (l *Loop) waitIfPaused(ctx context.Context) error {
	if !l.paused.Load() {
		return ctx.Err()
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for l.paused.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return ctx.Err()
}

// executeToolCalls resolves one turn's tool calls: the planning gate screens
// write-class calls, the survivors run through the batch executor, and every
// call gets exactly one tool-role message in input order.
func (l *Loop) executeToolCalls(ctx context.Context, calls []types.ToolCall) {
	tc := &types.ToolContext{
		SessionID:    l.sessionID,
		WorkDir:      l.workDir,
		Conversation: l.conversation,
	}

	results := make([]types.ToolResult, len(calls))
	var allowed []types.ToolCall
	var allowedIdx []int
	for i, call := range calls {
		def, ok := l.registry.Lookup(call.Name)
		if !ok {
			results[i] = types.ToolResult{
				CallID: call.ID,
				Error:  fmt.Sprintf("unknown tool %q", call.Name),
			}
			continue
		}
		if res := l.policy.Gate.CheckToolCall(def); !res.Accepted {
			results[i] = types.ToolResult{CallID: call.ID, Error: res.Reason}
			continue
		}
		allowed = append(allowed, call)
		allowedIdx = append(allowedIdx, i)
	}

	for j, res := range l.batch.ExecuteAll(ctx, allowed, tc) {
		results[allowedIdx[j]] = res
	}

	for i, res := range results {
		l.conversation.Append(types.Message{
			Role:       types.RoleTool,
			Content:    renderToolResult(res),
			ToolCallID: calls[i].ID,
		})
	}
}

// renderToolResult serializes a result for the model. The structured shape
// keeps failures machine-readable without a custom format.
func renderToolResult(res types.ToolResult) string {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}

// requestTurn streams one LLM turn and accumulates it into a Completion:
// content deltas concatenate, tool-call fragments assemble by index.
func (l *Loop) requestTurn(ctx context.Context) (*types.Completion, error) {
	chunks, errs := l.client.ChatStream(ctx, l.conversation.Messages(), l.registry.Definitions())

	var content string
	fragments := make(map[int]*pendingToolCall)
	finish := ""

	for chunk := range chunks {
		content += chunk.ContentDelta
		if tc := chunk.ToolCall; tc != nil {
			p, ok := fragments[tc.Index]
			if !ok {
				p = &pendingToolCall{}
				fragments[tc.Index] = p
			}
			if tc.ID != "" {
				p.id = tc.ID
			}
			if tc.Name != "" {
				p.name = tc.Name
			}
			p.args += tc.ArgsDelta
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}

	turn := &types.Completion{Text: content, FinishReason: finish}
	for idx := 0; idx < len(fragments); idx++ {
		p, ok := fragments[idx]
		if !ok {
			continue
		}
		call := types.ToolCall{ID: p.id, Name: p.name}
		if p.args != "" {
			if err := json.Unmarshal([]byte(p.args), &call.Input); err != nil {
				logging.SessionWarn("Tool call %s has unparseable arguments: %v", p.name, err)
				call.Input = map[string]interface{}{}
			}
		}
		turn.ToolCalls = append(turn.ToolCalls, call)
	}
	return turn, nil
}

// pendingToolCall accumulates one tool call's streamed fragments.
type pendingToolCall struct {
	id   string
	name string
	args string
}
