package session

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ratchet/internal/logging"
	"ratchet/internal/types"
)

// BatchExecutor runs several independent tool calls from one turn in
// parallel, bounded by a parallelism limit. Results come back in input
// order regardless of completion order, so the conversation history stays
// deterministic.
type BatchExecutor struct {
	registry    types.ToolRegistry
	parallelism int
}

// NewBatchExecutor creates an executor over the registry. parallelism < 1
// is clamped to 1 (sequential).
func NewBatchExecutor(registry types.ToolRegistry, parallelism int) *BatchExecutor {
	if parallelism < 1 {
		parallelism = 1
	}
	return &BatchExecutor{registry: registry, parallelism: parallelism}
}

// ExecuteAll runs every call and returns one result per call, in order.
// Tool failures land inside their result; the only error path is context
// cancellation, and even then every slot is filled with a cancellation
// result so the caller can append a complete set of tool messages.
func (b *BatchExecutor) ExecuteAll(ctx context.Context, calls []types.ToolCall, tc *types.ToolContext) []types.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]types.ToolResult, len(calls))

	if len(calls) == 1 {
		results[0] = b.registry.Execute(ctx, calls[0], tc)
		return results
	}

	logging.Session("Batch executing %d tool calls (parallelism=%d)", len(calls), b.parallelism)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallelism)

	for i, call := range calls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = types.ToolResult{
					CallID: call.ID,
					Error:  "cancelled before execution: " + err.Error(),
				}
				return nil
			}
			results[i] = b.registry.Execute(gctx, call, tc)
			return nil
		})
	}
	// Workers never return errors; Wait only orders the joins.
	_ = g.Wait()
	return results
}
