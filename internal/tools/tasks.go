package tools

import (
	"context"
	"fmt"

	"ratchet/internal/logging"
	"ratchet/internal/memory"
	"ratchet/internal/task"
	"ratchet/internal/types"
)

// Task lifecycle tools. These mutate session memory, not the workspace, so
// they carry the read class: the planning gate only guards workspace writes,
// and blocking create_task behind an active task would deadlock planning.

func registerTaskTools(r *Registry, store *memory.Store) {
	session := store.Session()

	r.MustRegister(&Tool{
		Def: types.ToolDefinition{
			Name:        "create_task",
			Description: "Create a task in the session plan. New tasks start in waiting status.",
			Class:       types.ToolClassRead,
			InputSchema: objectSchema(map[string]interface{}{
				"description": prop("string", "What the task accomplishes"),
				"priority":    prop("string", "high, medium, or low (default medium)"),
				"parent_id":   prop("string", "Optional parent task id for subtasks"),
			}, "description"),
		},
		Handler: func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
			description := stringArg(call.Input, "description")
			if description == "" {
				return missingArg(call, "description")
			}
			t, err := session.AddTask(description, parsePriority(stringArg(call.Input, "priority")), stringArg(call.Input, "parent_id"))
			if err != nil {
				return failure(err)
			}
			logging.Task("Created task %s: %s", t.ID, description)
			logging.Audit().Log(logging.AuditEvent{
				EventType: logging.AuditTaskCreated,
				Target:    t.ID,
				Success:   true,
				Message:   description,
			})
			return jsonResult(map[string]interface{}{
				"id":       t.ID,
				"status":   t.Status,
				"priority": t.Priority,
			})
		},
	})

	r.MustRegister(&Tool{
		Def: types.ToolDefinition{
			Name:        "set_current_task",
			Description: "Activate a task and make it the current focus. Required before write tools may run.",
			Class:       types.ToolClassRead,
			InputSchema: objectSchema(map[string]interface{}{
				"id": prop("string", "Task id to activate"),
			}, "id"),
		},
		Handler: func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
			id := stringArg(call.Input, "id")
			if id == "" {
				return missingArg(call, "id")
			}
			if err := session.SetCurrentTask(id); err != nil {
				return failure(err)
			}
			logging.Task("Current task is now %s", id)
			return jsonResult(map[string]interface{}{"id": id, "status": task.StatusActive})
		},
	})

	r.MustRegister(&Tool{
		Def: types.ToolDefinition{
			Name:        "update_task_status",
			Description: "Move a task to a new status (waiting, active, blocked, pending_verification, abandoned).",
			Class:       types.ToolClassRead,
			InputSchema: objectSchema(map[string]interface{}{
				"id":     prop("string", "Task id"),
				"status": prop("string", "Target status"),
			}, "id", "status"),
		},
		Handler: func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
			id := stringArg(call.Input, "id")
			if id == "" {
				return missingArg(call, "id")
			}
			status, err := parseStatus(stringArg(call.Input, "status"))
			if err != nil {
				return failure(err)
			}
			before := ""
			if t, ok := session.GetTask(id); ok {
				before = string(t.Status)
			}
			if err := session.UpdateTaskStatus(id, status); err != nil {
				return failure(err)
			}
			logging.Audit().TaskTransition(id, before, string(status))
			return jsonResult(map[string]interface{}{"id": id, "status": status})
		},
	})

	r.MustRegister(&Tool{
		Def: types.ToolDefinition{
			Name:        "complete_task",
			Description: "Complete a task with a summary of what was done. The task must be in pending_verification (strict mode) and carry a fresh passing verification.",
			Class:       types.ToolClassRead,
			InputSchema: objectSchema(map[string]interface{}{
				"id":      prop("string", "Task id"),
				"summary": prop("string", "What was accomplished"),
			}, "id", "summary"),
		},
		Handler: func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
			id := stringArg(call.Input, "id")
			if id == "" {
				return missingArg(call, "id")
			}
			summary := stringArg(call.Input, "summary")
			if summary == "" {
				return missingArg(call, "summary")
			}
			if err := session.CompleteTask(id, summary); err != nil {
				return failure(err)
			}
			logging.Task("Completed task %s", id)
			return jsonResult(map[string]interface{}{"id": id, "status": task.StatusCompleted})
		},
	})

	r.MustRegister(&Tool{
		Def: types.ToolDefinition{
			Name:        "verify_task",
			Description: "Record a verification run against a task (test suite, build, manual check).",
			Class:       types.ToolClassRead,
			InputSchema: objectSchema(map[string]interface{}{
				"id":     prop("string", "Task id"),
				"passed": prop("boolean", "Whether verification passed"),
				"method": prop("string", "How it was verified: tests_pass, builds, manual"),
				"detail": prop("string", "Optional evidence"),
			}, "id", "passed"),
		},
		Handler: func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
			id := stringArg(call.Input, "id")
			if id == "" {
				return missingArg(call, "id")
			}
			rec := task.VerificationRecord{
				TaskID: id,
				Passed: boolArg(call.Input, "passed"),
				Method: stringArg(call.Input, "method"),
				Detail: stringArg(call.Input, "detail"),
			}
			if err := session.AddVerification(rec); err != nil {
				return failure(err)
			}
			logging.Task("Verification for %s: passed=%v method=%s", id, rec.Passed, rec.Method)
			return jsonResult(map[string]interface{}{"id": id, "passed": rec.Passed})
		},
	})
}

func parsePriority(raw string) task.Priority {
	switch raw {
	case "high":
		return task.PriorityHigh
	case "low":
		return task.PriorityLow
	default:
		return task.PriorityMedium
	}
}

func parseStatus(raw string) (task.Status, error) {
	switch status := task.Status(raw); status {
	case task.StatusWaiting, task.StatusActive, task.StatusBlocked,
		task.StatusPendingVerification, task.StatusCompleted, task.StatusAbandoned:
		return status, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}
