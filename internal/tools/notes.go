package tools

import (
	"context"
	"fmt"
	"strings"

	"ratchet/internal/logging"
	"ratchet/internal/memory"
	"ratchet/internal/types"
)

// Session-note and archive tools.

func registerNoteTools(r *Registry, store *memory.Store) {
	session := store.Session()

	r.MustRegister(&Tool{
		Def: types.ToolDefinition{
			Name:        "record_error",
			Description: "Record an unresolved error encountered during work. Errors stay visible in context until resolved.",
			Class:       types.ToolClassRead,
			InputSchema: objectSchema(map[string]interface{}{
				"message":  prop("string", "The error message"),
				"source":   prop("string", "Where it came from: go test, build, runtime"),
				"severity": prop("string", "critical, high, medium, or low"),
			}, "message"),
		},
		Handler: func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
			message := stringArg(call.Input, "message")
			if message == "" {
				return missingArg(call, "message")
			}
			session.RecordError(memory.ErrorRecord{
				Message:  message,
				Source:   stringArg(call.Input, "source"),
				Severity: parseImportance(stringArg(call.Input, "severity")),
			})
			return jsonResult(map[string]interface{}{"recorded": true})
		},
	})

	r.MustRegister(&Tool{
		Def: types.ToolDefinition{
			Name:        "note_file",
			Description: "Record that a file was edited, attributing the edit to a task. Edits feed the completion gate's verification requirement.",
			Class:       types.ToolClassRead,
			InputSchema: objectSchema(map[string]interface{}{
				"path":    prop("string", "Workspace-relative file path"),
				"summary": prop("string", "What changed"),
				"task_id": prop("string", "Optional task id; defaults to the current task"),
			}, "path"),
		},
		Handler: func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
			path := stringArg(call.Input, "path")
			if path == "" {
				return missingArg(call, "path")
			}
			session.RecordEdit(path, stringArg(call.Input, "task_id"), stringArg(call.Input, "summary"))
			return jsonResult(map[string]interface{}{"path": path})
		},
	})

	r.MustRegister(&Tool{
		Def: types.ToolDefinition{
			Name:        "archive_note",
			Description: "Persist a note to the long-term archive, searchable across sessions.",
			Class:       types.ToolClassRead,
			InputSchema: objectSchema(map[string]interface{}{
				"content":    prop("string", "The note body"),
				"summary":    prop("string", "One-line summary"),
				"keywords":   stringArrayProp("Keywords for later retrieval"),
				"importance": prop("string", "critical, high, medium, or low"),
			}, "content"),
		},
		Handler: func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
			content := stringArg(call.Input, "content")
			if content == "" {
				return missingArg(call, "content")
			}
			err := store.ArchiveNote(content,
				stringArg(call.Input, "summary"),
				stringSliceArg(call.Input, "keywords"),
				parseImportance(stringArg(call.Input, "importance")))
			if err != nil {
				return failure(err)
			}
			logging.Memory("Archived note (%d chars)", len(content))
			return jsonResult(map[string]interface{}{"archived": true})
		},
	})

	r.MustRegister(&Tool{
		Def: types.ToolDefinition{
			Name:        "search_memory",
			Description: "Search the long-term archive by keyword.",
			Class:       types.ToolClassRead,
			InputSchema: objectSchema(map[string]interface{}{
				"query": prop("string", "Search terms"),
				"limit": prop("integer", "Maximum results (default 5)"),
			}, "query"),
		},
		Handler: func(ctx context.Context, call types.ToolCall, tc *types.ToolContext) types.ToolResult {
			query := stringArg(call.Input, "query")
			if query == "" {
				return missingArg(call, "query")
			}
			limit := intArg(call.Input, "limit")
			if limit <= 0 {
				limit = 5
			}
			entries, err := store.SearchArchive(query, limit)
			if err != nil {
				return failure(err)
			}
			if len(entries) == 0 {
				return types.ToolResult{Success: true, Output: "No archive entries matched."}
			}
			var b strings.Builder
			for i, entry := range entries {
				text := entry.Summary
				if text == "" {
					text = entry.Content
				}
				fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, entry.Importance, text)
			}
			return types.ToolResult{Success: true, Output: strings.TrimRight(b.String(), "\n")}
		},
	})
}

func parseImportance(raw string) memory.Importance {
	switch raw {
	case "critical":
		return memory.ImportanceCritical
	case "high":
		return memory.ImportanceHigh
	case "low":
		return memory.ImportanceLow
	default:
		return memory.ImportanceMedium
	}
}
