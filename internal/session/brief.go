package session

import (
	"fmt"
	"sort"
	"strings"

	"ratchet/internal/memory"
	"ratchet/internal/task"
)

// BuildBrief projects the parent session's goal and task hierarchy into an
// immutable textual snapshot for a child agent. Handing children text
// instead of a store handle is the concurrency strategy: nothing to lock,
// nothing to race, at the cost of staleness after spawn.
func BuildBrief(session *memory.SessionStore) string {
	var b strings.Builder

	if goal := session.CurrentGoal(); goal != nil {
		b.WriteString("## Mission\n")
		b.WriteString(goal.Description)
		b.WriteString("\n")
	}

	tasks := session.Tasks()
	if len(tasks) > 0 {
		b.WriteString("\n## Task tree\n")
		current := session.CurrentTask()
		currentID := ""
		if current != nil {
			currentID = current.ID
		}
		writeTaskTree(&b, tasks, "", 0, currentID)
	}

	if errs := session.UnresolvedErrors(); len(errs) > 0 {
		b.WriteString("\n## Unresolved errors\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "- [%s] %s\n", e.Source, e.Message)
		}
	}

	return strings.TrimSpace(b.String())
}

// writeTaskTree renders children of parentID depth-first, oldest first.
func writeTaskTree(b *strings.Builder, tasks map[string]*task.Task, parentID string, depth int, currentID string) {
	var children []*task.Task
	for _, t := range tasks {
		if t.ParentID == parentID {
			children = append(children, t)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if !children[i].CreatedAt.Equal(children[j].CreatedAt) {
			return children[i].CreatedAt.Before(children[j].CreatedAt)
		}
		return children[i].ID < children[j].ID
	})

	for _, t := range children {
		marker := ""
		if t.ID == currentID {
			marker = " <- current"
		}
		fmt.Fprintf(b, "%s- [%s/%s] %s%s\n",
			strings.Repeat("  ", depth), t.Status, t.Priority, t.Description, marker)
		writeTaskTree(b, tasks, t.ID, depth+1, currentID)
	}
}
