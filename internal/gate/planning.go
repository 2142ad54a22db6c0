package gate

import (
	"strings"

	"ratchet/internal/logging"
	"ratchet/internal/task"
	"ratchet/internal/types"
)

// CheckToolCall gates a single tool execution. Read-class tools always pass.
// Write-class tools require a task in active status: mutation without a plan
// is what the planning gate exists to prevent. The rejection names the tools
// that fix the situation so the model can recover in one turn.
func (g *Gate) CheckToolCall(def types.ToolDefinition) CheckResult {
	if def.Class != types.ToolClassWrite {
		return accept(nil)
	}

	current := g.session.CurrentTask()
	if current != nil && current.Status == task.StatusActive {
		return accept(nil)
	}

	logging.Gate("Planning gate blocked write tool %q (no active task)", def.Name)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditPlanningBlock,
		Target:    def.Name,
		Success:   false,
		Message:   "write tool without active task",
	})
	return reject(MarkerPlanningValidation,
		"The tool %q modifies the workspace, but no task is active. "+
			"Plan first: call create_task to describe the work, then "+
			"set_current_task to activate it, and retry the operation.",
		def.Name)
}

// checkPlanning validates a completion claim against the planning record.
// Claiming completion is rejected when tasks were planned but none ever left
// waiting: that means the model wrote a plan and then answered without
// executing any of it.
func (g *Gate) checkPlanning() CheckResult {
	tasks := g.session.Tasks()

	var open []*task.Task
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return accept(nil)
	}
	if g.session.EverActivated() {
		return accept(nil)
	}

	return reject(MarkerPlanningValidation,
		"%d task(s) were planned but none was ever started:\n%s\n"+
			"Activate a task with set_current_task and work it before claiming completion.",
		len(open), describeTasks(sortTasks(open), 5))
}

// sortTasks orders tasks for display: priority desc, then creation asc.
func sortTasks(tasks []*task.Task) []*task.Task {
	out := append([]*task.Task(nil), tasks...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && taskLess(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func taskLess(a, b *task.Task) bool {
	pa, pb := priorityRank(a.Priority), priorityRank(b.Priority)
	if pa != pb {
		return pa > pb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return strings.Compare(a.ID, b.ID) < 0
}

func priorityRank(p task.Priority) int {
	switch p {
	case task.PriorityHigh:
		return 3
	case task.PriorityMedium:
		return 2
	case task.PriorityLow:
		return 1
	}
	return 0
}
