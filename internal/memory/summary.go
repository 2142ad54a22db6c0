package memory

import (
	"fmt"
	"strings"

	"ratchet/internal/logging"
	"ratchet/internal/task"
)

// highConfidence is the floor for records worth surfacing in a summary.
const highConfidence = 0.7

// summarySection is one named block of the context summary.
type summarySection struct {
	name  string
	build func() string
}

// BuildContextSummary renders session and project memory into a prompt-ready
// digest. Sections come in a fixed order, most important first: goal, active
// task, unresolved errors, high-confidence facts and preferences, active
// files, pending tasks, project context, feature groups. Assembly is greedy
// against tokenBudget and stops at the first section that would overflow;
// a budget of 0 means unlimited.
func BuildContextSummary(session *SessionStore, project *ProjectStore, tokenBudget int) string {
	timer := logging.StartTimer(logging.CategoryMemory, "BuildContextSummary")
	defer timer.Stop()

	sections := []summarySection{
		{"goal", func() string { return goalSection(session) }},
		{"active_task", func() string { return activeTaskSection(session) }},
		{"errors", func() string { return errorSection(session) }},
		{"facts", func() string { return factSection(project) }},
		{"preferences", func() string { return preferenceSection(project) }},
		{"active_files", func() string { return activeFileSection(session) }},
		{"pending_tasks", func() string { return pendingTaskSection(session) }},
		{"project_context", func() string { return contextSection(project) }},
		{"feature_groups", func() string { return featureGroupSection(project) }},
	}

	var parts []string
	used := 0
	for _, s := range sections {
		content := s.build()
		if content == "" {
			continue
		}
		cost := estimateTokens(content)
		if tokenBudget > 0 && used+cost > tokenBudget {
			logging.MemoryDebug("Context summary stopped before %q section (budget %d, used %d, next %d)",
				s.name, tokenBudget, used, cost)
			break
		}
		parts = append(parts, content)
		used += cost
	}

	summary := strings.Join(parts, "\n\n")
	logging.MemoryDebug("Assembled context summary: %d sections, %d chars, ~%d tokens",
		len(parts), len(summary), estimateTokens(summary))
	return summary
}

// estimateTokens approximates token count as chars/4, rounding up.
func estimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + 3) / 4
}

func goalSection(session *SessionStore) string {
	if session == nil {
		return ""
	}
	goal := session.CurrentGoal()
	if goal == nil {
		return ""
	}
	return fmt.Sprintf("## Goal\n%s (%s)", goal.Description, goal.Status)
}

func activeTaskSection(session *SessionStore) string {
	if session == nil {
		return ""
	}
	t := session.CurrentTask()
	if t == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Active Task\n")
	fmt.Fprintf(&b, "[%s] %s (%s, %s priority)", t.ID, t.Description, t.Status, t.Priority)
	if t.BlockedBy != "" {
		fmt.Fprintf(&b, "\nBlocked by: %s", t.BlockedBy)
	}
	if t.WaitingFor != "" {
		fmt.Fprintf(&b, "\nWaiting for: %s", t.WaitingFor)
	}
	if len(t.RelatedFiles) > 0 {
		fmt.Fprintf(&b, "\nFiles: %s", strings.Join(t.RelatedFiles, ", "))
	}
	return b.String()
}

func errorSection(session *SessionStore) string {
	if session == nil {
		return ""
	}
	errs := session.UnresolvedErrors()
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Unresolved Errors\n")
	for i, e := range errs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- [%s] %s", e.Severity, e.Message)
		if e.Source != "" {
			fmt.Fprintf(&b, " (%s)", e.Source)
		}
	}
	return b.String()
}

func factSection(project *ProjectStore) string {
	if project == nil {
		return ""
	}
	var lines []string
	for _, f := range project.GetFacts() {
		if f.Confidence < highConfidence {
			continue
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", f.Category, f.Content))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Known Facts\n" + strings.Join(lines, "\n")
}

func preferenceSection(project *ProjectStore) string {
	if project == nil {
		return ""
	}
	var lines []string
	for _, p := range project.GetPreferences() {
		if p.Confidence < highConfidence {
			continue
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", p.Category, p.Preference))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## User Preferences\n" + strings.Join(lines, "\n")
}

func activeFileSection(session *SessionStore) string {
	if session == nil {
		return ""
	}
	working := session.Working()
	if len(working.ActiveFiles) == 0 {
		return ""
	}
	var lines []string
	for _, f := range working.ActiveFiles {
		line := "- " + f.Path
		if len(f.Sections) > 0 {
			var names []string
			for _, sec := range f.Sections {
				names = append(names, sec.Name)
			}
			line += " (" + strings.Join(names, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return "## Active Files\n" + strings.Join(lines, "\n")
}

func pendingTaskSection(session *SessionStore) string {
	if session == nil {
		return ""
	}
	set := session.NextTasks(task.ReadyOptions{MaxTasks: 5})
	if len(set.Tasks) == 0 && set.TotalRemaining == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Pending Tasks\n")
	for _, t := range set.Tasks {
		fmt.Fprintf(&b, "- [%s] %s (%s priority)\n", t.ID, t.Description, t.Priority)
	}
	fmt.Fprintf(&b, "%d task(s) remaining, %.0f%% complete", set.TotalRemaining, set.ExecutionProgress)
	return b.String()
}

func contextSection(project *ProjectStore) string {
	if project == nil {
		return ""
	}
	var lines []string
	for _, c := range project.GetContexts() {
		if c.Confidence < highConfidence {
			continue
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", c.Category, c.Content))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Project Context\n" + strings.Join(lines, "\n")
}

func featureGroupSection(project *ProjectStore) string {
	if project == nil {
		return ""
	}
	groups := project.GetFeatureGroups()
	if len(groups) == 0 {
		return ""
	}
	var lines []string
	for _, g := range groups {
		line := "- " + g.Name
		if len(g.Files) > 0 {
			line += fmt.Sprintf(" (%d files)", len(g.Files))
		}
		lines = append(lines, line)
	}
	return "## Feature Groups\n" + strings.Join(lines, "\n")
}
