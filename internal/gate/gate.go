// Package gate implements the composite completion gate: the planning gate
// that blocks unplanned writes, the completion-workflow gate that enforces
// the task state machine before the loop may terminate, and the
// incomplete-work heuristic that scans final answers for signs of unfinished
// business. Every rejection carries a stable marker substring so the loop
// and tests can recognize the violation class without parsing prose.
package gate

import (
	"context"
	"fmt"
	"strings"

	"ratchet/internal/logging"
	"ratchet/internal/memory"
	"ratchet/internal/task"
	"ratchet/internal/types"
)

// Rejection markers. These are contract, not cosmetics: the loop greps for
// them, tests assert on them, and corrective messages embed them verbatim.
const (
	MarkerPlanningValidation = "[PLANNING_VALIDATION]"
	MarkerOpenTasks          = "[OPEN_TASKS_REMAINING]"
	MarkerVerification       = "[VERIFICATION_REQUIRED]"
	MarkerSummaryRequired    = "[COMPLETION_SUMMARY_REQUIRED]"
	MarkerIncompleteWork     = "[INCOMPLETE_WORK]"
)

// CheckResult is the outcome of one gate consultation. A rejected result
// carries the marker and a corrective message body the loop injects as a
// synthetic user message.
type CheckResult struct {
	Accepted bool
	Marker   string
	Reason   string
	Warnings []string
}

func reject(marker, format string, args ...interface{}) CheckResult {
	return CheckResult{
		Marker: marker,
		Reason: fmt.Sprintf("%s %s", marker, fmt.Sprintf(format, args...)),
	}
}

func accept(warnings []string) CheckResult {
	return CheckResult{Accepted: true, Warnings: warnings}
}

// Gate is the composite validator. It is immutable after construction: the
// session store, mode, and detectors are supplied once and never swapped.
type Gate struct {
	mode       task.Mode
	session    *memory.SessionStore
	classifier types.Classifier
	validator  *BatchValidator
}

// Option configures optional gate collaborators.
type Option func(*Gate)

// WithClassifier replaces the default pattern classifier.
func WithClassifier(c types.Classifier) Option {
	return func(g *Gate) { g.classifier = c }
}

// WithValidator enables LLM batch validation of detected tracking items.
func WithValidator(v *BatchValidator) Option {
	return func(g *Gate) { g.validator = v }
}

// New builds a gate over the session store. mode controls whether
// completion-workflow failures reject (strict) or demote to warnings
// (relaxed).
func New(session *memory.SessionStore, mode task.Mode, opts ...Option) *Gate {
	g := &Gate{
		mode:       mode,
		session:    session,
		classifier: NewPatternClassifier(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Mode returns the enforcement mode the gate was built with.
func (g *Gate) Mode() task.Mode {
	return g.mode
}

// CheckAnswer validates a plain assistant answer as a completion claim.
// Checks run in order: planning validation, completion workflow, then the
// incomplete-work heuristic. The first rejection wins. On full acceptance,
// tasks that were verified and summarized in pending_verification are
// finalized to completed.
func (g *Gate) CheckAnswer(ctx context.Context, answer string) CheckResult {
	timer := logging.StartTimer(logging.CategoryGate, "CheckAnswer")
	defer timer.Stop()

	if res := g.checkPlanning(); !res.Accepted {
		logging.Gate("Rejected: %s", res.Marker)
		return res
	}

	workflow, completable := g.checkWorkflow()
	if !workflow.Accepted {
		logging.Gate("Rejected: %s", workflow.Marker)
		return workflow
	}

	if res := g.checkIncompleteWork(ctx, answer); !res.Accepted {
		logging.Gate("Rejected: %s", res.Marker)
		return res
	}

	for _, id := range completable {
		if err := g.session.CompleteTask(id, ""); err != nil {
			logging.Get(logging.CategoryGate).Warn("Failed to finalize %s: %v", id, err)
		} else {
			logging.Gate("Finalized verified task %s", id)
		}
	}

	logging.Gate("Accepted completion (warnings=%d)", len(workflow.Warnings))
	return accept(workflow.Warnings)
}

// describeTasks renders a short task list for corrective messages.
func describeTasks(tasks []*task.Task, limit int) string {
	var b strings.Builder
	for i, t := range tasks {
		if i >= limit {
			fmt.Fprintf(&b, "\n- ... and %d more", len(tasks)-limit)
			break
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- [%s] %s (%s)", t.ID, t.Description, t.Status)
	}
	return b.String()
}
