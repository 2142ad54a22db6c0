package gate

import (
	"fmt"

	"ratchet/internal/task"
)

// checkWorkflow enforces the completion workflow over the whole task tree.
// A completion claim is only valid when every non-terminal task is in
// pending_verification with a completion summary and, where required, a
// passing verification newer than the pending_verification transition.
//
// The second return value lists tasks that satisfied every requirement and
// may be finalized to completed once the remaining checks accept.
//
// In relaxed mode every hard failure is demoted to a warning and all
// pending_verification tasks are treated as completable; relaxed exists for
// evaluation harnesses and is never the operating default.
func (g *Gate) checkWorkflow() (CheckResult, []string) {
	tasks := g.session.Tasks()
	relaxed := g.mode == task.ModeRelaxed

	var open []*task.Task
	var pending []*task.Task
	for _, t := range tasks {
		switch {
		case t.Status.IsTerminal():
		case t.Status == task.StatusPendingVerification:
			pending = append(pending, t)
		default:
			open = append(open, t)
		}
	}

	var warnings []string
	if len(open) > 0 {
		if !relaxed {
			return reject(MarkerOpenTasks,
				"%d task(s) are still open:\n%s\n"+
					"Finish each task (transition it to pending_verification, verify, and "+
					"supply a completion summary) or abandon it before claiming completion.",
				len(open), describeTasks(sortTasks(open), 5)), nil
		}
		warnings = append(warnings, fmt.Sprintf("%s %d open task(s) remain", MarkerOpenTasks, len(open)))
	}

	var completable []string
	for _, t := range sortTasks(pending) {
		if relaxed {
			completable = append(completable, t.ID)
			continue
		}

		if t.CompletionMessage == "" {
			return reject(MarkerSummaryRequired,
				"Task %s (%s) is pending verification but has no completion summary. "+
					"Call complete_task with a summary of what was done.",
				t.ID, t.Description), nil
		}

		// Verification is mandatory in strict mode, and in any mode when
		// edits were recorded against the task.
		needVerification := g.mode == task.ModeStrict || len(g.session.EditsForTask(t.ID)) > 0
		if needVerification && !g.freshVerification(t) {
			return reject(MarkerVerification,
				"Task %s (%s) has no passing verification newer than its "+
					"pending_verification transition. Run the relevant checks and "+
					"record the result with verify_task before completing.",
				t.ID, t.Description), nil
		}
		completable = append(completable, t.ID)
	}

	return accept(warnings), completable
}

// freshVerification reports whether a passing verification record exists
// that is newer than the task's pending_verification transition. Stale
// records do not count: the work may have changed since they were taken.
func (g *Gate) freshVerification(t *task.Task) bool {
	for _, rec := range g.session.VerificationsFor(t.ID) {
		if rec.Passed && rec.Timestamp.After(t.PendingVerificationAt) {
			return true
		}
	}
	return false
}
