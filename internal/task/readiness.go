package task

import "sort"

// ReadyOptions configures next-task resolution.
type ReadyOptions struct {
	// MaxTasks caps the returned slice; 0 means unlimited.
	MaxTasks int

	// IndependentOnly restricts the result to a maximal mutually-independent
	// subset (no returned task is an ancestor of another), safe for parallel
	// dispatch.
	IndependentOnly bool
}

// ReadySet is the result of next-task resolution.
type ReadySet struct {
	Tasks []*Task

	// TotalReady counts all ready tasks before the MaxTasks cap.
	TotalReady int

	// TotalRemaining counts all non-terminal tasks.
	TotalRemaining int

	// ExecutionProgress is the percentage of tasks in a terminal status.
	ExecutionProgress float64
}

// NextTasks computes the next executable tasks from the full task set.
// A task is ready iff it is waiting and either has no children or all of its
// children are terminal. Ordering is deterministic: priority high before
// medium before low, ties broken by creation time ascending, then by id.
// NextTasks never mutates its input.
func NextTasks(tasks map[string]*Task, opts ReadyOptions) ReadySet {
	set := ReadySet{}
	if len(tasks) == 0 {
		return set
	}

	children := make(map[string][]*Task)
	for _, t := range tasks {
		if t.ParentID != "" {
			children[t.ParentID] = append(children[t.ParentID], t)
		}
	}

	terminal := 0
	var ready []*Task
	for _, t := range tasks {
		if t.Status.IsTerminal() {
			terminal++
			continue
		}
		set.TotalRemaining++
		if t.Status != StatusWaiting {
			continue
		}
		if allTerminal(children[t.ID]) {
			ready = append(ready, t)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority.rank() != ready[j].Priority.rank() {
			return ready[i].Priority.rank() > ready[j].Priority.rank()
		}
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})

	set.TotalReady = len(ready)
	set.ExecutionProgress = float64(terminal) / float64(len(tasks)) * 100

	if opts.IndependentOnly {
		ready = independentSubset(ready, tasks)
	}
	if opts.MaxTasks > 0 && len(ready) > opts.MaxTasks {
		ready = ready[:opts.MaxTasks]
	}
	set.Tasks = ready
	return set
}

func allTerminal(children []*Task) bool {
	for _, c := range children {
		if !c.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// independentSubset keeps, in order, every task that neither shares an
// ancestor/descendant relationship nor a related file with an already-kept
// task. Because input order encodes dispatch preference, the greedy scan
// yields the maximal subset that respects it.
func independentSubset(ready []*Task, tasks map[string]*Task) []*Task {
	var kept []*Task
	for _, candidate := range ready {
		ok := true
		for _, k := range kept {
			if related(candidate, k, tasks) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// related reports whether a and b conflict for parallel dispatch: one is an
// ancestor of the other, or they touch a common file.
func related(a, b *Task, tasks map[string]*Task) bool {
	if isAncestor(a.ID, b, tasks) || isAncestor(b.ID, a, tasks) {
		return true
	}
	for _, fa := range a.RelatedFiles {
		for _, fb := range b.RelatedFiles {
			if fa == fb {
				return true
			}
		}
	}
	return false
}

func isAncestor(ancestorID string, t *Task, tasks map[string]*Task) bool {
	for cur := t; cur.ParentID != ""; {
		parent, ok := tasks[cur.ParentID]
		if !ok {
			return false
		}
		if parent.ID == ancestorID {
			return true
		}
		cur = parent
	}
	return false
}
