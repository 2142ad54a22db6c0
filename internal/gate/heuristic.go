package gate

import (
	"context"
	"fmt"
	"strings"

	"ratchet/internal/logging"
	"ratchet/internal/types"
)

// checkIncompleteWork runs the configured classifier over the plain answer
// and opens tracking items for the signals that survive filtering. The
// detector is approximate: a classifier failure never blocks completion, it
// only loses the signal.
func (g *Gate) checkIncompleteWork(ctx context.Context, answer string) CheckResult {
	verdict, err := g.classifier.Classify(ctx, answer)
	if err != nil {
		logging.Get(logging.CategoryGate).Warn("Classifier failed, skipping incomplete-work check: %v", err)
		return accept(nil)
	}
	if !verdict.Incomplete {
		return accept(nil)
	}

	signals := g.filterSignals(verdict.Signals)
	if len(signals) == 0 {
		return accept(nil)
	}

	if g.validator != nil {
		signals = g.validateSignals(ctx, signals)
		if len(signals) == 0 {
			return accept(nil)
		}
	}

	var lines []string
	for _, sig := range signals {
		ti := g.session.AddTracking(sig.Excerpt, nil)
		lines = append(lines, fmt.Sprintf("- [%s] %s (%s)", ti.ID, sig.Excerpt, sig.Reason))
	}

	return reject(MarkerIncompleteWork,
		"The answer claims completion but %s. Detected items:\n%s\n"+
			"Resolve each item (or close its tracking entry with a reason) before finishing.",
		verdict.Reason, strings.Join(lines, "\n"))
}

// filterSignals drops permission-request signals that do not concern the
// active task. When the request does overlap the task the model is supposed
// to be working, asking is itself the incompleteness: the agent should act,
// not ask.
func (g *Gate) filterSignals(signals []types.Signal) []types.Signal {
	current := g.session.CurrentTask()

	var kept []types.Signal
	for _, sig := range signals {
		if sig.Kind == types.SignalPermissionRequest {
			if current == nil || !wordOverlap(sig.Excerpt, current.Description) {
				continue
			}
			sig.Reason = fmt.Sprintf("asks permission for work already covered by task %s", current.ID)
		}
		kept = append(kept, sig)
	}
	return kept
}

// validateSignals runs the batch yes/no LLM validation over detected
// signals. Any failure keeps everything: dropping real incomplete work is
// worse than one spurious corrective round.
func (g *Gate) validateSignals(ctx context.Context, signals []types.Signal) []types.Signal {
	items := make([]string, len(signals))
	for i, sig := range signals {
		items[i] = sig.Excerpt
	}

	keep := g.validator.Validate(ctx, items)
	if len(keep) != len(signals) {
		logging.Get(logging.CategoryGate).Warn(
			"Batch validation returned %d verdicts for %d items, keeping all", len(keep), len(signals))
		return signals
	}

	var kept []types.Signal
	for i, sig := range signals {
		if keep[i] {
			kept = append(kept, sig)
		}
	}
	return kept
}

// wordOverlap reports whether two texts share at least two significant
// words. Words of four letters or fewer are noise for this purpose.
func wordOverlap(a, b string) bool {
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(a)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 4 {
			seen[w] = true
		}
	}
	matches := 0
	for _, w := range strings.Fields(strings.ToLower(b)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if seen[w] {
			matches++
			if matches >= 2 {
				return true
			}
		}
	}
	return false
}
