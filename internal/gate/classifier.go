package gate

import (
	"context"
	"regexp"
	"strings"

	"ratchet/internal/types"
)

// PatternClassifier is the default pattern-based implementation of
// types.Classifier. It flags an answer as incomplete when completion
// language co-occurs with remaining-work language, when TODO or unchecked
// checkbox markers appear, or when the answer asks the user for permission
// to proceed. The phrase tables are heuristics, not contract: callers must
// depend on the Verdict, never on specific literals.
type PatternClassifier struct {
	completion []string
	remaining  []string
	todoRe     *regexp.Regexp
	checkboxRe *regexp.Regexp
	permission []*regexp.Regexp
}

// NewPatternClassifier builds the classifier with the default phrase tables.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{
		completion: []string{
			"done", "finished", "completed", "complete", "all set",
			"wrapped up", "that's it", "that is it", "implemented everything",
		},
		remaining: []string{
			"todo", "to-do", "still need", "still needs", "remaining",
			"not yet", "haven't", "left to", "next step", "next steps",
			"follow-up", "later on", "eventually", "at some point",
		},
		todoRe:     regexp.MustCompile(`(?im)^\s*(?:[-*]\s+)?(?:TODO|FIXME)\b[:\s]*(.*)$`),
		checkboxRe: regexp.MustCompile(`(?m)^\s*[-*]\s+\[ \]\s*(.+)$`),
		permission: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:should|shall|may|can)\s+(?:i|we)\b[^?]*\?`),
			regexp.MustCompile(`(?i)\b(?:would you like|do you want)\s+(?:me|us)\b[^?]*\?`),
			regexp.MustCompile(`(?i)\blet me know\b[^.?]*\b(?:should|want|like)\b`),
			regexp.MustCompile(`(?i)\bpermission to\b`),
		},
	}
}

// Classify implements types.Classifier.
func (c *PatternClassifier) Classify(_ context.Context, text string) (types.Verdict, error) {
	lower := strings.ToLower(text)

	var signals []types.Signal

	// TODO / checkbox markers are direct evidence of listed unfinished work.
	for _, m := range c.todoRe.FindAllStringSubmatch(text, -1) {
		signals = append(signals, types.Signal{
			Kind:    types.SignalTodoItem,
			Excerpt: firstLine(strings.TrimSpace(m[0])),
			Reason:  "TODO marker in final answer",
		})
	}
	for _, m := range c.checkboxRe.FindAllStringSubmatch(text, -1) {
		signals = append(signals, types.Signal{
			Kind:    types.SignalTodoItem,
			Excerpt: strings.TrimSpace(m[1]),
			Reason:  "unchecked checkbox in final answer",
		})
	}

	// Completion language next to remaining-work language.
	claim := firstContained(lower, c.completion)
	left := firstContained(lower, c.remaining)
	if claim != "" && left != "" {
		signals = append(signals, types.Signal{
			Kind:    types.SignalRemainingWork,
			Excerpt: excerptAround(text, left),
			Reason:  "claims \"" + claim + "\" while mentioning \"" + left + "\"",
		})
	}

	// Permission requests. The gate decides whether they matter by
	// comparing against the active task; here they are only reported.
	for _, re := range c.permission {
		if m := re.FindString(text); m != "" {
			signals = append(signals, types.Signal{
				Kind:    types.SignalPermissionRequest,
				Excerpt: firstLine(strings.TrimSpace(m)),
				Reason:  "asks the user instead of acting",
			})
		}
	}

	if len(signals) == 0 {
		return types.Verdict{}, nil
	}

	verdict := types.Verdict{
		Incomplete: true,
		Signals:    signals,
		Priority:   "medium",
	}
	for _, sig := range signals {
		if sig.Kind == types.SignalTodoItem {
			verdict.Priority = "high"
			break
		}
	}
	switch {
	case claim != "" && left != "":
		verdict.Reason = "mentions remaining work alongside a completion claim"
	case hasKind(signals, types.SignalTodoItem):
		verdict.Reason = "lists unfinished items"
	default:
		verdict.Reason = "asks for permission instead of acting"
	}
	return verdict, nil
}

func firstContained(lower string, phrases []string) string {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}

func hasKind(signals []types.Signal, kind types.SignalKind) bool {
	for _, sig := range signals {
		if sig.Kind == kind {
			return true
		}
	}
	return false
}

// excerptAround returns the line of text containing the (lowercased) phrase.
func excerptAround(text, phrase string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(strings.ToLower(line), phrase) {
			return strings.TrimSpace(line)
		}
	}
	return phrase
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
