package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ratchet/internal/logging"
	"ratchet/internal/types"
)

const validatorSystemPrompt = `You review items flagged as possibly-unfinished work in a coding agent's final answer.
For each numbered item, answer whether it represents real work the agent still owes (true) or a false positive such as historical narration or a hypothetical (false).
Respond with ONLY a JSON array of booleans, one per item, in order. Example: [true, false, true]`

// BatchValidator asks the LLM to confirm or dismiss detected incomplete-work
// items in a single yes/no batch call. It degrades in layers: an LLM failure
// falls back to rule-based filtering, and a malformed or wrong-length reply
// keeps every item. The validator can reduce noise; it must never be the
// reason real work gets dropped.
type BatchValidator struct {
	client types.LLMClient
}

// NewBatchValidator builds a validator over the given client.
func NewBatchValidator(client types.LLMClient) *BatchValidator {
	return &BatchValidator{client: client}
}

// Validate returns one keep/drop verdict per item, always exactly
// len(items) entries.
func (v *BatchValidator) Validate(ctx context.Context, items []string) []bool {
	if len(items) == 0 {
		return nil
	}

	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}

	completion, err := v.client.Chat(ctx, []types.Message{
		{Role: types.RoleSystem, Content: validatorSystemPrompt},
		{Role: types.RoleUser, Content: b.String()},
	}, nil)
	if err != nil {
		logging.Get(logging.CategoryGate).Warn("Batch validation call failed, using rule filter: %v", err)
		return ruleFilter(items)
	}

	verdicts, ok := parseBoolArray(completion.Text)
	if !ok || len(verdicts) != len(items) {
		logging.Get(logging.CategoryGate).Warn(
			"Batch validation reply unusable (%d verdicts for %d items), keeping all",
			len(verdicts), len(items))
		return keepAll(len(items))
	}
	return verdicts
}

// parseBoolArray extracts a JSON boolean array from an LLM reply, tolerating
// code fences and surrounding prose.
func parseBoolArray(text string) ([]bool, bool) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, false
	}

	var verdicts []bool
	if err := json.Unmarshal([]byte(text[start:end+1]), &verdicts); err != nil {
		return nil, false
	}
	return verdicts, true
}

// ruleFilter is the no-LLM fallback: keep items that read like actionable
// work, drop fragments too short to mean anything.
func ruleFilter(items []string) []bool {
	actionable := []string{
		"implement", "fix", "add", "write", "update", "test", "verify",
		"remove", "refactor", "need", "missing", "remaining", "todo",
	}
	out := make([]bool, len(items))
	for i, item := range items {
		lower := strings.ToLower(item)
		if len(strings.TrimSpace(item)) < 8 {
			continue
		}
		for _, kw := range actionable {
			if strings.Contains(lower, kw) {
				out[i] = true
				break
			}
		}
	}
	return out
}

func keepAll(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}
