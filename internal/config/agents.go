package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentPreset is a reusable subagent profile loaded from
// .ratchet/agents/<name>.yaml. Presets describe what a named agent kind is
// for and which tools it may use; the host surfaces them to the model when
// spawning.
type AgentPreset struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	AllowedTools  []string `yaml:"allowed_tools"`
	MaxIterations int      `yaml:"max_iterations"`
	Timeout       string   `yaml:"timeout"`
}

// LoadAgentPresets reads every *.yaml preset under workspace/.ratchet/agents.
// A missing directory is not an error; a malformed file is.
func LoadAgentPresets(workspace string) ([]AgentPreset, error) {
	dir := filepath.Join(workspace, ".ratchet", "agents")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read agents directory: %w", err)
	}

	var presets []AgentPreset
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read preset %s: %w", entry.Name(), err)
		}
		var preset AgentPreset
		if err := yaml.Unmarshal(data, &preset); err != nil {
			return nil, fmt.Errorf("failed to parse preset %s: %w", entry.Name(), err)
		}
		if preset.Name == "" {
			preset.Name = strings.TrimSuffix(entry.Name(), ".yaml")
		}
		presets = append(presets, preset)
	}
	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })
	return presets, nil
}

// DescribePresets renders presets as a prompt section listing each agent kind
// and its tool allow-list. Empty when there are no presets.
func DescribePresets(presets []AgentPreset) string {
	if len(presets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available subagent presets (use these names and tool lists with spawn_agents):\n")
	for _, p := range presets {
		fmt.Fprintf(&b, "- %s", p.Name)
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		if len(p.AllowedTools) > 0 {
			fmt.Fprintf(&b, " (tools: %s)", strings.Join(p.AllowedTools, ", "))
		} else {
			b.WriteString(" (reasoning only)")
		}
		b.WriteString("\n")
	}
	return b.String()
}
