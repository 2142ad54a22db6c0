// Package config loads and persists ratchet configuration.
// Configuration lives at .ratchet/config.yaml in the workspace; a missing
// file yields defaults, and a handful of environment variables override the
// file so the binary runs without any setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all ratchet configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Agent loop settings
	Agent AgentConfig `yaml:"agent"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Memory store configuration
	Memory MemoryConfig `yaml:"memory"`

	// Embedding engine for optional semantic archive recall
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Completion gate configuration
	Gate GateConfig `yaml:"gate"`

	// Subagent scheduler configuration
	Subagents SubagentConfig `yaml:"subagents"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// AgentConfig configures the top-level loop.
type AgentConfig struct {
	// MaxIterations bounds the loop; 0 means unlimited.
	MaxIterations int `yaml:"max_iterations"`
	// MinIterations below which the incomplete-work heuristic stays quiet.
	MinIterations int `yaml:"min_iterations"`
	// HistoryCap bounds the conversation history kept in memory.
	HistoryCap int `yaml:"history_cap"`
	// BatchParallelism bounds the parallel tool batch executor.
	BatchParallelism int `yaml:"batch_parallelism"`
}

// LLMConfig configures the default LLM client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, openrouter
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	// HomeDir is where project-scope documents and the archive live.
	// Defaults to ~/.ratchet.
	HomeDir string `yaml:"home_dir"`

	// ArchivePath is the sqlite archive database path, relative to HomeDir
	// unless absolute.
	ArchivePath string `yaml:"archive_path"`

	// Confidence decay rates per category, in confidence units per hour.
	FactDecayPerHour       float64 `yaml:"fact_decay_per_hour"`
	PreferenceDecayPerHour float64 `yaml:"preference_decay_per_hour"`
	DecisionDecayPerHour   float64 `yaml:"decision_decay_per_hour"`
	ContextDecayPerHour    float64 `yaml:"context_decay_per_hour"`

	// MinConfidence is the decay floor.
	MinConfidence float64 `yaml:"min_confidence"`

	// SessionExpiryConfidence: session records below this are skipped by the
	// default getters.
	SessionExpiryConfidence float64 `yaml:"session_expiry_confidence"`

	// StableCategories are exempt from decay.
	StableCategories []string `yaml:"stable_categories"`
}

// EmbeddingConfig configures semantic archive recall. An empty provider
// disables it; keyword search remains the default and the fallback.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "", ollama, genai
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// GateConfig configures the completion gate.
type GateConfig struct {
	// Mode is "strict" or "relaxed". Relaxed demotes workflow failures to
	// warnings; it is meant for evaluation harnesses, not normal runs.
	Mode string `yaml:"mode"`

	// ValidateWithLLM enables batch validation of detected tracking items.
	ValidateWithLLM bool `yaml:"validate_with_llm"`
}

// SubagentConfig configures the subagent scheduler.
type SubagentConfig struct {
	MaxActive            int    `yaml:"max_active"`
	DefaultMaxIterations int    `yaml:"default_max_iterations"`
	SpawnTimeout         string `yaml:"spawn_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ratchet",
		Version: "0.3.0",

		Agent: AgentConfig{
			MaxIterations:    0, // unlimited
			MinIterations:    2,
			HistoryCap:       50,
			BatchParallelism: 4,
		},

		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "120s",
		},

		Memory: MemoryConfig{
			ArchivePath:             "archive.db",
			FactDecayPerHour:        0.01,
			PreferenceDecayPerHour:  0.005,
			DecisionDecayPerHour:    0.005,
			ContextDecayPerHour:     0.002,
			MinConfidence:           0.1,
			SessionExpiryConfidence: 0.3,
			StableCategories:        []string{"identity", "environment"},
		},

		Embedding: EmbeddingConfig{
			Provider:       "", // semantic recall off by default
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},

		Gate: GateConfig{
			Mode:            "strict",
			ValidateWithLLM: false,
		},

		Subagents: SubagentConfig{
			MaxActive:            3,
			DefaultMaxIterations: 10,
			SpawnTimeout:         "10m",
		},

		Logging: LoggingConfig{
			Debug: false,
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// LoadWorkspace loads the config for a workspace directory
// (workspace/.ratchet/config.yaml).
func LoadWorkspace(workspace string) (*Config, error) {
	return Load(filepath.Join(workspace, ".ratchet", "config.yaml"))
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
// Gate mode precedence is resolved here and only here: callers pass the
// result to the gate constructor, which never reads the environment.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "openai"
		}
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openrouter"
		if c.LLM.BaseURL == "" || c.LLM.BaseURL == "https://api.openai.com/v1" {
			c.LLM.BaseURL = "https://openrouter.ai/api/v1"
		}
	}

	if model := os.Getenv("RATCHET_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
	}
	if mode := os.Getenv("RATCHET_GATE_MODE"); mode == "strict" || mode == "relaxed" {
		c.Gate.Mode = mode
	}
	if home := os.Getenv("RATCHET_HOME"); home != "" {
		c.Memory.HomeDir = home
	}
	if os.Getenv("RATCHET_DEBUG") == "1" {
		c.Logging.Debug = true
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "openrouter":
	default:
		return fmt.Errorf("invalid LLM provider: %s", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY or OPENROUTER_API_KEY)")
	}
	if c.Gate.Mode != "strict" && c.Gate.Mode != "relaxed" {
		return fmt.Errorf("invalid gate mode: %s (want strict or relaxed)", c.Gate.Mode)
	}
	if c.Subagents.MaxActive < 1 {
		return fmt.Errorf("subagents.max_active must be >= 1, got %d", c.Subagents.MaxActive)
	}
	if c.Agent.BatchParallelism < 1 {
		return fmt.Errorf("agent.batch_parallelism must be >= 1, got %d", c.Agent.BatchParallelism)
	}
	return nil
}

// ResolveHomeDir returns the memory home directory, defaulting to ~/.ratchet.
func (c *Config) ResolveHomeDir() (string, error) {
	if c.Memory.HomeDir != "" {
		return c.Memory.HomeDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".ratchet"), nil
}

// ResolveArchivePath returns the archive database path.
func (c *Config) ResolveArchivePath() (string, error) {
	if filepath.IsAbs(c.Memory.ArchivePath) {
		return c.Memory.ArchivePath, nil
	}
	home, err := c.ResolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, c.Memory.ArchivePath), nil
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetSpawnTimeout returns the subagent spawn timeout as a duration.
func (c *Config) GetSpawnTimeout() time.Duration {
	d, err := time.ParseDuration(c.Subagents.SpawnTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}
