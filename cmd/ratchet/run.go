package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ratchet/internal/config"
	"ratchet/internal/embedding"
	"ratchet/internal/gate"
	"ratchet/internal/llm"
	"ratchet/internal/logging"
	"ratchet/internal/memory"
	"ratchet/internal/session"
	"ratchet/internal/task"
	"ratchet/internal/tools"
)

// defaultContextBudget is the token budget for the memory context summary
// prepended to each run.
const defaultContextBudget = 2000

var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Run the agent loop on a single instruction",
	Long: `Processes a natural language instruction through the full loop:
plan tasks, execute tool calls, spawn subagents for independent subtasks,
and terminate only when the completion gate accepts the final answer.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstruction,
}

func runInstruction(cmd *cobra.Command, args []string) error {
	instruction := strings.Join(args, " ")

	ws, err := filepath.Abs(workspace)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}

	cfg, err := config.LoadWorkspace(ws)
	if err != nil {
		return err
	}
	if relaxed {
		cfg.Gate.Mode = "relaxed"
	}
	if verbose {
		cfg.Logging.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Initialize(ws); err != nil {
		logger.Warn("file logging unavailable", zap.Error(err))
	}
	if err := logging.InitAudit(); err != nil {
		logger.Warn("audit logging unavailable", zap.Error(err))
	}
	defer logging.CloseAudit()

	store, err := openStore(cfg, ws)
	if err != nil {
		return err
	}
	defer store.Close()

	mode := task.ParseMode(cfg.Gate.Mode)
	logger.Info("starting run",
		zap.String("workspace", ws),
		zap.String("model", cfg.LLM.Model),
		zap.String("gate_mode", mode.String()),
		zap.String("session", store.SessionID()))

	client := llm.NewClient(llm.ClientConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.GetLLMTimeout(),
	})

	registry := tools.NewRegistry()
	spawner := session.NewSpawner(client, registry, session.SpawnerConfig{
		MaxActive:            cfg.Subagents.MaxActive,
		DefaultMaxIterations: cfg.Subagents.DefaultMaxIterations,
		SpawnTimeout:         cfg.GetSpawnTimeout(),
		Mode:                 mode,
	})
	defer spawner.StopAll()
	tools.RegisterBuiltins(registry, store, spawner)

	var gateOpts []gate.Option
	if cfg.Gate.ValidateWithLLM {
		gateOpts = append(gateOpts, gate.WithValidator(gate.NewBatchValidator(client)))
	}

	presets, err := config.LoadAgentPresets(ws)
	if err != nil {
		return err
	}

	loop := session.NewLoop(client, registry, session.Policy{
		Gate:               gate.New(store.Session(), mode, gateOpts...),
		Session:            store.Session(),
		Memory:             store,
		MaxIterations:      cfg.Agent.MaxIterations,
		MinIterations:      cfg.Agent.MinIterations,
		HistoryCap:         cfg.Agent.HistoryCap,
		BatchParallelism:   cfg.Agent.BatchParallelism,
		ContextTokenBudget: defaultContextBudget,
		SystemPrompt:       buildSystemPrompt(store, presets),
	})
	loop.SetWorkDir(ws)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := loop.ProcessUserMessage(ctx, instruction)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	fmt.Println(result.Text)
	if result.Outcome == session.OutcomeExhausted {
		fmt.Fprintf(os.Stderr, "\nwarning: iteration ceiling reached after %d iterations; answer is not gate-approved\n",
			result.Iterations)
	}
	logger.Info("run finished",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("iterations", result.Iterations))

	if err := store.EndSession(result.Text); err != nil {
		logger.Warn("failed to persist session summary", zap.Error(err))
	}
	return nil
}

func openStore(cfg *config.Config, ws string) (*memory.Store, error) {
	homeDir, err := cfg.ResolveHomeDir()
	if err != nil {
		return nil, err
	}
	archivePath, err := cfg.ResolveArchivePath()
	if err != nil {
		return nil, err
	}

	// Semantic recall is optional; an unreachable engine must not block runs.
	var engine embedding.Engine
	if cfg.Embedding.Provider != "" {
		engine, err = embedding.NewEngine(embedding.Config{
			Provider:       cfg.Embedding.Provider,
			OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
			OllamaModel:    cfg.Embedding.OllamaModel,
			GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
			GenAIModel:     cfg.Embedding.GenAIModel,
		})
		if err != nil {
			logger.Warn("embedding engine unavailable, keyword search only", zap.Error(err))
			engine = nil
		}
	}

	return memory.Open(memory.Options{
		HomeDir:       homeDir,
		ProjectPath:   ws,
		Mode:          task.ParseMode(cfg.Gate.Mode),
		SessionExpiry: cfg.Memory.SessionExpiryConfidence,
		ArchivePath:   archivePath,
		Engine:        engine,
		Decay: memory.DecayConfig{
			FactRatePerHour:       cfg.Memory.FactDecayPerHour,
			PreferenceRatePerHour: cfg.Memory.PreferenceDecayPerHour,
			DecisionRatePerHour:   cfg.Memory.DecisionDecayPerHour,
			ContextRatePerHour:    cfg.Memory.ContextDecayPerHour,
			MinConfidence:         cfg.Memory.MinConfidence,
			StableCategories:      cfg.Memory.StableCategories,
		},
		Watch: true,
	})
}

// buildSystemPrompt assembles the workflow contract, any previous-session
// context, and the subagent preset catalog.
func buildSystemPrompt(store *memory.Store, presets []config.AgentPreset) string {
	var b strings.Builder
	b.WriteString(`You are an autonomous coding agent. Plan before you act:
1. Create tasks with create_task and activate one with set_current_task before editing anything.
2. Record file edits with note_file and failures with record_error as you work.
3. When a task's work is done, move it to pending_verification with update_task_status, record a verification with verify_task, then complete_task with a summary.
4. Spawn subagents with spawn_agents for independent subtasks and join them with wait_agents.
Do not declare the request finished while tasks remain open.`)

	if resume := store.Project().ResumptionContext(); resume != "" {
		b.WriteString("\n\n")
		b.WriteString(resume)
	}
	if catalog := config.DescribePresets(presets); catalog != "" {
		b.WriteString("\n\n")
		b.WriteString(catalog)
	}
	return b.String()
}
