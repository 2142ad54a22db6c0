// ratchet is an autonomous coding-agent runtime: it iterates LLM turns and
// tool executions until a composite completion gate accepts the result.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	relaxed   bool
	workspace string

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ratchet",
	Short: "ratchet - autonomous coding-agent runtime",
	Long: `ratchet runs an iterate-until-done agent loop against an
OpenAI-compatible model: every turn either executes the tool calls the model
requests or submits the model's answer to a completion gate that refuses
premature victory declarations.

Work is tracked as a task tree with a strict lifecycle (waiting, active,
pending_verification, completed); concurrent subagents handle independent
subtasks; session and project memory persist context across runs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&relaxed, "relaxed", false, "relaxed gate mode: workflow failures become warnings")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
