package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ratchet/internal/config"
	"ratchet/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the memory store",
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the long-term archive",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreForMaintenance()
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := store.SearchArchive(strings.Join(args, " "), limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No archive entries matched.")
			return nil
		}
		for i, entry := range entries {
			text := entry.Summary
			if text == "" {
				text = entry.Content
			}
			fmt.Printf("%d. [%s] %s (%s)\n", i+1, entry.Importance, text, entry.Timestamp.Format("2006-01-02"))
		}
		return nil
	},
}

var memorySummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Render the context summary for this workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreForMaintenance()
		if err != nil {
			return err
		}
		defer store.Close()

		budget, _ := cmd.Flags().GetInt("budget")
		summary := store.ContextSummary(budget)
		if summary == "" {
			fmt.Println("No memory recorded for this workspace yet.")
			return nil
		}
		fmt.Println(summary)
		return nil
	},
}

var memoryCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Prune old low-importance archive entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreForMaintenance()
		if err != nil {
			return err
		}
		defer store.Close()

		days, _ := cmd.Flags().GetInt("days")
		stats, err := store.Archive().CompactArchive(days)
		if err != nil {
			return err
		}
		logger.Info("archive compacted",
			zap.Int("deleted", stats.EntriesDeleted),
			zap.Bool("vacuumed", stats.Vacuumed))
		fmt.Printf("Deleted %d entries older than %d days.\n", stats.EntriesDeleted, days)
		return nil
	},
}

func openStoreForMaintenance() (*memory.Store, error) {
	ws, err := filepath.Abs(workspace)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadWorkspace(ws)
	if err != nil {
		return nil, err
	}
	return openStore(cfg, ws)
}

func init() {
	memorySearchCmd.Flags().Int("limit", 10, "maximum results")
	memorySummaryCmd.Flags().Int("budget", defaultContextBudget, "token budget for the summary")
	memoryCompactCmd.Flags().Int("days", 90, "retention window in days")

	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memorySummaryCmd)
	memoryCmd.AddCommand(memoryCompactCmd)
}
