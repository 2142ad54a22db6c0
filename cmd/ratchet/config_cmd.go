package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ratchet/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage workspace configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .ratchet/config.yaml to the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := filepath.Abs(workspace)
		if err != nil {
			return err
		}
		path := filepath.Join(ws, ".ratchet", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := filepath.Abs(workspace)
		if err != nil {
			return err
		}
		cfg, err := config.LoadWorkspace(ws)
		if err != nil {
			return err
		}
		// Never echo credentials.
		if cfg.LLM.APIKey != "" {
			cfg.LLM.APIKey = "(set)"
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
