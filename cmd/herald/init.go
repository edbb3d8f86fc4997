package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/heraldbot/herald/internal/statepaths"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize the state directory and write a starter config.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := statepaths.StateDir()
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = filepath.Clean(args[0])
			}

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			cfgPath := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}

			body, err := starterConfig(dir)
			if err != nil {
				return err
			}
			if err := os.WriteFile(cfgPath, body, 0o644); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", dir)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "edit %s, then run: herald --config %s serve\n", cfgPath, cfgPath)
			return nil
		},
	}

	return cmd
}

func starterConfig(stateDir string) ([]byte, error) {
	cfg := map[string]any{
		"state_dir": stateDir,
		"bot": map[string]any{
			"prefix":        "!",
			"pairing_phone": "",
			"owners":        []string{},
		},
		"dispatch": map[string]any{
			"batch_size":  20,
			"batch_delay": (400 * time.Millisecond).String(),
		},
		"session": map[string]any{
			"backoff_floor":   time.Second.String(),
			"backoff_ceiling": (30 * time.Second).String(),
			"backoff_growth":  2.0,
		},
		"server": map[string]any{
			"enabled": true,
			"bind":    "127.0.0.1",
			"port":    8787,
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "text",
		},
	}
	return yaml.Marshal(cfg)
}
