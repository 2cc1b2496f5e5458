package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a proctor workspace",
		Long:  "Initialize a proctor workspace by creating the .proctor directory and installing a default config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ".proctor"
			log.Info().Str("dir", dir).Msg("creating proctor directory")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create proctor dir: %w", err)
			}

			configPath := filepath.Join(dir, "config.json")
			if _, err := os.Stat(configPath); err == nil {
				log.Info().Msg("config.json already exists, skipping")
				return nil
			}

			log.Info().Str("path", configPath).Msg("installing default config")
			defaultConfig := map[string]any{
				"model": map[string]any{
					"name":        "gpt-5.2",
					"api_key_env": "OPENAI_API_KEY",
				},
				"api": map[string]any{
					"base_url":    "http://localhost:8080",
					"api_key_env": "ERC_API_KEY",
				},
				"limits": map[string]any{
					"max_steps":         40,
					"validator_retries": 2,
				},
				"store": map[string]any{
					"path": filepath.Join(dir, "proctor.db"),
				},
				"rules": filepath.Join(dir, "rules.yaml"),
				"suite": map[string]any{
					"workers": 4,
				},
			}
			raw, err := json.MarshalIndent(defaultConfig, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, append(raw, '\n'), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			return nil
		},
	}
}
