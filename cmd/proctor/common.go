package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/metalagman/proctor/internal/config"
	"github.com/metalagman/proctor/internal/llm"
	"github.com/metalagman/proctor/internal/rules"
	"github.com/metalagman/proctor/internal/tracestore"
)

func loadConfig() (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = filepath.Join(".proctor", "config.json")
	}
	viper.SetConfigFile(path)
	viper.SetConfigType("json")
	if err := viper.ReadInConfig(); err != nil {
		return config.Config{}, fmt.Errorf("read config: %w", err)
	}
	settings := viper.AllSettings()
	delete(settings, "config")
	if err := config.ValidateSettings(settings); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Decode(settings)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.API.APIKey == "" && cfg.API.APIKeyEnv != "" {
		cfg.API.APIKey = os.Getenv(cfg.API.APIKeyEnv)
	}
	return cfg, nil
}

func openStore(cfg config.Config) (*tracestore.Store, *sql.DB, func(), error) {
	path := cfg.Store.Path
	if path == "" {
		path = filepath.Join(".proctor", "proctor.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, func() {}, err
	}
	storeDB, err := tracestore.Open(path)
	if err != nil {
		return nil, nil, func() {}, err
	}
	return tracestore.NewStore(storeDB), storeDB, func() { _ = storeDB.Close() }, nil
}

func newCompleter(cfg config.Config) (*llm.Client, error) {
	return llm.NewClient(llm.Config{
		Model:     cfg.Model.Name,
		BaseURL:   cfg.Model.BaseURL,
		APIKeyEnv: cfg.Model.APIKeyEnv,
		Timeout:   time.Duration(cfg.Model.TimeoutSec) * time.Second,
	}, nil)
}

func loadRulebook(cfg config.Config) *rules.Rulebook {
	path := cfg.Rules
	if path == "" {
		path = filepath.Join(".proctor", "rules.yaml")
	}
	book, err := rules.Load(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("no rulebook loaded, running without rules")
		return &rules.Rulebook{}
	}
	return book
}
