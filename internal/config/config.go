// Package config provides configuration loading and management for proctor.
package config

// Config is the root configuration.
type Config struct {
	Model     ModelConfig     `json:"model"     mapstructure:"model"`
	API       APIConfig       `json:"api"       mapstructure:"api"`
	Limits    Limits          `json:"limits"    mapstructure:"limits"`
	Store     StoreConfig     `json:"store"     mapstructure:"store"`
	Rules     string          `json:"rules"     mapstructure:"rules"`
	Suite     SuiteConfig     `json:"suite"     mapstructure:"suite"`
	Retention RetentionPolicy `json:"retention" mapstructure:"retention"`
}

// ModelConfig describes the planning/validation model endpoint.
type ModelConfig struct {
	Name       string `json:"name"                  mapstructure:"name"`
	BaseURL    string `json:"base_url,omitempty"    mapstructure:"base_url"`
	APIKeyEnv  string `json:"api_key_env,omitempty" mapstructure:"api_key_env"`
	TimeoutSec int    `json:"timeout_sec,omitempty" mapstructure:"timeout_sec"`
	// Analyzer enables the single-shot task restatement pre-pass.
	Analyzer bool `json:"analyzer,omitempty" mapstructure:"analyzer"`
}

// APIConfig describes the enterprise API the agent operates against.
type APIConfig struct {
	BaseURL    string `json:"base_url"              mapstructure:"base_url"`
	APIKey     string `json:"api_key,omitempty"     mapstructure:"api_key"`
	APIKeyEnv  string `json:"api_key_env,omitempty" mapstructure:"api_key_env"`
	TimeoutSec int    `json:"timeout_sec,omitempty" mapstructure:"timeout_sec"`
}

// Limits defines per-context run limits.
type Limits struct {
	MaxSteps int `json:"max_steps,omitempty" mapstructure:"max_steps"`
	// ValidatorRetries: 0 means the default, -1 disables retries.
	ValidatorRetries int `json:"validator_retries,omitempty" mapstructure:"validator_retries"`
	// TimeoutSec is the wall-clock budget for one task run; 0 disables it.
	TimeoutSec int `json:"timeout_sec,omitempty" mapstructure:"timeout_sec"`
}

// StoreConfig locates the run database.
type StoreConfig struct {
	Path string `json:"path,omitempty" mapstructure:"path"`
}

// SuiteConfig bounds parallel suite execution.
type SuiteConfig struct {
	Workers int `json:"workers,omitempty" mapstructure:"workers"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
}
