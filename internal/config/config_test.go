package config

import (
	"strings"
	"testing"
)

func validSettings() map[string]any {
	return map[string]any{
		"model": map[string]any{"name": "gpt-5.2"},
		"api":   map[string]any{"base_url": "http://localhost:8080"},
	}
}

func TestValidateSettings_Minimal(t *testing.T) {
	t.Parallel()

	if err := ValidateSettings(validSettings()); err != nil {
		t.Fatalf("minimal config should validate: %v", err)
	}
}

func TestValidateSettings_MissingModel(t *testing.T) {
	t.Parallel()

	settings := validSettings()
	delete(settings, "model")
	err := ValidateSettings(settings)
	if err == nil {
		t.Fatal("expected error for missing model section")
	}
	if !strings.Contains(err.Error(), "model") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSettings_BadTypes(t *testing.T) {
	t.Parallel()

	settings := validSettings()
	settings["limits"] = map[string]any{"max_steps": "forty"}
	if err := ValidateSettings(settings); err == nil {
		t.Fatal("expected error for non-integer max_steps")
	}

	settings = validSettings()
	settings["limits"] = map[string]any{"max_steps": 0}
	if err := ValidateSettings(settings); err == nil {
		t.Fatal("expected error for zero max_steps")
	}
}

func TestValidateSettings_UnknownKey(t *testing.T) {
	t.Parallel()

	settings := validSettings()
	settings["profiles"] = map[string]any{}
	if err := ValidateSettings(settings); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	settings := validSettings()
	settings["limits"] = map[string]any{"max_steps": 25, "validator_retries": 1}
	settings["suite"] = map[string]any{"workers": 8}

	cfg, err := Decode(settings)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Model.Name != "gpt-5.2" {
		t.Errorf("model name = %q", cfg.Model.Name)
	}
	if cfg.API.BaseURL != "http://localhost:8080" {
		t.Errorf("api base url = %q", cfg.API.BaseURL)
	}
	if cfg.Limits.MaxSteps != 25 || cfg.Limits.ValidatorRetries != 1 {
		t.Errorf("limits = %+v", cfg.Limits)
	}
	if cfg.Suite.Workers != 8 {
		t.Errorf("suite workers = %d", cfg.Suite.Workers)
	}
}

func TestDecode_UnknownKey(t *testing.T) {
	t.Parallel()

	settings := validSettings()
	settings["extra"] = true
	if _, err := Decode(settings); err == nil {
		t.Fatal("expected error for unmapped key")
	}
}

func TestValidateSettings_DisabledRetries(t *testing.T) {
	t.Parallel()

	settings := validSettings()
	settings["limits"] = map[string]any{"validator_retries": -1}
	if err := ValidateSettings(settings); err != nil {
		t.Fatalf("validator_retries -1 must validate: %v", err)
	}

	settings = validSettings()
	settings["limits"] = map[string]any{"validator_retries": -2}
	if err := ValidateSettings(settings); err == nil {
		t.Fatal("expected error for validator_retries below -1")
	}
}
