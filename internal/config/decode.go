package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Decode maps validated raw settings onto the typed Config. Unknown keys
// are rejected here as well, so a Config never silently drops input that
// slipped past schema validation.
func Decode(settings map[string]any) (Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &cfg,
		TagName:     "mapstructure",
		ErrorUnused: true,
	})
	if err != nil {
		return Config{}, fmt.Errorf("build config decoder: %w", err)
	}
	if err := dec.Decode(settings); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
