// Package rules loads the audience-keyed rulebook produced by the wiki
// ingestion pipeline and assembles per-context system prompts from it.
// Rule text is opaque to the engine: it is selected by audience and
// passed through verbatim.
package rules

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rulebook holds the rule text blocks for one benchmark variant, keyed by
// audience. Extra blocks are named sections the ingestion pipeline emits
// beyond the two audiences.
type Rulebook struct {
	Public        string            `yaml:"public"`
	Authenticated string            `yaml:"authenticated"`
	Respond       map[string]string `yaml:"respond"`
	Extra         map[string]string `yaml:"extra"`
}

// Load reads a rulebook from a YAML file.
func Load(path string) (*Rulebook, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rulebook: %w", err)
	}
	var book Rulebook
	if err := yaml.Unmarshal(raw, &book); err != nil {
		return nil, fmt.Errorf("parse rulebook %s: %w", path, err)
	}
	return &book, nil
}

// ForAudience returns the rule text visible to the given audience. The
// public block applies to everyone; authenticated sessions additionally
// see the authenticated block. Extra blocks apply to all audiences, in
// name order so prompt assembly stays deterministic.
func (b *Rulebook) ForAudience(audience string) string {
	blocks := []string{}
	if text := strings.TrimSpace(b.Public); text != "" {
		blocks = append(blocks, text)
	}
	if audience == "authenticated" {
		if text := strings.TrimSpace(b.Authenticated); text != "" {
			blocks = append(blocks, text)
		}
	}
	names := make([]string, 0, len(b.Extra))
	for name := range b.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if text := strings.TrimSpace(b.Extra[name]); text != "" {
			blocks = append(blocks, text)
		}
	}
	return strings.Join(blocks, "\n\n")
}

// RespondFor returns the response-formatting instructions for the given
// audience, served on demand through /load-respond-instructions.
func (b *Rulebook) RespondFor(audience string) string {
	if b.Respond == nil {
		return ""
	}
	if text := strings.TrimSpace(b.Respond[audience]); text != "" {
		return text
	}
	return strings.TrimSpace(b.Respond["public"])
}
