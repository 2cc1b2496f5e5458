package suite

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadTasks reads a YAML task list. Unnamed tasks get positional names so
// reports stay attributable.
func LoadTasks(path string) ([]TaskSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	var specs []TaskSpec
	if err := yaml.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no tasks in %s", path)
	}
	for i := range specs {
		if strings.TrimSpace(specs[i].Task) == "" {
			return nil, fmt.Errorf("task %d has no text", i+1)
		}
		if specs[i].Name == "" {
			specs[i].Name = fmt.Sprintf("task-%d", i+1)
		}
	}
	return specs, nil
}
