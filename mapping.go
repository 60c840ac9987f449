package checkpoint

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadIndexMapping reads an FQN-to-file-index mapping from a YAML (or JSON)
// file. Indices must be 1-based; the largest index determines the number of
// files in the save.
func LoadIndexMapping(path string) (map[string]int, error) {
	//nolint:gosec // G304: mapping paths come from the caller by design
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index mapping: %w", err)
	}

	var mapping map[string]int
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("failed to parse index mapping %s: %w", path, err)
	}

	for fqn, index := range mapping {
		if index < 1 {
			return nil, fmt.Errorf("index mapping %s: %q has index %d (must be >= 1)", path, fqn, index)
		}
	}
	return mapping, nil
}
