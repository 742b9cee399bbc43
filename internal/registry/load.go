package registry

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type document struct {
	Tools []Tool `toml:"tools"`
}

// Load reads the registry document at path. Malformed or invariant-violating
// documents fail loudly; the control plane never runs on a partial catalog.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry load failed (%s): %w", path, err)
	}
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("registry parse failed (%s): %w", path, err)
	}
	if len(doc.Tools) == 0 {
		return nil, fmt.Errorf("%w: registry %s defines no tools", ErrInvalidTool, path)
	}
	return New(doc.Tools)
}
