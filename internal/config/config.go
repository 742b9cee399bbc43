package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Profile is a named hardware preset of extra launch arguments.
type Profile struct {
	Description string   `toml:"description"`
	Args        []string `toml:"args"`
}

// Workspace holds the paths and tunables shared by every managed tool.
type Workspace struct {
	ToolsRoot       string             `toml:"tools_root"`
	SharedAssetRoot string             `toml:"shared_asset_root"`
	LogDir          string             `toml:"log_dir"`
	Profiles        map[string]Profile `toml:"profiles"`

	StopTimeoutRaw       string `toml:"stop_timeout"`
	ReconcileIntervalRaw string `toml:"reconcile_interval"`

	StopTimeout       time.Duration `toml:"-"`
	ReconcileInterval time.Duration `toml:"-"`
}

// Default returns the workspace used when no document overrides it.
func Default() Workspace {
	return Workspace{
		ToolsRoot:         "/content",
		SharedAssetRoot:   "/content/models",
		LogDir:            filepath.Join("local", "logs"),
		StopTimeout:       30 * time.Second,
		ReconcileInterval: 15 * time.Second,
		Profiles:          map[string]Profile{},
	}
}

// Load reads the workspace document at path, applying defaults first.
func Load(path string) (Workspace, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("workspace load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Workspace{}, fmt.Errorf("workspace parse failed (%s): %w", path, err)
	}
	if cfg.StopTimeoutRaw != "" {
		d, err := time.ParseDuration(strings.TrimSpace(cfg.StopTimeoutRaw))
		if err != nil {
			return Workspace{}, fmt.Errorf("workspace parse failed (%s): stop_timeout: %w", path, err)
		}
		cfg.StopTimeout = d
	}
	if cfg.ReconcileIntervalRaw != "" {
		d, err := time.ParseDuration(strings.TrimSpace(cfg.ReconcileIntervalRaw))
		if err != nil {
			return Workspace{}, fmt.Errorf("workspace parse failed (%s): reconcile_interval: %w", path, err)
		}
		cfg.ReconcileInterval = d
	}
	if err := Validate(cfg); err != nil {
		return Workspace{}, fmt.Errorf("workspace invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate rejects workspaces the control plane cannot run on.
func Validate(cfg Workspace) error {
	if strings.TrimSpace(cfg.ToolsRoot) == "" {
		return fmt.Errorf("tools_root is required")
	}
	if strings.TrimSpace(cfg.SharedAssetRoot) == "" {
		return fmt.Errorf("shared_asset_root is required")
	}
	if strings.TrimSpace(cfg.LogDir) == "" {
		return fmt.Errorf("log_dir is required")
	}
	if cfg.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive")
	}
	if cfg.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile_interval must be positive")
	}
	for name, profile := range cfg.Profiles {
		if len(profile.Args) == 0 {
			return fmt.Errorf("profile %q has no args", name)
		}
	}
	return nil
}

// Profile resolves a named hardware profile; the empty name means no
// extra arguments.
func (w Workspace) Profile(name string) (Profile, error) {
	if strings.TrimSpace(name) == "" {
		return Profile{}, nil
	}
	p, ok := w.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown hardware profile %q", name)
	}
	return p, nil
}
