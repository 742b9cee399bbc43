package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// ctlConfig is the operator-side configuration for the CLI itself:
// where the registry and workspace documents live and how the optional
// HTTP surface binds.
type ctlConfig struct {
	RegistryPath  string
	WorkspacePath string
	ServeAddr     string
	CorsOrigins   []string
}

type fileConfig struct {
	Registry    string   `toml:"registry"`
	Workspace   string   `toml:"workspace"`
	ServeAddr   string   `toml:"serve_addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

func defaultCtlConfig() ctlConfig {
	return ctlConfig{
		RegistryPath:  "registry.toml",
		WorkspacePath: "workspace.toml",
		ServeAddr:     "127.0.0.1:9800",
	}
}

func loadCtlConfig(path string) (ctlConfig, error) {
	cfg := defaultCtlConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ctlConfig{}, fmt.Errorf("load ctl config: %w", err)
	}

	if meta.IsDefined("registry") {
		if v := strings.TrimSpace(raw.Registry); v != "" {
			cfg.RegistryPath = v
		}
	}
	if meta.IsDefined("workspace") {
		if v := strings.TrimSpace(raw.Workspace); v != "" {
			cfg.WorkspacePath = v
		}
	}
	if meta.IsDefined("serve_addr") {
		if v := strings.TrimSpace(raw.ServeAddr); v != "" {
			cfg.ServeAddr = v
		}
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		v := strings.TrimSpace(raw)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
