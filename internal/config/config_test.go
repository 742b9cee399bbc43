package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/webuictl/internal/testutil/testlog"
)

func writeWorkspace(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workspace.toml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write workspace: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeWorkspace(t, `tools_root = "/content"`+"\n")
	ws, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ws.StopTimeout != 30*time.Second {
		t.Fatalf("default stop timeout not applied: %v", ws.StopTimeout)
	}
	if ws.SharedAssetRoot == "" || ws.LogDir == "" {
		t.Fatalf("defaults missing: %+v", ws)
	}
}

func TestLoadParsesDurationsAndProfiles(t *testing.T) {
	testlog.Start(t)
	path := writeWorkspace(t, `
tools_root = "/content"
shared_asset_root = "/content/models"
log_dir = "local/logs"
stop_timeout = "45s"
reconcile_interval = "5s"

[profiles.low-vram]
description = "8GB cards"
args = ["--lowvram"]

[profiles.high-vram]
description = "24GB cards"
args = ["--no-half-vae"]
`)
	ws, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ws.StopTimeout != 45*time.Second {
		t.Fatalf("stop_timeout: %v", ws.StopTimeout)
	}
	if ws.ReconcileInterval != 5*time.Second {
		t.Fatalf("reconcile_interval: %v", ws.ReconcileInterval)
	}
	p, err := ws.Profile("low-vram")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if len(p.Args) != 1 || p.Args[0] != "--lowvram" {
		t.Fatalf("profile args: %+v", p.Args)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	testlog.Start(t)
	path := writeWorkspace(t, `
tools_root = "/content"
stop_timeout = "soon"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duration parse failure")
	}
}

func TestLoadRejectsEmptyProfile(t *testing.T) {
	testlog.Start(t)
	path := writeWorkspace(t, `
tools_root = "/content"

[profiles.broken]
description = "no args"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected empty profile rejection")
	}
}

func TestUnknownProfileFails(t *testing.T) {
	testlog.Start(t)
	ws := Default()
	if _, err := ws.Profile("turbo"); err == nil {
		t.Fatalf("expected unknown profile error")
	}
	if _, err := ws.Profile(""); err != nil {
		t.Fatalf("empty profile must be allowed: %v", err)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected load failure for missing file")
	}
}
