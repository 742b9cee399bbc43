package registry

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/danmuck/webuictl/internal/testutil/testlog"
)

func validTool(id string, port int) Tool {
	return Tool{
		ID:          id,
		Name:        "Tool " + id,
		RepoURL:     "https://github.com/example/" + id + ".git",
		VenvName:    "venv",
		Python:      "python3.10",
		Command:     "launch.py",
		Strategy:    StrategyCLIArgs,
		ArgTemplate: []string{"--ckpt-dir", "{root}/Stable-diffusion"},
		Port:        port,
		RiskTier:    RiskLow,
	}
}

func TestNewRejectsDuplicateID(t *testing.T) {
	testlog.Start(t)
	_, err := New([]Tool{validTool("a1111", 7860), validTool("a1111", 7861)})
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestNewRejectsDuplicatePort(t *testing.T) {
	testlog.Start(t)
	_, err := New([]Tool{validTool("a1111", 7860), validTool("forge", 7860)})
	if !errors.Is(err, ErrDuplicatePort) {
		t.Fatalf("expected ErrDuplicatePort, got %v", err)
	}
}

func TestGetUnknownTool(t *testing.T) {
	testlog.Start(t)
	reg, err := New([]Tool{validTool("a1111", 7860)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := reg.Get("comfyui"); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestAllSortedByID(t *testing.T) {
	testlog.Start(t)
	reg, err := New([]Tool{
		validTool("forge", 7861),
		validTool("a1111", 7860),
		validTool("comfyui", 8188),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := reg.IDs()
	want := []string{"a1111", "comfyui", "forge"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ids not sorted: got=%v want=%v", got, want)
	}
}

func TestValidateToolFailures(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name    string
		mutate  func(*Tool)
		wantErr error
	}{
		{"missing id", func(d *Tool) { d.ID = "" }, ErrInvalidTool},
		{"bad id format", func(d *Tool) { d.ID = "A1111" }, ErrInvalidTool},
		{"missing repo", func(d *Tool) { d.RepoURL = "" }, ErrInvalidTool},
		{"missing venv", func(d *Tool) { d.VenvName = "" }, ErrInvalidTool},
		{"missing python", func(d *Tool) { d.Python = "" }, ErrInvalidTool},
		{"missing command", func(d *Tool) { d.Command = "" }, ErrInvalidTool},
		{"port out of range", func(d *Tool) { d.Port = 0 }, ErrInvalidTool},
		{"unknown risk tier", func(d *Tool) { d.RiskTier = "extreme" }, ErrInvalidTool},
		{"unknown strategy", func(d *Tool) { d.Strategy = "symlink" }, ErrInvalidStrategy},
		{"cli_args without template", func(d *Tool) { d.ArgTemplate = nil }, ErrInvalidStrategy},
		{
			"config_file without path",
			func(d *Tool) { d.Strategy = StrategyConfigFile; d.ConfigPath = "" },
			ErrInvalidStrategy,
		},
	}
	for _, tc := range cases {
		def := validTool("a1111", 7860)
		tc.mutate(&def)
		if err := ValidateTool(def); !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestLoadRegistryDocument(t *testing.T) {
	testlog.Start(t)
	doc := `
[[tools]]
id = "a1111"
name = "AUTOMATIC1111"
repo = "https://github.com/AUTOMATIC1111/stable-diffusion-webui.git"
venv = "venv"
python = "python3.10"
command = "launch.py"
default_args = ["--xformers"]
reqs_file = "requirements_versions.txt"
post_install = ["pip install numpy==1.26.4"]
strategy = "cli_args"
arg_template = ["--ckpt-dir", "{root}/Stable-diffusion"]
port = 7860
risk_tier = "medium"

[[tools]]
id = "comfyui"
name = "ComfyUI"
repo = "https://github.com/comfyanonymous/ComfyUI.git"
venv = "venv"
python = "python3.11"
command = "main.py"
strategy = "config_file"
config_path = "extra_model_paths.yaml"
port = 8188
risk_tier = "low"

[tools.config_template]
"comfyui.base_path" = "{root}"
`
	path := filepath.Join(t.TempDir(), "registry.toml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tool, err := reg.Get("a1111")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tool.Port != 7860 || tool.Strategy != StrategyCLIArgs {
		t.Fatalf("unexpected tool: %+v", tool)
	}
	if len(tool.PostInstall) != 1 {
		t.Fatalf("post_install not loaded: %+v", tool.PostInstall)
	}
	comfy, err := reg.Get("comfyui")
	if err != nil {
		t.Fatalf("get comfyui: %v", err)
	}
	if comfy.ConfigTemplate["comfyui.base_path"] != "{root}" {
		t.Fatalf("config_template not loaded: %+v", comfy.ConfigTemplate)
	}
}

func TestLoadRejectsMalformedDocument(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "registry.toml")
	if err := os.WriteFile(path, []byte("tools = not toml"), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse failure")
	}
}

func TestLoadRejectsEmptyCatalog(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "registry.toml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidTool) {
		t.Fatalf("expected ErrInvalidTool, got %v", err)
	}
}
