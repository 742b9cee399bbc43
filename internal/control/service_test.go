package control

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/webuictl/internal/config"
	"github.com/danmuck/webuictl/internal/provision"
	"github.com/danmuck/webuictl/internal/registry"
	"github.com/danmuck/webuictl/internal/supervise"
	"github.com/danmuck/webuictl/internal/testutil/testlog"
	"github.com/danmuck/webuictl/internal/tools"
)

// fakeRunner simulates the provisioning commands' filesystem effects.
type fakeRunner struct {
	commands [][]string
}

func (r *fakeRunner) RunStreaming(ctx context.Context, cmd tools.Command, out io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := append([]string{cmd.Name}, cmd.Args...)
	r.commands = append(r.commands, full)
	switch {
	case cmd.Name == "git":
		return os.MkdirAll(full[len(full)-1], 0o755)
	case len(cmd.Args) >= 2 && cmd.Args[0] == "-m" && cmd.Args[1] == "venv":
		return os.MkdirAll(filepath.Join(cmd.Args[2], "bin"), 0o755)
	}
	return nil
}

func (r *fakeRunner) Run(ctx context.Context, cmd tools.Command) ([]byte, []byte, int32, error) {
	return []byte("Python 3.10.12"), nil, 0, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Tool{
		{
			ID:          "a1111",
			Name:        "AUTOMATIC1111",
			RepoURL:     "https://github.com/AUTOMATIC1111/stable-diffusion-webui.git",
			VenvName:    "venv",
			Python:      "python3.10",
			Command:     "launch.py",
			DefaultArgs: []string{"--port", "7860"},
			Strategy:    registry.StrategyCLIArgs,
			ArgTemplate: []string{"--ckpt-dir", "{root}/Stable-diffusion"},
			Port:        7860,
			RiskTier:    registry.RiskMedium,
		},
		{
			ID:       "invoke",
			Name:     "InvokeAI",
			RepoURL:  "https://github.com/invoke-ai/InvokeAI.git",
			VenvName: "venv",
			Python:   "python3.11",
			Command:  "main.py",
			Strategy: registry.StrategyNone,
			Port:     9090,
			RiskTier: registry.RiskLow,
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func newTestService(t *testing.T) (*Service, config.Workspace, *fakeRunner) {
	t.Helper()
	base := t.TempDir()
	ws := config.Default()
	ws.ToolsRoot = filepath.Join(base, "tools")
	ws.SharedAssetRoot = filepath.Join(base, "models")
	ws.LogDir = filepath.Join(base, "logs")
	ws.StopTimeout = 5 * time.Second
	ws.Profiles = map[string]config.Profile{
		"low-vram": {Description: "8GB cards", Args: []string{"--lowvram"}},
	}

	runner := &fakeRunner{}
	svc, err := NewService(ServiceConfig{
		Registry:  testRegistry(t),
		Workspace: ws,
		Runner:    runner,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, ws, runner
}

// stubInterpreter replaces the venv python with a script that echoes its
// arguments and parks, standing in for a managed tool process.
func stubInterpreter(t *testing.T, ws config.Workspace, toolID string) {
	t.Helper()
	python := filepath.Join(ws.ToolsRoot, toolID, "venv", "bin", "python")
	script := "#!/bin/sh\necho \"args: $@\"\nsleep 60\n"
	if err := os.WriteFile(python, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub interpreter: %v", err)
	}
}

func TestSetupAllReportsPerTool(t *testing.T) {
	testlog.Start(t)
	svc, _, _ := newTestService(t)

	results, err := svc.Setup(context.Background(), All)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %v", results)
	}
	for _, res := range results {
		if !res.Ready {
			t.Fatalf("tool %s not ready: %s", res.ToolID, res.Error)
		}
	}
}

func TestSetupUnknownTool(t *testing.T) {
	testlog.Start(t)
	svc, _, _ := newTestService(t)
	if _, err := svc.Setup(context.Background(), "comfyui"); !errors.Is(err, registry.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestLaunchUnprovisionedFailsBeforeSpawn(t *testing.T) {
	testlog.Start(t)
	svc, _, _ := newTestService(t)

	_, err := svc.Launch(context.Background(), "a1111", "", nil)
	if !errors.Is(err, provision.ErrProvision) {
		t.Fatalf("expected ErrProvision, got %v", err)
	}
	snap, err := svc.Status("a1111")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap["a1111"].State != supervise.StateStopped {
		t.Fatalf("no process may exist after a failed validation: %+v", snap["a1111"])
	}
}

func TestLaunchMergesArgumentStack(t *testing.T) {
	testlog.Start(t)
	svc, ws, _ := newTestService(t)

	if _, err := svc.Setup(context.Background(), "a1111"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	stubInterpreter(t, ws, "a1111")

	st, err := svc.Launch(context.Background(), "a1111", "low-vram", []string{"--port", "7999"})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if st.State != supervise.StateRunning && st.State != supervise.StateStarting {
		t.Fatalf("unexpected state after launch: %+v", st)
	}
	defer svc.Stop(context.Background(), "a1111")

	// the stub echoes its argv; the merged stack must be visible there
	deadline := time.Now().Add(5 * time.Second)
	var argsLine string
	for time.Now().Before(deadline) {
		lines, err := svc.Tail("a1111", 10)
		if err != nil {
			t.Fatalf("tail: %v", err)
		}
		for _, line := range lines {
			if strings.HasPrefix(line, "args: ") {
				argsLine = line
			}
		}
		if argsLine != "" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if argsLine == "" {
		t.Fatalf("stub output never observed")
	}
	for _, want := range []string{
		"launch.py",
		"--lowvram",
		"--ckpt-dir " + ws.SharedAssetRoot + "/Stable-diffusion",
		"--port 7999",
	} {
		if !strings.Contains(argsLine, want) {
			t.Fatalf("merged args missing %q: %s", want, argsLine)
		}
	}
	if strings.Contains(argsLine, "--port 7860") {
		t.Fatalf("caller override did not win: %s", argsLine)
	}
}

func TestLaunchNoneStrategyReportsDegraded(t *testing.T) {
	testlog.Start(t)
	svc, ws, _ := newTestService(t)

	if _, err := svc.Setup(context.Background(), "invoke"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	stubInterpreter(t, ws, "invoke")

	st, err := svc.Launch(context.Background(), "invoke", "", nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !st.Degraded {
		t.Fatalf("none strategy must surface degraded centralization: %+v", st)
	}
	if _, err := svc.Stop(context.Background(), "invoke"); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStatusIncludesIdleTools(t *testing.T) {
	testlog.Start(t)
	svc, _, _ := newTestService(t)

	snap, err := svc.Status(All)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected every registered tool in snapshot: %v", snap)
	}
	if snap["a1111"].State != supervise.StateStopped {
		t.Fatalf("idle tool must report stopped: %+v", snap["a1111"])
	}
	if !snap["invoke"].Degraded {
		t.Fatalf("none-strategy tool must report degraded even when idle: %+v", snap["invoke"])
	}
}

func TestTailUnknownTool(t *testing.T) {
	testlog.Start(t)
	svc, _, _ := newTestService(t)
	if _, err := svc.Tail("comfyui", 5); !errors.Is(err, registry.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestReconcileLoopStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	svc, _, _ := newTestService(t)
	svc.ws.ReconcileInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.ReconcileLoop(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reconcile loop did not stop on cancel")
	}
}

func TestLaunchUnknownProfile(t *testing.T) {
	testlog.Start(t)
	svc, ws, _ := newTestService(t)
	if _, err := svc.Setup(context.Background(), "a1111"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	stubInterpreter(t, ws, "a1111")
	if _, err := svc.Launch(context.Background(), "a1111", "turbo", nil); err == nil {
		t.Fatalf("expected unknown profile error")
	}
}
