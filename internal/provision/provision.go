// Package provision materializes one isolated runtime per managed tool:
// a shallow clone of the tool's repository and a private virtualenv built
// with the tool's pinned interpreter. Isolation is structural -- no two
// tools ever share a package namespace -- which is what keeps their
// dependency pins from conflicting.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/webuictl/internal/observability"
	"github.com/danmuck/webuictl/internal/registry"
	"github.com/danmuck/webuictl/internal/tools"
)

var (
	ErrProvision   = errors.New("provision: environment build failed")
	ErrInvalidRoot = errors.New("provision: invalid tools root")
)

const stampName = ".webuictl-ready"

// Handle represents one materialized isolated environment.
type Handle struct {
	ToolID   string
	Root     string
	VenvPath string
	BuiltAt  time.Time
	Ready    bool
}

// VenvPython returns the interpreter inside the handle's venv.
func (h Handle) VenvPython() string {
	return filepath.Join(h.VenvPath, "bin", "python")
}

// VenvBin returns the venv's bin directory, for PATH overlays.
func (h Handle) VenvBin() string {
	return filepath.Join(h.VenvPath, "bin")
}

// ProvisionerConfig configures where runtimes are built and how commands run.
type ProvisionerConfig struct {
	ToolsRoot string
	Runner    tools.CommandRunner
	Output    io.Writer // live install output; nil discards
}

// Provisioner builds and validates per-tool runtimes under one root.
type Provisioner struct {
	toolsRoot string
	runner    tools.CommandRunner
	output    io.Writer
}

// NewProvisioner validates the tools root and creates it if absent.
func NewProvisioner(cfg ProvisionerConfig) (*Provisioner, error) {
	root := strings.TrimSpace(cfg.ToolsRoot)
	if root == "" {
		return nil, fmt.Errorf("%w: tools root is required", ErrInvalidRoot)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	runner := cfg.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Provisioner{toolsRoot: abs, runner: runner, output: cfg.Output}, nil
}

// HandleFor computes the handle paths for a tool and reads its readiness
// stamp. It never touches the filesystem beyond the stamp read.
func (p *Provisioner) HandleFor(tool registry.Tool) Handle {
	root := filepath.Join(p.toolsRoot, tool.ID)
	h := Handle{
		ToolID:   tool.ID,
		Root:     root,
		VenvPath: filepath.Join(root, tool.VenvName),
	}
	if builtAt, ok := readStamp(h.VenvPath); ok {
		h.BuiltAt = builtAt
		h.Ready = true
	}
	return h
}

// Ensure makes the tool's isolated runtime exist and be ready. It is
// idempotent: existing clone and venv are reused, a partial build (stamp
// missing) is torn down and rebuilt. Cancelling ctx aborts the underlying
// build process and removes the partial venv so the next Ensure starts
// clean.
func (p *Provisioner) Ensure(ctx context.Context, tool registry.Tool) (Handle, error) {
	start := time.Now()
	h, err := p.ensure(ctx, tool)
	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.RecordProvision(tool.ID, result, time.Since(start))
	return h, err
}

func (p *Provisioner) ensure(ctx context.Context, tool registry.Tool) (Handle, error) {
	h := p.HandleFor(tool)

	if err := p.ensureClone(ctx, tool, h); err != nil {
		return Handle{}, err
	}

	if info, err := os.Stat(h.VenvPath); err == nil && info.IsDir() && !h.Ready {
		log.Warn().Str("tool", tool.ID).Str("venv", h.VenvPath).
			Msg("partial venv detected, rebuilding")
		if err := os.RemoveAll(h.VenvPath); err != nil {
			return Handle{}, p.fail(tool, "venv", err)
		}
	}

	if _, err := os.Stat(h.VenvPath); errors.Is(err, os.ErrNotExist) {
		if err := p.buildVenv(ctx, tool, h); err != nil {
			p.cleanupVenv(tool, h)
			return Handle{}, err
		}
	} else if err != nil {
		return Handle{}, p.fail(tool, "venv", err)
	} else if h.Ready {
		log.Debug().Str("tool", tool.ID).Msg("runtime already provisioned")
		return h, nil
	}

	if err := p.installDeps(ctx, tool, h); err != nil {
		p.cleanupVenv(tool, h)
		return Handle{}, err
	}

	builtAt := time.Now().UTC()
	if err := writeStamp(h.VenvPath, builtAt); err != nil {
		p.cleanupVenv(tool, h)
		return Handle{}, p.fail(tool, "stamp", err)
	}
	h.BuiltAt = builtAt
	h.Ready = true
	log.Info().Str("tool", tool.ID).Str("venv", h.VenvPath).Msg("runtime provisioned")
	return h, nil
}

// Validate cheaply checks a handle before launch: clone present, stamp
// present, interpreter invocable. No dependency resolution runs.
func (p *Provisioner) Validate(ctx context.Context, h Handle) error {
	if _, err := os.Stat(h.Root); err != nil {
		return fmt.Errorf("tool=%s phase=validate: %w: missing tool root %s", h.ToolID, ErrProvision, h.Root)
	}
	if _, ok := readStamp(h.VenvPath); !ok {
		return fmt.Errorf("tool=%s phase=validate: %w: runtime not provisioned (missing stamp)", h.ToolID, ErrProvision)
	}
	_, stderr, code, err := p.runner.Run(ctx, tools.Command{
		Name: h.VenvPython(),
		Args: []string{"--version"},
	})
	if err != nil {
		return fmt.Errorf("tool=%s phase=validate: %w: interpreter check exit=%d stderr=%q: %v",
			h.ToolID, ErrProvision, code, strings.TrimSpace(string(stderr)), err)
	}
	return nil
}

func (p *Provisioner) ensureClone(ctx context.Context, tool registry.Tool, h Handle) error {
	if _, err := os.Stat(h.Root); err == nil {
		log.Debug().Str("tool", tool.ID).Msg("tool tree already exists, skipping clone")
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return p.fail(tool, "clone", err)
	}
	if err := p.stream(ctx, tool, "clone", tools.Command{
		Name: "git",
		Args: []string{"clone", "--depth", "1", tool.RepoURL, h.Root},
		Dir:  p.toolsRoot,
	}); err != nil {
		// a half-cloned tree would poison every later Ensure
		os.RemoveAll(h.Root)
		return err
	}
	return nil
}

func (p *Provisioner) buildVenv(ctx context.Context, tool registry.Tool, h Handle) error {
	log.Info().Str("tool", tool.ID).Str("python", tool.Python).Msg("creating venv")
	return p.stream(ctx, tool, "venv", tools.Command{
		Name: tool.Python,
		Args: []string{"-m", "venv", h.VenvPath},
		Dir:  h.Root,
	})
}

func (p *Provisioner) installDeps(ctx context.Context, tool registry.Tool, h Handle) error {
	venvPip := filepath.Join(h.VenvBin(), "pip")

	if strings.TrimSpace(tool.ReqsFile) != "" {
		if err := p.stream(ctx, tool, "deps", tools.Command{
			Name: venvPip,
			Args: []string{"install", "-r", tool.ReqsFile},
			Dir:  h.Root,
		}); err != nil {
			return err
		}
	}

	for _, raw := range tool.PostInstall {
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}
		// pip invocations must hit the venv's pip, never the host's
		if fields[0] == "pip" {
			fields[0] = venvPip
		}
		if err := p.stream(ctx, tool, "post_install", tools.Command{
			Name: fields[0],
			Args: fields[1:],
			Dir:  h.Root,
			Env: []string{
				"VIRTUAL_ENV=" + h.VenvPath,
				"PATH=" + h.VenvBin() + string(os.PathListSeparator) + os.Getenv("PATH"),
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) stream(ctx context.Context, tool registry.Tool, phase string, cmd tools.Command) error {
	log.Info().Str("tool", tool.ID).Str("phase", phase).
		Str("cmd", cmd.Name).Str("args", strings.Join(cmd.Args, " ")).
		Msg("provision exec")
	if err := p.runner.RunStreaming(ctx, cmd, p.output); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("tool=%s phase=%s: %w: aborted: %v", tool.ID, phase, ErrProvision, ctxErr)
		}
		return fmt.Errorf("tool=%s phase=%s: %w: cmd=%s: %v", tool.ID, phase, ErrProvision, cmd.Name, err)
	}
	return nil
}

func (p *Provisioner) cleanupVenv(tool registry.Tool, h Handle) {
	if err := os.RemoveAll(h.VenvPath); err != nil {
		log.Error().Err(err).Str("tool", tool.ID).Str("venv", h.VenvPath).
			Msg("partial venv cleanup failed")
		return
	}
	log.Warn().Str("tool", tool.ID).Str("venv", h.VenvPath).Msg("partial venv removed")
}

func (p *Provisioner) fail(tool registry.Tool, phase string, err error) error {
	return fmt.Errorf("tool=%s phase=%s: %w: %v", tool.ID, phase, ErrProvision, err)
}

func stampPath(venvPath string) string {
	return filepath.Join(venvPath, stampName)
}

func readStamp(venvPath string) (time.Time, bool) {
	data, err := os.ReadFile(stampPath(venvPath))
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func writeStamp(venvPath string, builtAt time.Time) error {
	return os.WriteFile(stampPath(venvPath), []byte(builtAt.Format(time.RFC3339)+"\n"), 0o644)
}
