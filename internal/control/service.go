// Package control is the command surface of the control plane: it wires
// the registry, provisioner, centralization applier, and supervisor into
// the setup/launch/stop/status/tail operations callers consume.
package control

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/webuictl/internal/centralize"
	"github.com/danmuck/webuictl/internal/config"
	"github.com/danmuck/webuictl/internal/provision"
	"github.com/danmuck/webuictl/internal/registry"
	"github.com/danmuck/webuictl/internal/supervise"
	"github.com/danmuck/webuictl/internal/tools"
)

// All addresses every registered tool in Setup and Status calls.
const All = "all"

// Service owns one workspace's managed tools.
type Service struct {
	reg  *registry.Registry
	ws   config.Workspace
	prov *provision.Provisioner
	sup  *supervise.Supervisor
}

// ServiceConfig assembles a Service. Output receives live provisioning
// output; nil discards it.
type ServiceConfig struct {
	Registry  *registry.Registry
	Workspace config.Workspace
	Output    io.Writer
	Runner    tools.CommandRunner // nil selects the local exec runner
}

// NewService builds the provisioner and supervisor for the workspace.
func NewService(cfg ServiceConfig) (*Service, error) {
	prov, err := provision.NewProvisioner(provision.ProvisionerConfig{
		ToolsRoot: cfg.Workspace.ToolsRoot,
		Runner:    cfg.Runner,
		Output:    cfg.Output,
	})
	if err != nil {
		return nil, err
	}
	sup := supervise.NewSupervisor(supervise.SupervisorConfig{
		LogDir:      cfg.Workspace.LogDir,
		StopTimeout: cfg.Workspace.StopTimeout,
	})
	return &Service{
		reg:  cfg.Registry,
		ws:   cfg.Workspace,
		prov: prov,
		sup:  sup,
	}, nil
}

// Tools exposes the registry catalog in stable order.
func (s *Service) Tools() []registry.Tool {
	return s.reg.All()
}

// SetupResult is one tool's provisioning outcome.
type SetupResult struct {
	ToolID string `json:"tool_id"`
	Ready  bool   `json:"ready"`
	Error  string `json:"error,omitempty"`
}

// Setup provisions one tool, or every registered tool when target is
// "all". Idempotent; per-tool failures are reported, not short-circuited.
func (s *Service) Setup(ctx context.Context, target string) ([]SetupResult, error) {
	toolsToSetup, err := s.resolveTarget(target)
	if err != nil {
		return nil, err
	}
	results := make([]SetupResult, 0, len(toolsToSetup))
	for _, tool := range toolsToSetup {
		res := SetupResult{ToolID: tool.ID}
		if _, err := s.prov.Ensure(ctx, tool); err != nil {
			res.Error = err.Error()
			log.Error().Err(err).Str("tool", tool.ID).Msg("setup failed")
		} else {
			res.Ready = true
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}
	return results, nil
}

// Launch validates the tool's runtime, applies centralization, merges the
// argument stack, and hands the spawn to the supervisor. Provisioning and
// centralization failures abort before anything is spawned.
func (s *Service) Launch(ctx context.Context, toolID, profileName string, extraArgs []string) (supervise.ToolStatus, error) {
	tool, err := s.reg.Get(toolID)
	if err != nil {
		return supervise.ToolStatus{}, err
	}

	handle := s.prov.HandleFor(tool)
	if err := s.prov.Validate(ctx, handle); err != nil {
		return supervise.ToolStatus{}, err
	}

	resolved, err := centralize.Apply(tool, s.ws.SharedAssetRoot)
	if err != nil {
		return supervise.ToolStatus{}, err
	}
	if resolved.Degraded {
		log.Warn().Str("tool", tool.ID).Str("reason", resolved.Reason).
			Msg("centralization degraded, asset paths need manual maintenance")
	}

	profile, err := s.ws.Profile(profileName)
	if err != nil {
		return supervise.ToolStatus{}, err
	}

	merged := mergeArgs(tool.DefaultArgs, profile.Args, resolved.Args, extraArgs)
	args := append([]string{tool.Command}, merged...)

	rec, err := s.sup.Launch(supervise.LaunchRequest{
		ToolID:  tool.ID,
		Command: handle.VenvPython(),
		Args:    args,
		Dir:     handle.Root,
		Env: []string{
			"VIRTUAL_ENV=" + handle.VenvPath,
			"PATH=" + handle.VenvBin() + string(os.PathListSeparator) + os.Getenv("PATH"),
		},
		Port:     tool.Port,
		Degraded: resolved.Degraded,
	})
	if err != nil {
		return supervise.ToolStatus{}, err
	}

	snap := s.sup.Snapshot()
	return snap[rec.ToolID], nil
}

// Stop applies the graceful-then-forceful stop path and returns the final
// lifecycle state.
func (s *Service) Stop(ctx context.Context, toolID string) (supervise.State, error) {
	if _, err := s.reg.Get(toolID); err != nil {
		return "", err
	}
	return s.sup.Stop(ctx, toolID)
}

// Status returns the reconciled snapshot. Registered tools without a
// process record report as stopped.
func (s *Service) Status(target string) (map[string]supervise.ToolStatus, error) {
	toolsWanted, err := s.resolveTarget(target)
	if err != nil {
		return nil, err
	}
	snap := s.sup.Snapshot()
	out := make(map[string]supervise.ToolStatus, len(toolsWanted))
	for _, tool := range toolsWanted {
		if st, ok := snap[tool.ID]; ok {
			out[tool.ID] = st
			continue
		}
		out[tool.ID] = supervise.ToolStatus{
			ToolID:   tool.ID,
			State:    supervise.StateStopped,
			Port:     tool.Port,
			Degraded: tool.Strategy == registry.StrategyNone,
		}
	}
	return out, nil
}

// ReconcileLoop periodically reconciles the process table against OS
// reality so externally killed tools surface as errored without waiting
// for a status request. Blocks until ctx is cancelled.
func (s *Service) ReconcileLoop(ctx context.Context) {
	interval := s.ws.ReconcileInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sup.Snapshot()
		}
	}
}

// Tail returns the last n buffered log lines for a tool.
func (s *Service) Tail(toolID string, n int) ([]string, error) {
	if _, err := s.reg.Get(toolID); err != nil {
		return nil, err
	}
	return s.sup.Tail(toolID, n)
}

// ClearError discards an errored record so the tool may launch again.
func (s *Service) ClearError(toolID string) error {
	if _, err := s.reg.Get(toolID); err != nil {
		return err
	}
	return s.sup.ClearError(toolID)
}

// LogPath returns the persistent log location for a tool.
func (s *Service) LogPath(toolID string) string {
	return filepath.Join(s.ws.LogDir, toolID+".log")
}

func (s *Service) resolveTarget(target string) ([]registry.Tool, error) {
	if strings.TrimSpace(target) == "" || strings.EqualFold(target, All) {
		return s.reg.All(), nil
	}
	tool, err := s.reg.Get(target)
	if err != nil {
		return nil, err
	}
	return []registry.Tool{tool}, nil
}
