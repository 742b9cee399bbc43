// Package centralize redirects each managed tool's asset lookups into the
// shared asset root, using the strategy its registry definition declares.
// Apply runs before every launch, so every strategy must be idempotent.
package centralize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/danmuck/webuictl/internal/registry"
)

var (
	ErrTemplate    = errors.New("centralize: template expansion failed")
	ErrConfigWrite = errors.New("centralize: config write failed")
)

// Resolved is the outcome of applying a centralization strategy.
// Args holds launch arguments to append (cli_args strategy only).
// Degraded marks tools whose assets remain under manual maintenance.
type Resolved struct {
	ToolID   string
	Strategy registry.Strategy
	Args     []string
	Degraded bool
	Reason   string
}

var placeholderRE = regexp.MustCompile(`\{[a-z_]+\}`)

// Apply configures tool so its asset paths resolve under sharedRoot.
// Dispatch is a pure function of the tool's declared strategy.
func Apply(tool registry.Tool, sharedRoot string) (Resolved, error) {
	switch tool.Strategy {
	case registry.StrategyCLIArgs:
		args, err := expandArgs(tool.ArgTemplate, sharedRoot)
		if err != nil {
			return Resolved{}, fmt.Errorf("tool=%s phase=centralize: %w", tool.ID, err)
		}
		return Resolved{ToolID: tool.ID, Strategy: tool.Strategy, Args: args}, nil

	case registry.StrategyConfigFile:
		if err := renderConfigFile(tool, sharedRoot); err != nil {
			return Resolved{}, fmt.Errorf("tool=%s phase=centralize: %w", tool.ID, err)
		}
		return Resolved{ToolID: tool.ID, Strategy: tool.Strategy}, nil

	case registry.StrategyNone:
		return Resolved{
			ToolID:   tool.ID,
			Strategy: tool.Strategy,
			Degraded: true,
			Reason:   "centralization not supported; asset paths are under manual maintenance",
		}, nil

	default:
		return Resolved{}, fmt.Errorf("tool=%s phase=centralize: %w: unknown strategy %q", tool.ID, ErrTemplate, tool.Strategy)
	}
}

// expandArgs substitutes {root} into the template tokens, preserving
// template order so repeated applies produce identical argument lists.
func expandArgs(template []string, sharedRoot string) ([]string, error) {
	out := make([]string, 0, len(template))
	for _, token := range template {
		expanded, err := expandToken(token, sharedRoot)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded)
	}
	return out, nil
}

func expandToken(token, sharedRoot string) (string, error) {
	expanded := strings.ReplaceAll(token, "{root}", sharedRoot)
	if leftover := placeholderRE.FindString(expanded); leftover != "" {
		return "", fmt.Errorf("%w: unknown placeholder %s in %q", ErrTemplate, leftover, token)
	}
	return expanded, nil
}
