package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownTool     = errors.New("registry: unknown tool")
	ErrDuplicateTool   = errors.New("registry: duplicate tool id")
	ErrDuplicatePort   = errors.New("registry: duplicate port")
	ErrInvalidTool     = errors.New("registry: invalid tool definition")
	ErrInvalidStrategy = errors.New("registry: invalid centralization strategy")
)

// Registry is the immutable catalog of managed tools, keyed by stable id.
type Registry struct {
	items map[string]Tool
}

// New builds a registry from tool definitions, rejecting catalog-level
// invariant violations (duplicate ids, duplicate ports).
func New(defs []Tool) (*Registry, error) {
	items := make(map[string]Tool, len(defs))
	ports := make(map[int]string, len(defs))
	for _, def := range defs {
		if err := ValidateTool(def); err != nil {
			return nil, err
		}
		if _, ok := items[def.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, def.ID)
		}
		if owner, ok := ports[def.Port]; ok {
			return nil, fmt.Errorf("%w: port %d claimed by %s and %s", ErrDuplicatePort, def.Port, owner, def.ID)
		}
		items[def.ID] = def
		ports[def.Port] = def.ID
	}
	return &Registry{items: items}, nil
}

// ValidateTool checks one definition's required fields and strategy shape.
func ValidateTool(def Tool) error {
	id := strings.TrimSpace(def.ID)
	if id == "" || strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidTool)
	}
	if !isValidID(id) {
		return fmt.Errorf("%w: invalid id format %q", ErrInvalidTool, id)
	}
	if strings.TrimSpace(def.RepoURL) == "" {
		return fmt.Errorf("%w: %s: repo is required", ErrInvalidTool, id)
	}
	if strings.TrimSpace(def.VenvName) == "" {
		return fmt.Errorf("%w: %s: venv is required", ErrInvalidTool, id)
	}
	if strings.TrimSpace(def.Python) == "" {
		return fmt.Errorf("%w: %s: python is required", ErrInvalidTool, id)
	}
	if strings.TrimSpace(def.Command) == "" {
		return fmt.Errorf("%w: %s: command is required", ErrInvalidTool, id)
	}
	if def.Port <= 0 || def.Port > 65535 {
		return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidTool, id, def.Port)
	}
	switch def.RiskTier {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("%w: %s: unknown risk tier %q", ErrInvalidTool, id, def.RiskTier)
	}
	switch def.Strategy {
	case StrategyCLIArgs:
		if len(def.ArgTemplate) == 0 {
			return fmt.Errorf("%w: %s: cli_args strategy requires arg_template", ErrInvalidStrategy, id)
		}
	case StrategyConfigFile:
		if strings.TrimSpace(def.ConfigPath) == "" || len(def.ConfigTemplate) == 0 {
			return fmt.Errorf("%w: %s: config_file strategy requires config_path and config_template", ErrInvalidStrategy, id)
		}
	case StrategyNone:
	default:
		return fmt.Errorf("%w: %s: %q", ErrInvalidStrategy, id, def.Strategy)
	}
	return nil
}

// Get returns a tool definition by id.
func (r *Registry) Get(id string) (Tool, error) {
	tool, ok := r.items[strings.TrimSpace(id)]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrUnknownTool, id)
	}
	return tool, nil
}

// All returns definitions in deterministic order by id.
func (r *Registry) All() []Tool {
	list := make([]Tool, 0, len(r.items))
	for _, tool := range r.items {
		list = append(list, tool)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

// IDs returns the sorted tool identifiers.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isValidID(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if i == 0 || i == len(id)-1 {
			if isSep {
				return false
			}
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
