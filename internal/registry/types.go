package registry

// Strategy selects how a tool's asset lookups are redirected into the
// shared asset root. The set is closed; adding a managed tool never adds
// a strategy unless the mechanism is genuinely new.
type Strategy string

const (
	StrategyCLIArgs    Strategy = "cli_args"
	StrategyConfigFile Strategy = "config_file"
	StrategyNone       Strategy = "none"
)

// RiskTier classifies how disruptive a tool is to run on shared hardware.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Tool is one immutable managed-tool definition.
type Tool struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	RepoURL  string `toml:"repo"`
	VenvName string `toml:"venv"`   // isolation identifier, names the private venv
	Python   string `toml:"python"` // pinned interpreter, e.g. "python3.10"

	Command     string   `toml:"command"`
	DefaultArgs []string `toml:"default_args"`
	ReqsFile    string   `toml:"reqs_file"`
	PostInstall []string `toml:"post_install"`

	Strategy       Strategy          `toml:"strategy"`
	ArgTemplate    []string          `toml:"arg_template"`
	ConfigPath     string            `toml:"config_path"`
	ConfigTemplate map[string]string `toml:"config_template"`

	Port     int      `toml:"port"`
	RiskTier RiskTier `toml:"risk_tier"`
	Notes    string   `toml:"notes"`
}
