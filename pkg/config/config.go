package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `yaml:"app"`
	Gateways  map[string]GatewayConfig  `yaml:"gateways"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Memory    MemoryConfig              `yaml:"memory"`
	Composio  ComposioConfig            `yaml:"composio"`
	Workflow  WorkflowConfig            `yaml:"workflow"`
}

type AppConfig struct {
	Name       string `yaml:"name"`
	Workspace  string `yaml:"workspace"`
	PromptsDir string `yaml:"prompts_dir"`
	// LogFile receives logs while the console gateway owns the terminal.
	LogFile string `yaml:"log_file"`
}

type GatewayConfig struct {
	Token   string `yaml:"token"`
	Enabled bool   `yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

// MemoryConfig selects where conversation messages and store snapshots live.
type MemoryConfig struct {
	Type     string `yaml:"type"` // sqlite or redis
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

type ComposioConfig struct {
	APIKey            string   `yaml:"api_key"`
	BaseURL           string   `yaml:"base_url"`
	UserID            string   `yaml:"user_id"`
	MultiUserMode     bool     `yaml:"multi_user_mode"`
	AllowedToolkits   []string `yaml:"allowed_toolkits"`
	DeniedToolkits    []string `yaml:"denied_toolkits"`
	DeniedTools       []string `yaml:"denied_tools"` // regular expressions
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
}

type Temperatures struct {
	ToolkitExtraction           float64 `yaml:"toolkit_extraction"`
	ToolExecution               float64 `yaml:"tool_execution"`
	ToolkitConnectionExtraction float64 `yaml:"toolkit_connection_extraction"`
	ToolkitConnectionResponse   float64 `yaml:"toolkit_connection_response"`
	ToolkitRemovalResponse      float64 `yaml:"toolkit_removal_response"`
}

type WorkflowConfig struct {
	Temperatures          Temperatures  `yaml:"temperatures"`
	IterativeDependencies bool          `yaml:"iterative_dependencies"`
	MaxDependencyRounds   int           `yaml:"max_dependency_rounds"`
	CreatePlans           bool          `yaml:"create_plans"`
	HistoryLimit          int           `yaml:"history_limit"`
	RecentExchanges       int           `yaml:"recent_exchanges"`
	SnapshotInterval      time.Duration `yaml:"snapshot_interval"`
	MappingMaxAge         time.Duration `yaml:"mapping_max_age"`
}

// DefaultTemperatures are preset before decoding so that an explicit 0 in
// the file or environment is kept.
func DefaultTemperatures() Temperatures {
	return Temperatures{
		ToolkitExtraction:           0.7,
		ToolExecution:               0.5,
		ToolkitConnectionExtraction: 0.3,
		ToolkitConnectionResponse:   0.7,
		ToolkitRemovalResponse:      0.7,
	}
}

func blank() Config {
	return Config{Workflow: WorkflowConfig{Temperatures: DefaultTemperatures()}}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := blank()
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "toolflow"
	}
	if c.App.PromptsDir == "" {
		c.App.PromptsDir = "prompts"
	}
	if c.App.LogFile == "" {
		c.App.LogFile = "logs/toolflow.log"
	}
	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "toolflow.db"
	}
	if c.Composio.UserID == "" {
		c.Composio.UserID = "default"
	}
	if c.Composio.RequestsPerSecond == 0 {
		c.Composio.RequestsPerSecond = 5
	}
	if c.Composio.Burst == 0 {
		c.Composio.Burst = 10
	}

	w := &c.Workflow
	if w.MaxDependencyRounds == 0 {
		w.MaxDependencyRounds = 5
	}
	if w.HistoryLimit == 0 {
		w.HistoryLimit = 5
	}
	if w.RecentExchanges == 0 {
		w.RecentExchanges = 3
	}
	if w.SnapshotInterval == 0 {
		w.SnapshotInterval = 5 * time.Minute
	}
	if w.MappingMaxAge == 0 {
		w.MappingMaxAge = 30 * 24 * time.Hour
	}
}

// Load reads a YAML file, applies environment overrides and defaults. A
// missing file yields the defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := blank()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Printf("[Config] %s not found, using defaults and environment", path)
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	float := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
		return nil
	}

	// list replaces dst with the non-empty comma separated entries.
	list := func(key string, dst *[]string) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		*dst = nil
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				*dst = append(*dst, item)
			}
		}
	}

	str("COMPOSIO_API_KEY", &c.Composio.APIKey)
	str("COMPOSIO_DEFAULT_USER_ID", &c.Composio.UserID)
	str("COMPOSIO_USER_ID", &c.Composio.UserID)
	if v, ok := lookup("COMPOSIO_MULTI_USER_MODE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COMPOSIO_MULTI_USER_MODE: %w", err)
		}
		c.Composio.MultiUserMode = b
	}
	list("COMPOSIO_ALLOWED_TOOLKITS", &c.Composio.AllowedToolkits)
	list("COMPOSIO_DENIED_TOOLKITS", &c.Composio.DeniedToolkits)
	list("COMPOSIO_DENIED_TOOLS", &c.Composio.DeniedTools)

	t := &c.Workflow.Temperatures
	for key, dst := range map[string]*float64{
		"COMPOSIO_TOOLKIT_EXTRACTION_TEMPERATURE":            &t.ToolkitExtraction,
		"COMPOSIO_TOOL_EXECUTION_TEMPERATURE":                &t.ToolExecution,
		"COMPOSIO_TOOLKIT_CONNECTION_EXTRACTION_TEMPERATURE": &t.ToolkitConnectionExtraction,
		"COMPOSIO_TOOLKIT_CONNECTION_RESPONSE_TEMPERATURE":   &t.ToolkitConnectionResponse,
		"COMPOSIO_TOOLKIT_REMOVAL_RESPONSE_TEMPERATURE":      &t.ToolkitRemovalResponse,
	} {
		if err := float(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("TELEGRAM_BOT_TOKEN"); ok && v != "" {
		if c.Gateways == nil {
			c.Gateways = make(map[string]GatewayConfig)
		}
		tg := c.Gateways["telegram"]
		tg.Token = v
		tg.Enabled = true
		c.Gateways["telegram"] = tg
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		p := c.Providers["openai"]
		p.APIKey = v
		if name, _ := c.GetDefaultProvider(); name == "" {
			p.Enabled = true
		}
		c.Providers["openai"] = p
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Composio.APIKey == "" {
		errs = append(errs, errors.New("composio.api_key is required"))
	}
	if name, p := c.GetDefaultProvider(); name == "" {
		errs = append(errs, errors.New("no enabled provider"))
	} else if p.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.%s.api_key is required", name))
	}
	switch c.Memory.Type {
	case "sqlite":
	case "redis":
		if c.Memory.RedisURL == "" {
			errs = append(errs, errors.New("memory.redis_url is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown memory type %q", c.Memory.Type))
	}
	return errors.Join(errs...)
}

// GetDefaultProvider returns the first enabled provider in name order.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	var names []string
	for name, p := range c.Providers {
		if p.Enabled {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", ProviderConfig{}
	}
	best := names[0]
	for _, n := range names[1:] {
		if n < best {
			best = n
		}
	}
	return best, c.Providers[best]
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled && tg.Token != "" {
		return tg, true
	}
	return GatewayConfig{}, false
}

// ConsoleEnabled reports whether the console gateway is on.
func (c *Config) ConsoleEnabled() bool {
	g, ok := c.Gateways["console"]
	return ok && g.Enabled
}
