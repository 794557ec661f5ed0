package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/dyike/CortexConsensus/consts"
)

// Supported model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
	ProviderAnthropic = "anthropic"
	ProviderHTTP      = "http"
)

// PersonaConfig binds one debating persona to its model endpoint.
type PersonaConfig struct {
	Name        string  `json:"name"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

type Config struct {
	ProjectDir  string `json:"project_dir"`
	ResultsDir  string `json:"results_dir"`
	DataDir     string `json:"data_dir"`
	DBPath      string `json:"db_path"`
	CatalogPath string `json:"catalog_path"`

	Personas []PersonaConfig `json:"personas"`

	PacingDelayMS     int  `json:"pacing_delay_ms"`
	ContextBudget     int  `json:"context_budget"`
	RequestTimeoutSec int  `json:"request_timeout_sec"`
	WriteTranscripts  bool `json:"write_transcripts"`

	Schedule string `json:"schedule"`
	Timezone string `json:"timezone"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	Debug     bool   `json:"debug"`

	// Eino Debug configuration
	EinoDebugEnabled bool `json:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port"`
}

// DefaultConfig returns defaults rooted at the working directory with .env
// and environment overrides applied.
func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg.LoadFromEnv()
	return cfg
}

// DefaultConfigWithRoot returns defaults with every directory under root.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir: root,
		ResultsDir: filepath.Join(root, "results"),
		DataDir:    filepath.Join(root, "data"),
		DBPath:     filepath.Join(root, "data", "consensus.db"),

		Personas: []PersonaConfig{
			{Name: consts.RiskyAnalyst, Provider: ProviderDeepSeek, Model: "deepseek-chat", MaxTokens: 4096, Temperature: 0.9},
			{Name: consts.SafeAnalyst, Provider: ProviderOpenAI, Model: "gpt-4o-mini", MaxTokens: 4096, Temperature: 0.3},
			{Name: consts.NeutralAnalyst, Provider: ProviderAnthropic, Model: "claude-3-5-sonnet-latest", MaxTokens: 4096, Temperature: 0.6},
		},

		PacingDelayMS:     1500,
		ContextBudget:     600,
		RequestTimeoutSec: 120,
		WriteTranscripts:  true,

		Schedule: "30 6 * * 1-5",
		Timezone: "UTC",

		LogLevel:  "info",
		LogFormat: "text",

		EinoDebugEnabled: false,
		EinoDebugPort:    52538,
	}
}

// LoadFromEnv applies environment overrides. Secrets are expected to come
// from here rather than from the JSON file.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("PROJECT_DIR"); val != "" {
		c.ProjectDir = val
	}
	if val := os.Getenv("CONSENSUS_RESULTS_DIR"); val != "" {
		c.ResultsDir = val
	}
	if val := os.Getenv("CONSENSUS_DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("CONSENSUS_DB_PATH"); val != "" {
		c.DBPath = val
	}
	if val := os.Getenv("CONSENSUS_CATALOG_PATH"); val != "" {
		c.CatalogPath = val
	}

	if val := os.Getenv("CONSENSUS_PACING_MS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.PacingDelayMS = v
		}
	}
	if val := os.Getenv("CONSENSUS_CONTEXT_BUDGET"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.ContextBudget = v
		}
	}
	if val := os.Getenv("CONSENSUS_REQUEST_TIMEOUT_SEC"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.RequestTimeoutSec = v
		}
	}
	if val := os.Getenv("CONSENSUS_WRITE_TRANSCRIPTS"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.WriteTranscripts = enabled
		}
	}

	if val := os.Getenv("CONSENSUS_SCHEDULE"); val != "" {
		c.Schedule = val
	}
	if val := os.Getenv("CONSENSUS_TIMEZONE"); val != "" {
		c.Timezone = val
	}
	if val := os.Getenv("CONSENSUS_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("CONSENSUS_LOG_FORMAT"); val != "" {
		c.LogFormat = val
	}
	if val := os.Getenv("CONSENSUS_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Debug = enabled
		}
	}

	if val := os.Getenv("EINO_DEBUG_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.EinoDebugEnabled = enabled
		}
	}
	if val := os.Getenv("EINO_DEBUG_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.EinoDebugPort = port
		}
	}

	for i := range c.Personas {
		p := &c.Personas[i]
		prefix := strings.ToUpper(p.Name) + "_"
		if val := os.Getenv(prefix + "PROVIDER"); val != "" {
			p.Provider = val
		}
		if val := os.Getenv(prefix + "MODEL"); val != "" {
			p.Model = val
		}
		if val := os.Getenv(prefix + "BASE_URL"); val != "" {
			p.BaseURL = val
		}
		if val := os.Getenv(prefix + "API_KEY"); val != "" {
			p.APIKey = val
		}
		if p.APIKey == "" {
			p.APIKey = os.Getenv(providerKeyEnv(p.Provider))
		}
	}
}

func providerKeyEnv(provider string) string {
	switch provider {
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderHTTP:
		return "LLM_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// Validate checks structural consistency. Missing models or credentials are
// not rejected here; they surface per persona when it is invoked.
func (c Config) Validate() error {
	var errs []error
	if len(c.Personas) != len(consts.DefaultPersonas) {
		errs = append(errs, fmt.Errorf("exactly %d personas required, got %d", len(consts.DefaultPersonas), len(c.Personas)))
	}
	seen := map[string]bool{}
	for i, p := range c.Personas {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("persona %d: name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("persona %s: duplicate name", name))
		}
		seen[name] = true
		switch p.Provider {
		case "", ProviderOpenAI, ProviderDeepSeek, ProviderAnthropic, ProviderHTTP:
		default:
			errs = append(errs, fmt.Errorf("persona %s: unknown provider %q", name, p.Provider))
		}
		if p.Provider == ProviderHTTP && p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("persona %s: http provider needs base_url", name))
		}
	}
	if c.PacingDelayMS < 0 {
		errs = append(errs, fmt.Errorf("pacing_delay_ms must not be negative"))
	}
	if c.ContextBudget <= 0 {
		errs = append(errs, fmt.Errorf("context_budget must be positive"))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("schedule: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Problems lists runtime gaps (missing models or keys) that Validate lets
// through.
func (c Config) Problems() []string {
	var out []string
	for _, p := range c.Personas {
		if strings.TrimSpace(p.Model) == "" {
			out = append(out, fmt.Sprintf("%s: no model configured", p.Name))
		}
		if strings.TrimSpace(p.APIKey) == "" {
			out = append(out, fmt.Sprintf("%s: no API key (set %s_API_KEY or %s)", p.Name, strings.ToUpper(p.Name), providerKeyEnv(p.Provider)))
		}
	}
	return out
}

// PersonaNames returns the configured personas in speaking order.
func (c Config) PersonaNames() []string {
	out := make([]string, 0, len(c.Personas))
	for _, p := range c.Personas {
		out = append(out, p.Name)
	}
	return out
}

// Persona looks up a persona by name.
func (c Config) Persona(name string) (PersonaConfig, bool) {
	for _, p := range c.Personas {
		if p.Name == name {
			return p, true
		}
	}
	return PersonaConfig{}, false
}

func (c Config) PacingDelay() time.Duration {
	return time.Duration(c.PacingDelayMS) * time.Millisecond
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Location returns the configured timezone, UTC if unset or invalid.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir}
	if c.DBPath != "" {
		dirs = append(dirs, filepath.Dir(c.DBPath))
	}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
