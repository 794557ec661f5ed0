package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigWithRootIsValid(t *testing.T) {
	cfg := DefaultConfigWithRoot(t.TempDir())
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"risky_analyst", "safe_analyst", "neutral_analyst"}, cfg.PersonaNames())
	assert.Equal(t, 600, cfg.ContextBudget)
	assert.Equal(t, 1500*time.Millisecond, cfg.PacingDelay())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"two personas", func(c *Config) { c.Personas = c.Personas[:2] }, "exactly 3 personas"},
		{"duplicate persona", func(c *Config) { c.Personas[1].Name = c.Personas[0].Name }, "duplicate name"},
		{"unknown provider", func(c *Config) { c.Personas[0].Provider = "bard" }, "unknown provider"},
		{"http without url", func(c *Config) { c.Personas[0].Provider = ProviderHTTP }, "needs base_url"},
		{"negative pacing", func(c *Config) { c.PacingDelayMS = -1 }, "pacing_delay_ms"},
		{"zero budget", func(c *Config) { c.ContextBudget = 0 }, "context_budget"},
		{"bad schedule", func(c *Config) { c.Schedule = "every day" }, "schedule"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfigWithRoot(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMissingModelIsNotAStructuralError(t *testing.T) {
	cfg := DefaultConfigWithRoot(t.TempDir())
	cfg.Personas[2].Model = ""
	require.NoError(t, cfg.Validate())
	assert.Contains(t, cfg.Problems(), "neutral_analyst: no model configured")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONSENSUS_PACING_MS", "0")
	t.Setenv("CONSENSUS_CONTEXT_BUDGET", "1200")
	t.Setenv("RISKY_ANALYST_PROVIDER", "openai")
	t.Setenv("RISKY_ANALYST_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg := DefaultConfigWithRoot(t.TempDir())
	cfg.LoadFromEnv()

	assert.Equal(t, 0, cfg.PacingDelayMS)
	assert.Equal(t, 1200, cfg.ContextBudget)

	risky, _ := cfg.Persona("risky_analyst")
	assert.Equal(t, ProviderOpenAI, risky.Provider)
	assert.Equal(t, "sk-openai", risky.APIKey)

	neutral, _ := cfg.Persona("neutral_analyst")
	assert.Equal(t, "sk-ant", neutral.APIKey)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := Config{Timezone: "nowhere"}
	assert.Equal(t, time.UTC, cfg.Location())
}
