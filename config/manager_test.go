package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreatesAndUpdates(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir))
	require.NoError(t, err)

	path := filepath.Join(dir, "config.json")
	_, err = os.Stat(path)
	require.NoError(t, err, "config file not created")

	cfg := mgr.Get()
	cfg.ProjectDir = filepath.Join(dir, "project")
	cfg.ResultsDir = filepath.Join(dir, "results")
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.PacingDelayMS = 10

	data, _ := json.Marshal(cfg)
	require.NoError(t, mgr.UpdateFromJSON(string(data)))

	updated := mgr.Get()
	assert.Equal(t, cfg.ProjectDir, updated.ProjectDir)
	assert.Equal(t, 10, updated.PacingDelayMS)
}

func TestManagerMergeKeepsUnsetFields(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithInitialConfig(DefaultConfigWithRoot(dir)))
	require.NoError(t, err)
	before := mgr.Get()

	require.NoError(t, mgr.MergeFromJSON(`{"timezone": "America/New_York", "pacing_delay_ms": 0}`))
	after := mgr.Get()
	assert.Equal(t, "America/New_York", after.Timezone)
	assert.Equal(t, 0, after.PacingDelayMS)
	assert.Equal(t, before.ResultsDir, after.ResultsDir)
	assert.Equal(t, before.Personas, after.Personas)

	assert.Error(t, mgr.MergeFromJSON(`{"timezone": 5}`))
	assert.Equal(t, "America/New_York", mgr.Get().Timezone)
}

func TestManagerGetReturnsCopy(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithInitialConfig(DefaultConfigWithRoot(dir)))
	require.NoError(t, err)

	cfg := mgr.Get()
	cfg.Personas[0].Model = "changed"
	assert.NotEqual(t, "changed", mgr.Get().Personas[0].Model)
}

func TestChanged(t *testing.T) {
	old := *DefaultConfigWithRoot(t.TempDir())
	assert.Empty(t, Changed(old, old))

	next := cloneConfig(old)
	next.Timezone = "Asia/Tokyo"
	next.PacingDelayMS = 0
	next.Personas[1].Model = "gpt-4o"
	assert.Equal(t, []string{"pacing_delay_ms", "timezone", "personas.safe_analyst"}, Changed(old, next))
}

func TestManagerRejectsInvalidUpdate(t *testing.T) {
	mgr, err := NewManager(WithConfigDir(t.TempDir()))
	require.NoError(t, err)

	cfg := mgr.Get()
	cfg.Personas = cfg.Personas[:2]
	assert.Error(t, mgr.Update(cfg))
	assert.Len(t, mgr.Get().Personas, 3)
}

func TestManagerNeverPersistsAPIKeys(t *testing.T) {
	dir := t.TempDir()
	initial := DefaultConfigWithRoot(dir)
	initial.Personas[0].APIKey = "sk-secret"

	mgr, err := NewManager(WithConfigDir(dir), WithInitialConfig(initial))
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", mgr.Get().Personas[0].APIKey)

	data, err := os.ReadFile(mgr.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
	assert.Equal(t, "sk-secret", initial.Personas[0].APIKey, "caller's config must not be mutated")
}

func TestManagerEnvOverlay(t *testing.T) {
	t.Setenv("SAFE_ANALYST_MODEL", "gpt-test")
	t.Setenv("SAFE_ANALYST_API_KEY", "from-env")

	mgr, err := NewManager(WithConfigDir(t.TempDir()), WithEnvOverlay())
	require.NoError(t, err)

	p, ok := mgr.Get().Persona("safe_analyst")
	require.True(t, ok)
	assert.Equal(t, "gpt-test", p.Model)
	assert.Equal(t, "from-env", p.APIKey)
}

func TestManagerWatchReloads(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 1)
	require.NoError(t, mgr.Watch(ctx, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}))

	cfg := mgr.Get()
	cfg.ProjectDir = filepath.Join(dir, "changed")
	cfg.ContextBudget = 900

	require.NoError(t, writeConfigFile(mgr.Path(), cfg))

	select {
	case got := <-reloaded:
		assert.Equal(t, 900, got.ContextBudget)
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not fire on config change")
	}
}
