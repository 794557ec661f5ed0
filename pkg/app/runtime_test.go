package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexConsensus/config"
	"github.com/dyike/CortexConsensus/consts"
	"github.com/dyike/CortexConsensus/internal/trading"
)

type staticInvoker struct{}

func (staticInvoker) Invoke(ctx context.Context, persona, modelID, systemPrompt, userPrompt string) (string, error) {
	if strings.Contains(userPrompt, "final_picks") {
		return `{"final_picks": [{"symbol": "MSFT", "score": 5}, {"symbol": "NVDA", "score": 4}]}`, nil
	}
	return `{"picks": ["MSFT", "NVDA", "AAPL", "JPM", "V"]}`, nil
}

type notes struct {
	mu     sync.Mutex
	topics []string
}

func (n *notes) notify(topic, payload string) {
	n.mu.Lock()
	n.topics = append(n.topics, topic)
	n.mu.Unlock()
}

func (n *notes) has(topic string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func fakeBuilder(cfg config.Config) (*Engine, error) {
	e, err := BuildEngine(cfg)
	if err != nil {
		return nil, err
	}
	e.Invoker = staticInvoker{}
	return e, nil
}

func newRuntime(t *testing.T, n *notes) (*Runtime, *config.Manager) {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfigWithRoot(root)
	mgr, err := config.NewManager(
		config.WithConfigPath(filepath.Join(root, "config.json")),
		config.WithInitialConfig(cfg),
		config.WithDebounce(20*time.Millisecond),
	)
	require.NoError(t, err)

	rt, err := NewRuntime(mgr,
		WithBuilder(fakeBuilder),
		WithNotifier(n.notify),
		WithSessionOptions(trading.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })),
	)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt, mgr
}

func TestRuntimeExecute(t *testing.T) {
	n := &notes{}
	rt, _ := newRuntime(t, n)
	assert.True(t, n.has("engine.reloaded"))

	sum, err := rt.Execute(context.Background(), "2025-03-03", false)
	require.NoError(t, err)
	assert.Equal(t, consts.Status_Created, sum.Status)
	assert.Equal(t, "MSFT", sum.Top5[0].Symbol)

	again, err := rt.Execute(context.Background(), "2025-03-03", false)
	require.NoError(t, err)
	assert.Equal(t, consts.Status_Exists, again.Status)

	runs, err := rt.Store().ListRuns(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRuntimeReloadsOnConfigUpdate(t *testing.T) {
	n := &notes{}
	rt, mgr := newRuntime(t, n)
	before := rt.Engine().Version

	cfg := mgr.Get()
	cfg.PacingDelayMS = 10
	require.NoError(t, mgr.Update(cfg))
	assert.Greater(t, rt.Engine().Version, before)
	assert.Equal(t, 10, rt.Engine().Config.PacingDelayMS)

	cfg.Personas = cfg.Personas[:2]
	assert.Error(t, mgr.Update(cfg))
	assert.Equal(t, 10, rt.Engine().Config.PacingDelayMS)
}

func TestRuntimeReportsBuildFailure(t *testing.T) {
	n := &notes{}
	rt, _ := newRuntime(t, n)
	rt.builder = func(config.Config) (*Engine, error) { return nil, errors.New("catalog missing") }

	err := rt.reload(rt.Engine().Config)
	assert.Error(t, err)
	assert.True(t, n.has("engine.reload_failed"))
}

func TestRuntimeSchedule(t *testing.T) {
	rt, mgr := newRuntime(t, &notes{})
	assert.True(t, rt.NextRun().IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.StartSchedule(ctx))
	assert.Error(t, rt.StartSchedule(ctx))
	assert.Equal(t, "CRON_TZ=UTC 30 6 * * 1-5", rt.ScheduleSpec())
	assert.False(t, rt.NextRun().IsZero())

	cfg := mgr.Get()
	cfg.Schedule = "0 7 * * *"
	cfg.Timezone = "America/New_York"
	require.NoError(t, mgr.Update(cfg))
	assert.Equal(t, "CRON_TZ=America/New_York 0 7 * * *", rt.ScheduleSpec())
	next := rt.NextRun()
	assert.Equal(t, 7, next.In(rt.Engine().Config.Location()).Hour())

	rt.StopSchedule()
	assert.True(t, rt.NextRun().IsZero())
}
