package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexConsensus/config"
	"github.com/dyike/CortexConsensus/consts"
	"github.com/dyike/CortexConsensus/internal/catalog"
	"github.com/dyike/CortexConsensus/internal/events"
	"github.com/dyike/CortexConsensus/internal/storage"
	"github.com/dyike/CortexConsensus/internal/storage/sqlite"
	"github.com/dyike/CortexConsensus/models"
)

const day = "2025-03-03"

// debateInvoker answers each persona's k-th call as its round-k statement.
type debateInvoker struct {
	mu     sync.Mutex
	calls  int
	seen   map[string]int
	answer func(persona string, round int) (string, error)
}

func (d *debateInvoker) Invoke(ctx context.Context, persona, modelID, systemPrompt, userPrompt string) (string, error) {
	d.mu.Lock()
	if d.seen == nil {
		d.seen = map[string]int{}
	}
	d.calls++
	d.seen[persona]++
	round := d.seen[persona]
	d.mu.Unlock()
	return d.answer(persona, round)
}

func (d *debateInvoker) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

var breadthPicks = map[string][]string{
	consts.RiskyAnalyst:   {"X", "Y", "Z", "W", "V"},
	consts.SafeAnalyst:    {"Y", "X", "W", "Z", "U"},
	consts.NeutralAnalyst: {"X", "Y", "V", "T", "S"},
}

var finalScores = map[string]string{
	consts.RiskyAnalyst:   `{"final_picks": [{"symbol": "X", "score": 5}, {"symbol": "Y", "score": 4}, {"symbol": "Z", "score": 3}]}`,
	consts.SafeAnalyst:    `{"final_picks": [{"symbol": "Y", "score": 5}, {"symbol": "X", "score": 4}, {"symbol": "W", "score": 3}]}`,
	consts.NeutralAnalyst: `{"final_picks": [{"symbol": "X", "score": 5}, {"symbol": "Y", "score": 4}, {"symbol": "V", "score": 3}]}`,
}

func goldenAnswer(persona string, round int) (string, error) {
	if round == 3 {
		return "Final call.\n" + finalScores[persona], nil
	}
	b, _ := json.Marshal(map[string][]string{"picks": breadthPicks[persona]})
	return fmt.Sprintf("Round %d thoughts.\n```json\n%s\n```", round, b), nil
}

type fixture struct {
	cfg     *config.Config
	store   *sqlite.Store
	rec     *events.Recorder
	invoker *debateInvoker
	session *Session
}

func newFixture(t *testing.T, answer func(string, int) (string, error)) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfigWithRoot(root)

	cat, err := catalog.New([]models.Candidate{
		{Symbol: "X", Name: "Xylo Corp"}, {Symbol: "Y", Name: "Yield Inc"}, {Symbol: "Z", Name: "Zenith"},
		{Symbol: "W", Name: "Westward"}, {Symbol: "V", Name: "Vantage"}, {Symbol: "U", Name: "Umbra"},
		{Symbol: "T", Name: "Tessel"}, {Symbol: "S", Name: "Sable"},
	})
	require.NoError(t, err)

	store, err := sqlite.Open(filepath.Join(root, "consensus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		cfg:     cfg,
		store:   store,
		rec:     events.NewRecorder(),
		invoker: &debateInvoker{answer: answer},
	}
	ids := 0
	f.session = NewSession(cfg, f.invoker, cat, storage.NewGateway(store),
		WithRunLog(store),
		WithEmitter(f.rec),
		WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
		WithRunIDs(func() string {
			ids++
			return fmt.Sprintf("run-%04d-abcdef", ids)
		}),
	)
	return f
}

func symbolsOf(entries []models.ConsensusEntry) []string {
	return symbols(entries)
}

func TestExecuteGoldenRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, goldenAnswer)

	sum, err := f.session.Execute(ctx, day, false)
	require.NoError(t, err)
	assert.Equal(t, consts.Status_Created, sum.Status)
	assert.Equal(t, day, sum.Date)
	assert.Equal(t, 3, sum.Rounds)
	assert.Equal(t, []string{"X", "Y", "W", "Z", "V"}, symbolsOf(sum.Top5))
	assert.Equal(t, 4.67, sum.Top5[0].AvgScore)
	assert.Equal(t, "Xylo Corp", sum.Top5[0].Name)
	assert.True(t, sum.Top5[1].IsUnanimous)
	assert.Len(t, sum.PerPersonaTop5, 3)
	assert.True(t, strings.HasPrefix(sum.ConsensusSummary, "Consensus top 5: 1. X (Xylo Corp)"))
	assert.Equal(t, 9, f.invoker.count())

	data, err := os.ReadFile(sum.TranscriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Round 3")
	assert.Contains(t, string(data), "| 1 | X | 4.67 | 3 | 3 | yes |")
	assert.Equal(t, filepath.Join(f.cfg.ResultsDir, day, "consensus_run-0001.md"), sum.TranscriptPath)

	preds, err := f.store.ListPredictions(ctx, day)
	require.NoError(t, err)
	require.Len(t, preds, 5)
	assert.Equal(t, models.DirectionUp, preds[0].Direction)

	stored, err := f.store.FindVerdict(ctx, day)
	require.NoError(t, err)
	assert.Contains(t, stored.Transcript, "Round 1 thoughts.")

	runs, err := f.store.ListRuns(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.RunStatusDone, runs[0].Status)

	assert.Len(t, f.rec.Topic(events.AgentStatement), 9)
	assert.Len(t, f.rec.Topic(events.RunFinished), 1)
}

func TestExecuteShortCircuitsExistingVerdict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, goldenAnswer)

	first, err := f.session.Execute(ctx, day, false)
	require.NoError(t, err)

	second, err := f.session.Execute(ctx, day, false)
	require.NoError(t, err)
	assert.Equal(t, consts.Status_Exists, second.Status)
	assert.Equal(t, 0, second.Rounds)
	assert.Equal(t, symbolsOf(first.Top5), symbolsOf(second.Top5))
	assert.Equal(t, 9, f.invoker.count(), "no agent call for an existing verdict")
	assert.Len(t, f.rec.Topic(events.RunShortCircuited), 1)

	runs, err := f.store.ListRuns(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, sqlite.RunStatusExists, runs[0].Status)
}

func TestExecuteForceRegenerates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, goldenAnswer)

	_, err := f.session.Execute(ctx, day, false)
	require.NoError(t, err)

	f.invoker.seen = nil
	sum, err := f.session.Execute(ctx, day, true)
	require.NoError(t, err)
	assert.Equal(t, consts.Status_Created, sum.Status)
	assert.Equal(t, 18, f.invoker.count())

	n, err := f.store.CountVerdicts(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	preds, err := f.store.ListPredictions(ctx, day)
	require.NoError(t, err)
	assert.Len(t, preds, 5)
	assert.Len(t, f.rec.Topic(events.VerdictDeleted), 1)
}

func TestExecuteSurvivesEveryAgentFailing(t *testing.T) {
	f := newFixture(t, func(string, int) (string, error) {
		return "", errors.New("connection refused")
	})

	sum, err := f.session.Execute(context.Background(), day, false)
	require.NoError(t, err)
	assert.Equal(t, consts.Status_Created, sum.Status)
	assert.Equal(t, []string{"X", "Y", "Z", "W", "V"}, symbolsOf(sum.Top5))
	for _, e := range sum.Top5 {
		assert.True(t, e.IsUnanimous, e.Symbol)
	}
	assert.Contains(t, sum.ConsensusSummary, "9 of 9 statements used fallback picks")
	assert.Len(t, f.rec.Topic(events.AgentFallback), 9)
}

func TestExecuteRejectsBadDate(t *testing.T) {
	f := newFixture(t, goldenAnswer)
	_, err := f.session.Execute(context.Background(), "03/03/2025", false)
	assert.ErrorContains(t, err, "invalid date format")
	assert.Zero(t, f.invoker.count())
}

func TestExecuteDefaultsToToday(t *testing.T) {
	f := newFixture(t, goldenAnswer)
	f.session.now = func() time.Time { return time.Date(2025, 3, 4, 23, 30, 0, 0, time.UTC) }

	sum, err := f.session.Execute(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-04", sum.Date)
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, func(persona string, round int) (string, error) {
		cancel()
		return "", ctx.Err()
	})

	_, err := f.session.Execute(ctx, day, false)
	require.ErrorIs(t, err, context.Canceled)

	runs, lerr := f.store.ListRuns(context.Background(), 0, 10)
	require.NoError(t, lerr)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.RunStatusError, runs[0].Status)

	v, ferr := f.store.FindVerdict(context.Background(), day)
	require.NoError(t, ferr)
	assert.Nil(t, v)
}
