package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexConsensus/internal/errs"
	"github.com/dyike/CortexConsensus/internal/events"
	"github.com/dyike/CortexConsensus/internal/storage/sqlite"
	"github.com/dyike/CortexConsensus/models"
	pkgsqlite "github.com/dyike/CortexConsensus/pkg/sqlite"
)

const day = "2025-03-03"

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "consensus.db")
	}
	s, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func draft(symbols ...string) models.Verdict {
	v := models.Verdict{
		Date:             day,
		ConsensusSummary: "summary",
		Transcript:       "full transcript",
		PerPersonaTop5: map[string][]models.ConsensusEntry{
			"risky_analyst": {{Symbol: symbols[0], Rank: 1}},
		},
	}
	for i, s := range symbols {
		v.Top5 = append(v.Top5, models.ConsensusEntry{Symbol: s, AvgScore: float64(5 - i), Votes: 3 - i%3, Rank: i + 1})
	}
	return v
}

func recording() (context.Context, *events.Recorder) {
	rec := events.NewRecorder()
	return events.NewContext(context.Background(), events.Scope{Emitter: rec, RunID: "run"}), rec
}

func TestSaveIsIdempotentWithoutForce(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, "")
	gw := NewGateway(store)

	first, err := gw.Save(ctx, draft("AAPL", "MSFT", "NVDA", "AMZN", "META"), false)
	require.NoError(t, err)
	assert.False(t, first.Existing)
	assert.Len(t, first.Predictions, 5)

	second, err := gw.Save(ctx, draft("TSLA", "AMD", "ORCL", "CRM", "V"), false)
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Verdict.ID, second.Verdict.ID)

	a, _ := json.Marshal(first.Verdict.Top5)
	b, _ := json.Marshal(second.Verdict.Top5)
	assert.Equal(t, string(a), string(b))

	n, err := store.CountVerdicts(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSaveForceReplaces(t *testing.T) {
	ctx, rec := recording()
	store := openStore(t, "")
	gw := NewGateway(store)

	_, err := gw.Save(ctx, draft("AAPL", "MSFT", "NVDA", "AMZN", "META"), false)
	require.NoError(t, err)

	res, err := gw.Save(ctx, draft("TSLA", "AMD", "ORCL"), true)
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.EqualValues(t, 1, res.Deleted)
	assert.Len(t, rec.Topic(events.VerdictDeleted), 1)

	n, err := store.CountVerdicts(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := store.FindVerdict(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, "TSLA", stored.Top5[0].Symbol)

	preds, err := store.ListPredictions(ctx, day)
	require.NoError(t, err)
	require.Len(t, preds, 3)
	for _, p := range preds {
		assert.Equal(t, res.Verdict.ID, p.VerdictID)
	}
}

func TestSaveDowngradesOnLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := pkgsqlite.Open(path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE verdicts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    top5 TEXT NOT NULL,
    consensus_summary TEXT NOT NULL DEFAULT ''
)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx, rec := recording()
	store := openStore(t, path)
	res, err := NewGateway(store).Save(ctx, draft("AAPL", "MSFT", "NVDA", "AMZN", "META"), false)
	require.NoError(t, err)

	assert.True(t, res.Downgraded)
	assert.Empty(t, res.Verdict.Transcript)
	assert.Len(t, res.Predictions, 5)

	dropped := rec.Topic(events.TranscriptDropped)
	require.Len(t, dropped, 1)
	assert.Equal(t, "full transcript", dropped[0].Fields["transcript"])
	assert.Equal(t, map[string][]models.ConsensusEntry{
		"risky_analyst": {{Symbol: "AAPL", Rank: 1}},
	}, dropped[0].Fields["per_persona_top5"])
	assert.Nil(t, res.Verdict.PerPersonaTop5)
	assert.Len(t, rec.Topic(events.VerdictDowngraded), 1)

	// A second save reads the legacy row back through the minimal path.
	again, err := NewGateway(store).Save(ctx, draft("TSLA"), false)
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, "AAPL", again.Verdict.Top5[0].Symbol)
}

// flakyStore fails selected prediction inserts or the verdict insert.
type flakyStore struct {
	VerdictStore
	failSymbols  map[string]bool
	failVerdict  bool
	predictCalls int
}

func (f *flakyStore) InsertVerdict(ctx context.Context, v *models.Verdict) (int64, error) {
	if f.failVerdict {
		return 0, errors.New("disk full")
	}
	return f.VerdictStore.InsertVerdict(ctx, v)
}

func (f *flakyStore) InsertPrediction(ctx context.Context, p *models.Prediction) (int64, error) {
	f.predictCalls++
	if f.failSymbols[p.Symbol] {
		return 0, errors.New("constraint failed")
	}
	return f.VerdictStore.InsertPrediction(ctx, p)
}

func TestSaveToleratesPredictionFailures(t *testing.T) {
	ctx, rec := recording()
	store := openStore(t, "")
	flaky := &flakyStore{VerdictStore: store, failSymbols: map[string]bool{"MSFT": true}}

	res, err := NewGateway(flaky).Save(ctx, draft("AAPL", "MSFT", "NVDA", "AMZN", "META"), false)
	require.NoError(t, err)
	assert.Equal(t, 5, flaky.predictCalls)
	assert.Equal(t, []string{"MSFT"}, res.FailedPredictions)
	assert.Len(t, res.Predictions, 4)
	assert.Len(t, rec.Topic(events.PredictionFailed), 1)

	preds, err := store.ListPredictions(ctx, day)
	require.NoError(t, err)
	assert.Len(t, preds, 4)
}

func TestSaveVerdictFailureIsFatal(t *testing.T) {
	store := openStore(t, "")
	flaky := &flakyStore{VerdictStore: store, failVerdict: true}

	_, err := NewGateway(flaky).Save(context.Background(), draft("AAPL"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, flaky.predictCalls)
}

func TestSaveRejectsEmptyTop5(t *testing.T) {
	gw := NewGateway(openStore(t, ""))
	_, err := gw.Save(context.Background(), models.Verdict{Date: day}, false)
	assert.ErrorIs(t, err, errs.ErrEmptyConsensus)
}
