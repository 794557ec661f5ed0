// Package storage persists verdicts and their predictions.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dyike/CortexConsensus/internal/errs"
	"github.com/dyike/CortexConsensus/internal/events"
	"github.com/dyike/CortexConsensus/models"
)

// VerdictStore is the persistence surface the gateway needs.
// internal/storage/sqlite.Store implements it.
type VerdictStore interface {
	FindVerdict(ctx context.Context, date string) (*models.Verdict, error)
	DeleteVerdict(ctx context.Context, date string) (int64, error)
	InsertVerdict(ctx context.Context, v *models.Verdict) (int64, error)
	InsertVerdictMinimal(ctx context.Context, v *models.Verdict) (int64, error)
	InsertPrediction(ctx context.Context, p *models.Prediction) (int64, error)
}

// SaveResult describes what Save did.
type SaveResult struct {
	Verdict *models.Verdict
	// Existing is set when a verdict for the date was already stored and
	// returned unchanged.
	Existing bool
	// Downgraded is set when the store lacked the optional columns and the
	// verdict was written without per-persona detail or transcript.
	Downgraded bool
	// Deleted counts verdict rows removed by a forced save.
	Deleted           int64
	Predictions       []models.Prediction
	FailedPredictions []string
}

type Gateway struct {
	store  VerdictStore
	logger *slog.Logger
	now    func() time.Time
}

type GatewayOption func(*Gateway)

func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGateway(store VerdictStore, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Lookup returns the stored verdict for date, or nil.
func (g *Gateway) Lookup(ctx context.Context, date string) (*models.Verdict, error) {
	return g.store.FindVerdict(ctx, date)
}

// Save persists draft for draft.Date.
//
// Without force an existing verdict is returned as is. With force the
// date's predictions and verdict are deleted first. The existence check and
// the insert are separate statements, so concurrent saves for one date can
// both insert.
//
// A verdict insert failure is returned and nothing else is written. A
// failed prediction insert is logged and the remaining ones still run.
func (g *Gateway) Save(ctx context.Context, draft models.Verdict, force bool) (*SaveResult, error) {
	if draft.Date == "" {
		return nil, fmt.Errorf("save verdict: date is required")
	}
	if len(draft.Top5) == 0 {
		return nil, fmt.Errorf("save verdict: %w", errs.ErrEmptyConsensus)
	}
	scope, _ := events.FromContext(ctx)
	logger := g.logger.With("date", draft.Date)
	result := &SaveResult{}

	if force {
		n, err := g.store.DeleteVerdict(ctx, draft.Date)
		if err != nil {
			return nil, fmt.Errorf("save verdict: %w", err)
		}
		result.Deleted = n
		if n > 0 {
			logger.Info("deleted existing verdict", "rows", n)
			scope.Emit(events.VerdictDeleted, map[string]any{"date": draft.Date, "rows": n})
		}
	} else {
		existing, err := g.store.FindVerdict(ctx, draft.Date)
		if err != nil {
			return nil, fmt.Errorf("save verdict: %w", err)
		}
		if existing != nil {
			logger.Info("verdict already exists", "verdict_id", existing.ID)
			result.Verdict = existing
			result.Existing = true
			return result, nil
		}
	}

	v := draft
	if v.CreatedAt.IsZero() {
		v.CreatedAt = g.now()
	}

	id, err := g.store.InsertVerdict(ctx, &v)
	if errors.Is(err, errs.ErrSchemaMismatch) {
		logger.Warn("store lacks optional verdict columns, retrying with minimal columns", "error", err)
		scope.Emit(events.VerdictDowngraded, map[string]any{"date": v.Date, "error": err.Error()})
		if v.Transcript != "" || len(v.PerPersonaTop5) > 0 {
			logger.Warn("transcript and per-persona picks not persisted",
				"transcript", v.Transcript, "per_persona_top5", v.PerPersonaTop5)
			scope.Emit(events.TranscriptDropped, map[string]any{
				"date":             v.Date,
				"transcript":       v.Transcript,
				"per_persona_top5": v.PerPersonaTop5,
			})
		}
		id, err = g.store.InsertVerdictMinimal(ctx, &v)
		result.Downgraded = true
	}
	if err != nil {
		return nil, fmt.Errorf("save verdict: %w", err)
	}
	v.ID = id
	if result.Downgraded {
		v.PerPersonaTop5 = nil
		v.Transcript = ""
	}
	result.Verdict = &v
	scope.Emit(events.VerdictSaved, map[string]any{"date": v.Date, "verdict_id": id, "downgraded": result.Downgraded})

	for _, p := range models.PredictionsFor(&v) {
		pid, err := g.store.InsertPrediction(ctx, &p)
		if err != nil {
			logger.Warn("prediction insert failed", "symbol", p.Symbol, "error", err)
			scope.Emit(events.PredictionFailed, map[string]any{"symbol": p.Symbol, "error": err.Error()})
			result.FailedPredictions = append(result.FailedPredictions, p.Symbol)
			continue
		}
		p.ID = pid
		result.Predictions = append(result.Predictions, p)
		scope.Emit(events.PredictionSaved, map[string]any{"symbol": p.Symbol, "direction": string(p.Direction)})
	}
	return result, nil
}
