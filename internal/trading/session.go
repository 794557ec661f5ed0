// Package trading wires one consensus run: debate, aggregation, transcript
// and persistence for a single date.
package trading

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dyike/CortexConsensus/config"
	"github.com/dyike/CortexConsensus/consts"
	"github.com/dyike/CortexConsensus/internal/agents"
	"github.com/dyike/CortexConsensus/internal/catalog"
	"github.com/dyike/CortexConsensus/internal/consensus"
	"github.com/dyike/CortexConsensus/internal/debate"
	"github.com/dyike/CortexConsensus/internal/events"
	"github.com/dyike/CortexConsensus/internal/storage"
	"github.com/dyike/CortexConsensus/internal/storage/sqlite"
	"github.com/dyike/CortexConsensus/models"
	"github.com/dyike/CortexConsensus/pkg/utils"
)

const DateLayout = "2006-01-02"

// Summary is the result handed back to the trigger surface.
type Summary struct {
	Status           string                             `json:"status"`
	Date             string                             `json:"date"`
	Top5             []models.ConsensusEntry            `json:"top5"`
	PerPersonaTop5   map[string][]models.ConsensusEntry `json:"perPersonaTop5,omitempty"`
	ConsensusSummary string                             `json:"consensusSummary"`
	Rounds           int                                `json:"rounds"`

	RunID             string   `json:"runId,omitempty"`
	TranscriptPath    string   `json:"transcriptPath,omitempty"`
	Downgraded        bool     `json:"downgraded,omitempty"`
	FailedPredictions []string `json:"failedPredictions,omitempty"`
}

// RunLog records run attempts. sqlite.Store implements it.
type RunLog interface {
	StartRun(ctx context.Context, run sqlite.RunRecord) error
	FinishRun(ctx context.Context, runID, status, errMsg string) error
}

// Session runs the consensus pipeline with a fixed configuration.
type Session struct {
	cfg     *config.Config
	invoker agents.Invoker
	catalog *catalog.Catalog
	gateway *storage.Gateway
	runs    RunLog
	emitter events.Emitter
	logger  *slog.Logger
	sleep   debate.SleepFunc
	now     func() time.Time
	newID   func() string
}

type Option func(*Session)

func WithRunLog(runs RunLog) Option {
	return func(s *Session) { s.runs = runs }
}

func WithEmitter(e events.Emitter) Option {
	return func(s *Session) {
		if e != nil {
			s.emitter = e
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSleep replaces the pacing wait, mostly for tests.
func WithSleep(sleep debate.SleepFunc) Option {
	return func(s *Session) { s.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRunIDs(newID func() string) Option {
	return func(s *Session) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func NewSession(cfg *config.Config, invoker agents.Invoker, cat *catalog.Catalog, gateway *storage.Gateway, opts ...Option) *Session {
	s := &Session{
		cfg:     cfg,
		invoker: invoker,
		catalog: cat,
		gateway: gateway,
		emitter: events.Discard,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the current date in the configured timezone.
func (s *Session) Today() string {
	return s.now().In(s.cfg.Location()).Format(DateLayout)
}

// Execute produces the verdict for date (today when empty).
//
// Without force an already stored verdict is returned with status "exists"
// and no agent is called. With force the stored verdict is replaced.
// Agent failures never fail the run; an empty consensus or a failed verdict
// insert does.
func (s *Session) Execute(ctx context.Context, date string, force bool) (summary *Summary, err error) {
	if date == "" {
		date = s.Today()
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date format: %w", err)
	}

	runID := s.newID()
	scope := events.Scope{Emitter: s.emitter, RunID: runID}
	ctx = events.NewContext(ctx, scope)
	logger := s.logger.With("run_id", runID, "date", date)

	s.startRun(ctx, logger, sqlite.RunRecord{ID: runID, Date: date, Force: force})
	defer func() {
		status, msg := sqlite.RunStatusDone, ""
		switch {
		case err != nil:
			status, msg = sqlite.RunStatusError, err.Error()
		case summary != nil && summary.Status == consts.Status_Exists:
			status = sqlite.RunStatusExists
		}
		s.finishRun(logger, runID, status, msg)
	}()

	scope.Emit(events.RunStarted, map[string]any{"date": date, "force": force})
	logger.Info("consensus run started", "force", force)

	if !force {
		existing, err := s.gateway.Lookup(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("lookup verdict: %w", err)
		}
		if existing != nil {
			scope.Emit(events.RunShortCircuited, map[string]any{"date": date, "verdict_id": existing.ID})
			logger.Info("verdict already exists, skipping debate", "verdict_id", existing.ID)
			return existingSummary(existing, runID), nil
		}
	}

	personas := s.cfg.PersonaNames()
	orch := debate.New(s.invoker, personas,
		debate.WithPacing(s.cfg.PacingDelay()),
		debate.WithContextBudget(s.cfg.ContextBudget),
		debate.WithEmitter(s.emitter),
		debate.WithLogger(logger),
		debate.WithSleep(s.sleep),
		debate.WithRunID(runID),
	)
	rounds, err := orch.Run(ctx, s.catalog)
	if err != nil {
		return nil, fmt.Errorf("debate: %w", err)
	}

	agg := consensus.NewAggregator(personas, s.catalog.Names())
	top5, err := agg.Aggregate(rounds)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	perPersona := agg.PerPersonaTop5(rounds)
	text := consensus.Summarize(top5, rounds)
	scope.Emit(events.ConsensusRanked, map[string]any{"symbols": symbols(top5), "summary": text})

	transcript := BuildTranscript(date, runID, rounds, top5, text)
	var transcriptPath string
	if s.cfg.WriteTranscripts && s.cfg.ResultsDir != "" {
		path, werr := utils.WriteMarkdown(filepath.Join(s.cfg.ResultsDir, date), fmt.Sprintf("consensus_%s.md", shortID(runID)), transcript)
		if werr != nil {
			logger.Warn("failed to write transcript", "error", werr)
		} else {
			transcriptPath = path
			logger.Info("transcript written", "path", path)
		}
	}

	res, err := s.gateway.Save(ctx, models.Verdict{
		Date:             date,
		Top5:             top5,
		ConsensusSummary: text,
		PerPersonaTop5:   perPersona,
		Transcript:       transcript,
	}, force)
	if err != nil {
		return nil, err
	}
	if res.Existing {
		// Another run stored the date between the lookup and the save.
		logger.Warn("verdict appeared during the run, returning stored one", "verdict_id", res.Verdict.ID)
		out := existingSummary(res.Verdict, runID)
		out.TranscriptPath = transcriptPath
		return out, nil
	}

	out := &Summary{
		Status:            consts.Status_Created,
		Date:              date,
		Top5:              res.Verdict.Top5,
		PerPersonaTop5:    perPersona,
		ConsensusSummary:  res.Verdict.ConsensusSummary,
		Rounds:            len(rounds),
		RunID:             runID,
		TranscriptPath:    transcriptPath,
		Downgraded:        res.Downgraded,
		FailedPredictions: res.FailedPredictions,
	}
	scope.Emit(events.RunFinished, map[string]any{"status": out.Status, "verdict_id": res.Verdict.ID})
	logger.Info("consensus run finished", "verdict_id", res.Verdict.ID, "top5", symbols(top5))
	return out, nil
}

func (s *Session) startRun(ctx context.Context, logger *slog.Logger, run sqlite.RunRecord) {
	if s.runs == nil {
		return
	}
	if err := s.runs.StartRun(ctx, run); err != nil {
		logger.Warn("failed to record run start", "error", err)
	}
}

// finishRun uses a fresh context so a cancelled run is still recorded.
func (s *Session) finishRun(logger *slog.Logger, runID, status, msg string) {
	if s.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runs.FinishRun(ctx, runID, status, msg); err != nil {
		logger.Warn("failed to record run result", "error", err)
	}
}

func existingSummary(v *models.Verdict, runID string) *Summary {
	return &Summary{
		Status:           consts.Status_Exists,
		Date:             v.Date,
		Top5:             v.Top5,
		PerPersonaTop5:   v.PerPersonaTop5,
		ConsensusSummary: v.ConsensusSummary,
		Rounds:           0,
		RunID:            runID,
	}
}

func symbols(entries []models.ConsensusEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Symbol)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
