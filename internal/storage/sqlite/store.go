package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyike/CortexConsensus/internal/errs"
	"github.com/dyike/CortexConsensus/models"
	"github.com/dyike/CortexConsensus/pkg/sqlite"
)

const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusExists  = "exists"
	RunStatusError   = "error"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// RunRecord tracks one pipeline execution, successful or not.
type RunRecord struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Force  bool   `json:"force"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type RunWithMeta struct {
	RunRecord
	RowID     int64  `json:"row_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func Open(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initSchema creates missing tables. An existing verdicts table is left as
// is, even when it predates the per_persona_top5 and transcript columns;
// writes against such a table take the minimal path.
//
// date is indexed but not unique: the existence check in the gateway is
// not atomic with the insert, and two concurrent runs for one date can
// both write a row.
func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS verdicts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    top5 TEXT NOT NULL,
    consensus_summary TEXT NOT NULL DEFAULT '',
    per_persona_top5 TEXT,
    transcript TEXT,
    created_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_verdicts_date ON verdicts(date);

CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    verdict_id INTEGER NOT NULL REFERENCES verdicts(id) ON DELETE CASCADE,
    symbol TEXT NOT NULL,
    symbol_name TEXT NOT NULL DEFAULT '',
    predicted_direction TEXT NOT NULL,
    avg_score REAL NOT NULL,
    date TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_date ON predictions(date);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    date TEXT NOT NULL,
    force INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// FindVerdict returns the oldest verdict for date, or nil when there is
// none. Tables without the optional columns are read with the minimal
// column set.
func (s *Store) FindVerdict(ctx context.Context, date string) (*models.Verdict, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, date, top5, consensus_summary, per_persona_top5, transcript, created_at
FROM verdicts
WHERE date = ?
ORDER BY id ASC
LIMIT 1
`, date)

	var (
		v          models.Verdict
		top5       string
		perPersona sql.NullString
		transcript sql.NullString
		createdAt  sql.NullString
	)
	err := row.Scan(&v.ID, &v.Date, &top5, &v.ConsensusSummary, &perPersona, &transcript, &createdAt)
	if sqlite.IsMissingColumn(err) {
		return s.findVerdictMinimal(ctx, date)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find verdict: %w", err)
	}
	if err := json.Unmarshal([]byte(top5), &v.Top5); err != nil {
		return nil, fmt.Errorf("decode top5: %w", err)
	}
	if perPersona.Valid && perPersona.String != "" {
		if err := json.Unmarshal([]byte(perPersona.String), &v.PerPersonaTop5); err != nil {
			return nil, fmt.Errorf("decode per_persona_top5: %w", err)
		}
	}
	v.Transcript = transcript.String
	v.CreatedAt = parseTime(createdAt.String)
	return &v, nil
}

func (s *Store) findVerdictMinimal(ctx context.Context, date string) (*models.Verdict, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, date, top5, consensus_summary
FROM verdicts
WHERE date = ?
ORDER BY id ASC
LIMIT 1
`, date)

	var (
		v    models.Verdict
		top5 string
	)
	if err := row.Scan(&v.ID, &v.Date, &top5, &v.ConsensusSummary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find verdict: %w", err)
	}
	if err := json.Unmarshal([]byte(top5), &v.Top5); err != nil {
		return nil, fmt.Errorf("decode top5: %w", err)
	}
	return &v, nil
}

// CountVerdicts returns how many verdict rows exist for date.
func (s *Store) CountVerdicts(ctx context.Context, date string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verdicts WHERE date = ?`, date).Scan(&n); err != nil {
		return 0, fmt.Errorf("count verdicts: %w", err)
	}
	return n, nil
}

// DeleteVerdict removes the predictions and then the verdicts for date and
// returns the number of verdict rows removed.
func (s *Store) DeleteVerdict(ctx context.Context, date string) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM predictions WHERE date = ?`, date); err != nil {
		return 0, fmt.Errorf("delete predictions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM verdicts WHERE date = ?`, date)
	if err != nil {
		return 0, fmt.Errorf("delete verdict: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertVerdict writes every column. It returns an error wrapping
// errs.ErrSchemaMismatch when the table lacks the optional columns.
func (s *Store) InsertVerdict(ctx context.Context, v *models.Verdict) (int64, error) {
	top5, err := json.Marshal(v.Top5)
	if err != nil {
		return 0, fmt.Errorf("encode top5: %w", err)
	}
	var perPersona any
	if len(v.PerPersonaTop5) > 0 {
		data, err := json.Marshal(v.PerPersonaTop5)
		if err != nil {
			return 0, fmt.Errorf("encode per_persona_top5: %w", err)
		}
		perPersona = string(data)
	}
	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO verdicts (date, top5, consensus_summary, per_persona_top5, transcript, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, v.Date, string(top5), v.ConsensusSummary, perPersona, v.Transcript, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		if sqlite.IsMissingColumn(err) {
			return 0, fmt.Errorf("insert verdict: %w: %v", errs.ErrSchemaMismatch, err)
		}
		return 0, fmt.Errorf("insert verdict: %w", err)
	}
	return res.LastInsertId()
}

// InsertVerdictMinimal writes only date, top5 and consensus_summary.
func (s *Store) InsertVerdictMinimal(ctx context.Context, v *models.Verdict) (int64, error) {
	top5, err := json.Marshal(v.Top5)
	if err != nil {
		return 0, fmt.Errorf("encode top5: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO verdicts (date, top5, consensus_summary)
VALUES (?, ?, ?)
`, v.Date, string(top5), v.ConsensusSummary)
	if err != nil {
		return 0, fmt.Errorf("insert minimal verdict: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertPrediction(ctx context.Context, p *models.Prediction) (int64, error) {
	if strings.TrimSpace(p.Symbol) == "" {
		return 0, fmt.Errorf("prediction symbol is required")
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO predictions (verdict_id, symbol, symbol_name, predicted_direction, avg_score, date)
VALUES (?, ?, ?, ?, ?, ?)
`, p.VerdictID, p.Symbol, p.SymbolName, string(p.Direction), p.AvgScore, p.Date)
	if err != nil {
		return 0, fmt.Errorf("insert prediction %s: %w", p.Symbol, err)
	}
	return res.LastInsertId()
}

func (s *Store) ListPredictions(ctx context.Context, date string) ([]models.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, verdict_id, symbol, symbol_name, predicted_direction, avg_score, date
FROM predictions
WHERE date = ?
ORDER BY id ASC
`, date)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var out []models.Prediction
	for rows.Next() {
		var (
			p   models.Prediction
			dir string
		)
		if err := rows.Scan(&p.ID, &p.VerdictID, &p.Symbol, &p.SymbolName, &dir, &p.AvgScore, &p.Date); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.Direction = models.Direction(dir)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list predictions rows: %w", err)
	}
	return out, nil
}

func (s *Store) StartRun(ctx context.Context, run RunRecord) error {
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id is required")
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, date, force, status, error)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    date=excluded.date,
    force=excluded.force,
    status=excluded.status,
    error=excluded.error,
    updated_at=CURRENT_TIMESTAMP
`, run.ID, run.Date, run.Force, run.Status, run.Error)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID, status, errMsg string) error {
	if strings.TrimSpace(runID) == "" || strings.TrimSpace(status) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE runs
SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
`, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// ListRuns pages through runs newest first. cursor is the RowID of the last
// run already seen, 0 for the first page.
func (s *Store) ListRuns(ctx context.Context, cursor int64, limit int) ([]RunWithMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT rowid, id, date, force, status, error, created_at, updated_at
FROM runs
WHERE (? = 0 OR rowid < ?)
ORDER BY rowid DESC
LIMIT ?
`, cursor, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunWithMeta
	for rows.Next() {
		var rec RunWithMeta
		if err := rows.Scan(&rec.RowID, &rec.ID, &rec.Date, &rec.Force, &rec.Status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	return runs, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
