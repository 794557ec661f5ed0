package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dyike/CortexConsensus/internal/storage/sqlite"
	"github.com/dyike/CortexConsensus/models"
)

type VerdictParams struct {
	Date string `json:"date"`
}

// GetVerdict returns the stored verdict and predictions for a date. A date
// without a verdict yields a nil verdict, not an error.
func (s *Service) GetVerdict(paramsJSON string) (any, error) {
	var params VerdictParams
	if err := decodeParams(paramsJSON, &params); err != nil {
		return nil, err
	}
	date, err := s.resolveDate(params.Date)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	v, err := s.rt.Store().FindVerdict(ctx, date)
	if err != nil {
		return nil, err
	}
	preds := []models.Prediction{}
	if v != nil {
		if preds, err = s.rt.Store().ListPredictions(ctx, date); err != nil {
			return nil, err
		}
	}
	return map[string]any{"date": date, "verdict": v, "predictions": preds}, nil
}

type RunsParams struct {
	Cursor int64 `json:"cursor"`
	Limit  int   `json:"limit"`
}

// ListRuns pages through the run log, newest first. next_cursor is the
// row id to pass back for the following page.
func (s *Service) ListRuns(paramsJSON string) (any, error) {
	var params RunsParams
	if err := decodeParams(paramsJSON, &params); err != nil {
		return nil, err
	}
	limit := clampLimit(params.Limit)
	// One extra row tells whether another page exists.
	runs, err := s.rt.Store().ListRuns(context.Background(), params.Cursor, limit+1)
	if err != nil {
		return nil, err
	}
	var next int64
	if len(runs) > limit {
		runs = runs[:limit]
		next = runs[limit-1].RowID
	}
	if runs == nil {
		runs = []sqlite.RunWithMeta{}
	}
	return map[string]any{
		"items":       runs,
		"next_cursor": next,
		"has_more":    next != 0,
	}, nil
}

type TranscriptListParams struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

type TranscriptItem struct {
	Name string `json:"name"`
	Date string `json:"date"`
	Path string `json:"path"`
}

// ListTranscripts lists the markdown transcripts under the results
// directory, ordered by path. The cursor is the last path of the previous
// page.
func (s *Service) ListTranscripts(paramsJSON string) (any, error) {
	var params TranscriptListParams
	if err := decodeParams(paramsJSON, &params); err != nil {
		return nil, err
	}
	root, err := s.resultsDir()
	if err != nil {
		return nil, err
	}

	var items []TranscriptItem
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		items = append(items, TranscriptItem{
			Name: d.Name(),
			Date: filepath.Base(filepath.Dir(path)),
			Path: filepath.ToSlash(rel),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		items, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("walk results dir: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })

	start := 0
	if params.Cursor != "" {
		start = sort.Search(len(items), func(i int) bool { return items[i].Path > params.Cursor })
	}
	end := start + clampLimit(params.Limit)
	if end > len(items) {
		end = len(items)
	}
	page := append([]TranscriptItem{}, items[start:end]...)
	next := ""
	if end < len(items) {
		next = items[end-1].Path
	}
	return map[string]any{
		"items":       page,
		"next_cursor": next,
		"has_more":    next != "",
	}, nil
}

type TranscriptParams struct {
	Path string `json:"path"`
}

// ReadTranscript returns one transcript. The path is relative to the
// results directory and may not leave it.
func (s *Service) ReadTranscript(paramsJSON string) (any, error) {
	var params TranscriptParams
	if err := decodeParams(paramsJSON, &params); err != nil {
		return nil, err
	}
	rel := strings.TrimSpace(params.Path)
	if rel == "" {
		return nil, errors.New("path is required")
	}
	if !strings.EqualFold(filepath.Ext(rel), ".md") {
		return nil, errors.New("path is not a markdown file")
	}
	root, err := s.resultsDir()
	if err != nil {
		return nil, err
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	if r, err := filepath.Rel(root, target); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return nil, errors.New("path is outside results_dir")
	}

	content, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("transcript not found: %s", rel)
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return map[string]any{
		"path":    filepath.ToSlash(rel),
		"content": string(content),
	}, nil
}

func (s *Service) resultsDir() (string, error) {
	e := s.rt.Engine()
	if e == nil || strings.TrimSpace(e.Config.ResultsDir) == "" {
		return "", errors.New("results_dir is not configured")
	}
	return filepath.Abs(e.Config.ResultsDir)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 200:
		return 200
	default:
		return limit
	}
}
