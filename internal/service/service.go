// Package service exposes the consensus runtime to embedding hosts as
// JSON-in, JSON-out methods. Long running work reports back through the
// notifier.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dyike/CortexConsensus/internal/trading"
	"github.com/dyike/CortexConsensus/pkg/app"
)

const (
	TopicConsensusFinished = "consensus.finished"
	TopicConsensusError    = "consensus.error"
)

type Option func(*Service)

func WithNotifier(fn func(topic, payload string)) Option {
	return func(s *Service) {
		if fn != nil {
			s.notify = fn
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type Service struct {
	rt      *app.Runtime
	version string
	notify  func(topic, payload string)
	logger  *slog.Logger

	mu        sync.Mutex
	running   map[string]context.CancelFunc
	stopSched context.CancelFunc
	wg        sync.WaitGroup
}

func New(rt *app.Runtime, version string, opts ...Option) *Service {
	s := &Service{
		rt:      rt,
		version: version,
		notify:  func(string, string) {},
		logger:  slog.Default(),
		running: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close cancels running jobs, waits for them and closes the runtime.
func (s *Service) Close() {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	if s.stopSched != nil {
		s.stopSched()
		s.stopSched = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.rt.Close()
}

// Wait blocks until every started job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) SystemInfo() any {
	info := map[string]any{
		"version": s.version,
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}
	if e := s.rt.Engine(); e != nil {
		info["engine_version"] = e.Version
		info["personas"] = e.Config.PersonaNames()
		info["candidates"] = e.Catalog.Len()
		info["timezone"] = e.Config.Timezone
	}
	if spec := s.rt.ScheduleSpec(); spec != "" {
		info["schedule"] = spec
		info["next_run"] = s.rt.NextRun().Format(time.RFC3339)
	}
	return info
}

// StartSchedule runs a consensus job for today at every tick of the
// configured cron spec until StopSchedule or Close.
func (s *Service) StartSchedule() (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopSched != nil {
		return nil, fmt.Errorf("schedule already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.rt.StartSchedule(ctx); err != nil {
		cancel()
		return nil, err
	}
	s.stopSched = cancel
	return map[string]any{
		"schedule": s.rt.ScheduleSpec(),
		"next_run": s.rt.NextRun().Format(time.RFC3339),
	}, nil
}

func (s *Service) StopSchedule() (any, error) {
	s.mu.Lock()
	cancel := s.stopSched
	s.stopSched = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.rt.StopSchedule()
	}
	return map[string]any{"stopped": cancel != nil}, nil
}

type RunParams struct {
	Date  string `json:"date"`
	Force bool   `json:"force"`
}

// StartConsensus validates the request and runs the job in the
// background. The outcome is delivered as consensus.finished or
// consensus.error. A second request for a date that is still running is
// rejected.
func (s *Service) StartConsensus(paramsJSON string) (any, error) {
	var params RunParams
	if err := decodeParams(paramsJSON, &params); err != nil {
		return nil, err
	}
	date, err := s.resolveDate(params.Date)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, busy := s.running[date]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("consensus for %s is already running", date)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running[date] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, date)
			s.mu.Unlock()
			cancel()
		}()

		sum, err := s.rt.Execute(ctx, date, params.Force)
		if err != nil {
			s.logger.Error("consensus run failed", "date", date, "error", err)
			s.notifyJSON(TopicConsensusError, map[string]any{"date": date, "error": err.Error()})
			return
		}
		s.notifyJSON(TopicConsensusFinished, sum)
	}()

	return map[string]any{"status": "started", "date": date}, nil
}

type CancelParams struct {
	Date string `json:"date"`
}

// CancelConsensus stops a running job. Cancelling a date with nothing
// running is not an error.
func (s *Service) CancelConsensus(paramsJSON string) (any, error) {
	var params CancelParams
	if err := decodeParams(paramsJSON, &params); err != nil {
		return nil, err
	}
	date, err := s.resolveDate(params.Date)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	cancel, ok := s.running[date]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return map[string]any{"date": date, "cancelled": ok}, nil
}

// resolveDate defaults an empty date to today in the configured timezone.
func (s *Service) resolveDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		e := s.rt.Engine()
		if e == nil {
			return "", fmt.Errorf("engine not ready")
		}
		return time.Now().In(e.Config.Location()).Format(trading.DateLayout), nil
	}
	if _, err := time.Parse(trading.DateLayout, date); err != nil {
		return "", fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	return date, nil
}

func (s *Service) notifyJSON(topic string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("encode notification", "topic", topic, "error", err)
		return
	}
	s.notify(topic, string(b))
}

func decodeParams(paramsJSON string, v any) error {
	if strings.TrimSpace(paramsJSON) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(paramsJSON), v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
