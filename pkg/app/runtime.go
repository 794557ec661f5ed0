package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dyike/CortexConsensus/config"
	"github.com/dyike/CortexConsensus/internal/storage/sqlite"
	"github.com/dyike/CortexConsensus/internal/trading"
)

type EngineBuilder func(config.Config) (*Engine, error)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStore reuses an open store instead of opening the configured one.
// The runtime does not close a store it did not open.
func WithStore(store *sqlite.Store) Option {
	return func(r *Runtime) { r.store = store }
}

// WithSessionOptions is applied to every session the runtime builds.
func WithSessionOptions(opts ...trading.Option) Option {
	return func(r *Runtime) { r.sessionOpts = append(r.sessionOpts, opts...) }
}

// Runtime keeps the current Engine in step with the config file and runs
// consensus jobs against it, on demand or on the configured schedule.
type Runtime struct {
	cfgMgr *config.Manager
	engine atomic.Pointer[Engine]

	builder     EngineBuilder
	notify      func(string, string)
	logger      *slog.Logger
	sessionOpts []trading.Option
	cancel      context.CancelFunc

	store     *sqlite.Store
	ownsStore bool

	schedMu  sync.Mutex
	sched    *cron.Cron
	schedCtx context.Context
	entry    cron.EntryID
	spec     string
}

func NewRuntime(cfgMgr *config.Manager, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	rt := &Runtime{
		cfgMgr:  cfgMgr,
		builder: BuildEngine,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(rt)
	}

	if err := rt.reload(cfgMgr.Get()); err != nil {
		return nil, err
	}

	if rt.store == nil {
		cfg := rt.Engine().Config
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		rt.store = store
		rt.ownsStore = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	if err := cfgMgr.Watch(ctx, func(cfg config.Config) {
		if err := rt.reload(cfg); err != nil && rt.notify == nil {
			rt.logger.Warn("engine reload failed", "error", err)
		}
	}); err != nil {
		cancel()
		rt.closeStore()
		return nil, err
	}

	return rt, nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

func (r *Runtime) Store() *sqlite.Store {
	return r.store
}

func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.StopSchedule()
	r.closeStore()
}

func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.UpdateFromJSON(jsonStr)
}

// Execute runs one consensus job on the current engine.
func (r *Runtime) Execute(ctx context.Context, date string, force bool) (*trading.Summary, error) {
	engine := r.Engine()
	if engine == nil {
		return nil, fmt.Errorf("engine not ready")
	}
	return engine.Session(r.store, r.logger, r.sessionOpts...).Execute(ctx, date, force)
}

// StartSchedule runs a job for "today" at every tick of the configured cron
// spec until ctx is done or StopSchedule is called. A tick that arrives while
// the previous job is still running is skipped.
func (r *Runtime) StartSchedule(ctx context.Context) error {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	if r.sched != nil {
		return fmt.Errorf("schedule already running")
	}

	logger := cronLogger{r.logger.With("component", "scheduler")}
	r.sched = cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	r.schedCtx = ctx
	if err := r.rescheduleLocked(r.Engine().Config); err != nil {
		r.sched = nil
		return err
	}
	r.sched.Start()

	go func() {
		<-ctx.Done()
		r.StopSchedule()
	}()
	return nil
}

// StopSchedule stops the scheduler and waits for a running job to return.
func (r *Runtime) StopSchedule() {
	r.schedMu.Lock()
	sched := r.sched
	r.sched = nil
	r.spec = ""
	r.entry = 0
	r.schedMu.Unlock()
	if sched != nil {
		<-sched.Stop().Done()
	}
}

// NextRun reports when the scheduler fires next, zero if not scheduled.
func (r *Runtime) NextRun() time.Time {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	if r.sched == nil {
		return time.Time{}
	}
	return r.sched.Entry(r.entry).Next
}

// ScheduleSpec returns the cron spec currently in effect.
func (r *Runtime) ScheduleSpec() string {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	return r.spec
}

func (r *Runtime) rescheduleLocked(cfg config.Config) error {
	spec := cronSpec(cfg)
	if r.sched == nil || spec == r.spec {
		return nil
	}
	ctx := r.schedCtx
	id, err := r.sched.AddFunc(spec, func() { r.runScheduled(ctx) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	if r.entry != 0 {
		r.sched.Remove(r.entry)
	}
	r.entry = id
	r.spec = spec
	r.logger.Info("consensus job scheduled", "spec", spec)
	return nil
}

func (r *Runtime) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sum, err := r.Execute(ctx, "", false)
	if err != nil {
		r.logger.Error("scheduled consensus run failed", "error", err)
		r.notifyJSON("schedule.run_failed", map[string]string{"error": err.Error()})
		return
	}
	r.logger.Info("scheduled consensus run finished", "date", sum.Date, "status", sum.Status)
	r.notifyJSON("schedule.run_finished", sum)
}

// cronSpec prefixes the spec with the configured zone so ticks follow
// local market time.
func cronSpec(cfg config.Config) string {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return fmt.Sprintf("CRON_TZ=%s %s", tz, cfg.Schedule)
}

func (r *Runtime) reload(cfg config.Config) error {
	engine, err := r.builder(cfg)
	if err != nil {
		r.notifyFailure(err)
		return err
	}
	if old := r.Engine(); old != nil && old.Config.DBPath != cfg.DBPath {
		r.logger.Warn("db_path changes take effect after restart", "current", old.Config.DBPath, "configured", cfg.DBPath)
	}
	r.engine.Store(engine)

	r.schedMu.Lock()
	serr := r.rescheduleLocked(cfg)
	r.schedMu.Unlock()
	if serr != nil {
		r.logger.Warn("keeping previous schedule", "error", serr)
	}

	r.notifySuccess(engine)
	return nil
}

func (r *Runtime) closeStore() {
	if r.ownsStore && r.store != nil {
		_ = r.store.Close()
		r.store = nil
	}
}

func (r *Runtime) notifySuccess(engine *Engine) {
	r.notifyJSON("engine.reloaded", map[string]any{
		"version":  engine.Version,
		"built_at": engine.BuiltAt.UTC().Format(time.RFC3339),
	})
}

func (r *Runtime) notifyFailure(err error) {
	r.notifyJSON("engine.reload_failed", map[string]string{
		"error": err.Error(),
	})
}

func (r *Runtime) notifyJSON(topic string, v any) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(v)
	r.notify(topic, string(payload))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
