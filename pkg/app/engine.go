package app

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dyike/CortexConsensus/config"
	"github.com/dyike/CortexConsensus/internal/agents"
	"github.com/dyike/CortexConsensus/internal/catalog"
	"github.com/dyike/CortexConsensus/internal/storage"
	"github.com/dyike/CortexConsensus/internal/storage/sqlite"
	"github.com/dyike/CortexConsensus/internal/trading"
)

// Engine is everything derived from one config snapshot.
type Engine struct {
	Config  config.Config
	Catalog *catalog.Catalog
	Invoker agents.Invoker
	BuiltAt time.Time
	Version uint64
}

var engineSeq atomic.Uint64

// BuildEngine validates cfg and prepares the catalog and model invoker.
// Model clients are created lazily on first use.
func BuildEngine(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return &Engine{
		Config:  cfg,
		Catalog: cat,
		Invoker: agents.NewChatInvoker(cfg.Personas, agents.WithTimeout(cfg.RequestTimeout())),
		BuiltAt: time.Now(),
		Version: engineSeq.Add(1),
	}, nil
}

// Session returns a run pipeline bound to this engine and store.
func (e *Engine) Session(store *sqlite.Store, logger *slog.Logger, opts ...trading.Option) *trading.Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := e.Config
	base := []trading.Option{trading.WithRunLog(store), trading.WithLogger(logger)}
	return trading.NewSession(&cfg, e.Invoker, e.Catalog,
		storage.NewGateway(store, storage.WithLogger(logger)),
		append(base, opts...)...)
}
