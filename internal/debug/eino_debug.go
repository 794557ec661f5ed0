// Package debug starts the eino visual debug server when enabled.
package debug

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino-ext/devops"

	"github.com/dyike/CortexConsensus/config"
)

type EinoDebugger struct {
	config *config.Config
	logger *slog.Logger
}

func NewEinoDebugger(cfg *config.Config, logger *slog.Logger) *EinoDebugger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EinoDebugger{
		config: cfg,
		logger: logger.With("component", "eino_debug"),
	}
}

// Initialize starts the devops server. It must run before any chain is
// compiled for the chains to show up in the debugger.
func (d *EinoDebugger) Initialize(ctx context.Context) error {
	if !d.IsEnabled() {
		return nil
	}

	d.logger.Debug("initializing eino visual debug plugin", "port", d.config.EinoDebugPort)
	if err := devops.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize Eino debug plugin: %w", err)
	}
	d.logger.Info("eino debug server ready", "url", d.GetDebugURL())
	return nil
}

func (d *EinoDebugger) IsEnabled() bool {
	return d.config != nil && d.config.EinoDebugEnabled
}

func (d *EinoDebugger) GetDebugURL() string {
	if !d.IsEnabled() {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", d.config.EinoDebugPort)
}
