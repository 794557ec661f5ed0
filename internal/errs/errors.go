// Package errs defines the error taxonomy shared by the debate pipeline.
//
// Recoverable errors (ProviderError, ConfigError, parse failures) are turned
// into fallback statements by the debate orchestrator. ErrSchemaMismatch is
// recovered by the persistence gateway. ErrEmptyConsensus is fatal for a run.
// ErrVerdictExists is informational: the stored verdict is returned instead.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrParseFailure         = errors.New("unparseable agent output")
	ErrSchemaMismatch       = errors.New("store schema mismatch")
	ErrEmptyConsensus       = errors.New("no consensus entries to rank")
	ErrVerdictExists        = errors.New("verdict already exists")
	ErrPersonaNotConfigured = errors.New("persona not configured")
	ErrMissingCredential    = errors.New("missing credential")
	ErrMissingModel         = errors.New("missing model identifier")
)

// ProviderError is returned when an upstream model call fails.
type ProviderError struct {
	Persona  string
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s (%s): status %d: %s", e.Provider, e.Persona, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s (%s): %s", e.Provider, e.Persona, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ConfigError reports a persona that cannot be invoked as configured.
type ConfigError struct {
	Persona string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("persona %s: %v", e.Persona, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsRecoverable reports whether a failed agent call should fall back
// instead of aborting the run.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	var ce *ConfigError
	return errors.As(err, &pe) || errors.As(err, &ce) || errors.Is(err, ErrParseFailure)
}
