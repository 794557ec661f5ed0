package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dyike/CortexConsensus/config"
	"github.com/dyike/CortexConsensus/internal/errs"
)

// Invoker sends one system+user prompt pair to the model bound to persona
// and returns the raw completion text.
type Invoker interface {
	Invoke(ctx context.Context, persona, modelID, systemPrompt, userPrompt string) (string, error)
}

// backend performs a single completion against one provider.
type backend interface {
	complete(ctx context.Context, modelID, systemPrompt, userPrompt string) (string, error)
}

// ChatInvoker routes each persona to its configured provider. Backends are
// built on first use so a misconfigured persona only fails its own calls.
type ChatInvoker struct {
	personas map[string]config.PersonaConfig
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	backends map[string]backend
}

type Option func(*ChatInvoker)

// WithTimeout bounds every call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *ChatInvoker) { c.timeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *ChatInvoker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewChatInvoker(personas []config.PersonaConfig, opts ...Option) *ChatInvoker {
	c := &ChatInvoker{
		personas: make(map[string]config.PersonaConfig, len(personas)),
		logger:   slog.Default(),
		backends: make(map[string]backend),
	}
	for _, p := range personas {
		c.personas[p.Name] = p
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke performs exactly one outbound call. modelID overrides the persona's
// configured model when non-empty.
func (c *ChatInvoker) Invoke(ctx context.Context, persona, modelID, systemPrompt, userPrompt string) (string, error) {
	p, ok := c.personas[persona]
	if !ok {
		return "", &errs.ConfigError{Persona: persona, Err: errs.ErrPersonaNotConfigured}
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = p.Model
	}
	if strings.TrimSpace(modelID) == "" {
		return "", &errs.ConfigError{Persona: persona, Err: errs.ErrMissingModel}
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", &errs.ConfigError{Persona: persona, Err: errs.ErrMissingCredential}
	}

	b, err := c.backend(ctx, p)
	if err != nil {
		return "", err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.logger.Debug("invoking model", "persona", persona, "provider", providerOf(p), "model", modelID)
	text, err := b.complete(ctx, modelID, systemPrompt, userPrompt)
	if err != nil {
		return "", c.wrap(p, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", &errs.ProviderError{Persona: persona, Provider: providerOf(p), Message: "empty completion"}
	}
	return text, nil
}

func (c *ChatInvoker) backend(ctx context.Context, p config.PersonaConfig) (backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.backends[p.Name]; ok {
		return b, nil
	}
	b, err := newBackend(ctx, p, c.timeout)
	if err != nil {
		return nil, &errs.ConfigError{Persona: p.Name, Err: err}
	}
	c.backends[p.Name] = b
	return b, nil
}

func newBackend(ctx context.Context, p config.PersonaConfig, timeout time.Duration) (backend, error) {
	switch providerOf(p) {
	case config.ProviderOpenAI:
		return newOpenAIBackend(ctx, p, timeout)
	case config.ProviderDeepSeek:
		return newDeepSeekBackend(ctx, p, timeout)
	case config.ProviderAnthropic:
		return newAnthropicBackend(p), nil
	case config.ProviderHTTP:
		return newHTTPBackend(p, timeout)
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Provider)
	}
}

// wrap turns any backend failure into a ProviderError carrying the persona.
func (c *ChatInvoker) wrap(p config.PersonaConfig, err error) error {
	var pe *errs.ProviderError
	if errors.As(err, &pe) {
		if pe.Persona == "" {
			pe.Persona = p.Name
		}
		if pe.Provider == "" {
			pe.Provider = providerOf(p)
		}
		return pe
	}
	return &errs.ProviderError{
		Persona:  p.Name,
		Provider: providerOf(p),
		Message:  err.Error(),
		Err:      err,
	}
}

func providerOf(p config.PersonaConfig) string {
	if p.Provider == "" {
		return config.ProviderOpenAI
	}
	return p.Provider
}
