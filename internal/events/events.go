// Package events carries structured run events (statements, fallbacks,
// persistence outcomes) from the pipeline to whoever wants them: the log,
// a transcript recorder, or an embedding host through pkg/bridge.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Topics emitted by the pipeline.
const (
	RunStarted        = "run.started"
	RunFinished       = "run.finished"
	RunShortCircuited = "run.short_circuited"
	RoundStarted      = "round.started"
	RoundFinished     = "round.finished"
	AgentPrompt       = "agent.prompt"
	AgentStatement    = "agent.statement"
	AgentFallback     = "agent.fallback"
	ModelStart        = "agent.model_start"
	ModelEnd          = "agent.model_end"
	ModelError        = "agent.model_error"
	ConsensusRanked   = "consensus.ranked"
	VerdictSaved      = "verdict.saved"
	VerdictDowngraded = "verdict.downgraded"
	TranscriptDropped = "verdict.transcript_dropped"
	VerdictDeleted    = "verdict.deleted"
	PredictionSaved   = "prediction.saved"
	PredictionFailed  = "prediction.insert_failed"
)

type Event struct {
	Topic   string         `json:"topic"`
	RunID   string         `json:"run_id,omitempty"`
	Round   int            `json:"round,omitempty"`
	Persona string         `json:"persona,omitempty"`
	Time    time.Time      `json:"time"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Emitter receives events. Implementations must not block for long; the
// pipeline calls Emit inline.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// Multi fans an event out to several emitters in order.
func Multi(emitters ...Emitter) Emitter {
	list := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			list = append(list, e)
		}
	}
	return EmitterFunc(func(ev Event) {
		for _, e := range list {
			e.Emit(ev)
		}
	})
}

// Recorder keeps every event it sees. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Topic returns the recorded events with the given topic.
func (r *Recorder) Topic(topic string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// LogEmitter writes events to a slog logger. Failure topics go out at warn.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Emit(e Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]slog.Attr, 0, len(e.Fields)+3)
	if e.RunID != "" {
		attrs = append(attrs, slog.String("run_id", e.RunID))
	}
	if e.Round > 0 {
		attrs = append(attrs, slog.Int("round", e.Round))
	}
	if e.Persona != "" {
		attrs = append(attrs, slog.String("persona", e.Persona))
	}
	for k, v := range e.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	level := slog.LevelInfo
	switch e.Topic {
	case AgentFallback, ModelError, VerdictDowngraded, TranscriptDropped, PredictionFailed:
		level = slog.LevelWarn
	case AgentPrompt, ModelStart, ModelEnd:
		level = slog.LevelDebug
	}
	logger.LogAttrs(context.Background(), level, e.Topic, attrs...)
}

// Scope stamps run/round/persona onto events before forwarding them.
type Scope struct {
	Emitter Emitter
	RunID   string
	Round   int
	Persona string
	now     func() time.Time
}

// Emit sends an event for topic with optional fields.
func (s Scope) Emit(topic string, fields map[string]any) {
	if s.Emitter == nil {
		return
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	s.Emitter.Emit(Event{
		Topic:   topic,
		RunID:   s.RunID,
		Round:   s.Round,
		Persona: s.Persona,
		Time:    now().UTC(),
		Fields:  fields,
	})
}

// WithRound returns a copy of the scope bound to a round.
func (s Scope) WithRound(round int) Scope {
	s.Round = round
	return s
}

// WithPersona returns a copy of the scope bound to a persona.
func (s Scope) WithPersona(persona string) Scope {
	s.Persona = persona
	return s
}

type scopeKey struct{}

// NewContext attaches a scope to ctx so lower layers (model callbacks) can
// emit without having it passed explicitly.
func NewContext(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the scope attached to ctx, if any.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}
