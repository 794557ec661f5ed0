// Package debate runs the three analyst personas through the fixed rounds
// of a debate, one call at a time.
package debate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/CortexConsensus/consts"
	"github.com/dyike/CortexConsensus/internal/agents"
	"github.com/dyike/CortexConsensus/internal/catalog"
	"github.com/dyike/CortexConsensus/internal/errs"
	"github.com/dyike/CortexConsensus/internal/events"
	"github.com/dyike/CortexConsensus/internal/parser"
	"github.com/dyike/CortexConsensus/internal/utils"
	"github.com/dyike/CortexConsensus/models"
)

const (
	DefaultPacing        = time.Second
	DefaultContextBudget = 600
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Orchestrator struct {
	invoker  agents.Invoker
	personas []string
	models   map[string]string
	pacing   time.Duration
	budget   int
	rounds   int
	emitter  events.Emitter
	logger   *slog.Logger
	sleep    SleepFunc
	runID    string

	compileOnce sync.Once
	runner      compose.Runnable[*roundInput, *models.DebateRound]
	compileErr  error
}

type Option func(*Orchestrator)

// WithPacing sets the delay inserted after every invocation.
func WithPacing(d time.Duration) Option {
	return func(o *Orchestrator) { o.pacing = d }
}

// WithContextBudget caps, in runes, how much of each earlier statement is
// quoted back to later speakers.
func WithContextBudget(runes int) Option {
	return func(o *Orchestrator) {
		if runes > 0 {
			o.budget = runes
		}
	}
}

// WithModels overrides the model id per persona. Personas missing from the
// map use the invoker's configured model.
func WithModels(models map[string]string) Option {
	return func(o *Orchestrator) { o.models = models }
}

func WithEmitter(e events.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithSleep(sleep SleepFunc) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// New builds an orchestrator for personas, in round-1 speaking order.
func New(invoker agents.Invoker, personas []string, opts ...Option) *Orchestrator {
	if len(personas) == 0 {
		personas = consts.DefaultPersonas
	}
	o := &Orchestrator{
		invoker:  invoker,
		personas: personas,
		pacing:   DefaultPacing,
		budget:   DefaultContextBudget,
		rounds:   consts.DebateRounds,
		emitter:  events.Discard,
		logger:   slog.Default(),
		sleep:    Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SpeakingOrder rotates personas one step per round: round 1 keeps the
// configured order, round 2 starts with the second persona, and so on.
func SpeakingOrder(personas []string, round int) []string {
	n := len(personas)
	if n == 0 {
		return nil
	}
	shift := ((round-1)%n + n) % n
	out := make([]string, 0, n)
	out = append(out, personas[shift:]...)
	out = append(out, personas[:shift]...)
	return out
}

// Run executes every round in order. It only fails when ctx is done, and
// then returns the rounds completed so far.
func (o *Orchestrator) Run(ctx context.Context, candidates *catalog.Catalog) ([]models.DebateRound, error) {
	rounds := make([]models.DebateRound, 0, o.rounds)
	for n := 1; n <= o.rounds; n++ {
		round, err := o.RunRound(ctx, n, candidates, rounds)
		if err != nil {
			return rounds, err
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

// RunRound asks each persona in turn for its statement. A persona whose
// call or answer fails gets the fallback picks, so a completed round always
// holds one statement per persona. The only error is ctx's.
func (o *Orchestrator) RunRound(ctx context.Context, number int, candidates *catalog.Catalog, prior []models.DebateRound) (models.DebateRound, error) {
	runner, err := o.roundGraph(ctx)
	if err != nil {
		return models.DebateRound{Number: number}, err
	}
	round, err := runner.Invoke(ctx, &roundInput{
		number:     number,
		candidates: candidates,
		prior:      prior,
	})
	if cerr := ctx.Err(); cerr != nil {
		return models.DebateRound{Number: number}, cerr
	}
	if err != nil {
		return models.DebateRound{Number: number}, fmt.Errorf("round %d: %w", number, err)
	}
	return *round, nil
}

// attempt renders, invokes and parses one statement. A non-empty reason
// means the statement needs the fallback picks.
func (o *Orchestrator) attempt(ctx context.Context, scope events.Scope, persona string, number int,
	candidates *catalog.Catalog, prior []models.DebateRound, peers []models.AgentStatement) (models.AgentStatement, string) {
	st := models.AgentStatement{Persona: persona, Round: number}

	system, user, err := o.render(ctx, persona, number, candidates, prior, peers)
	if err != nil {
		return st, fmt.Sprintf("render prompt: %v", err)
	}
	scope.Emit(events.AgentPrompt, map[string]any{"system_chars": len(system), "user_chars": len(user)})

	raw, err := o.invoker.Invoke(events.NewContext(ctx, scope), persona, o.models[persona], system, user)
	if err != nil {
		return st, err.Error()
	}
	st.RawText = raw

	payload, res := parser.ParsePayload(raw)
	if !res.OK {
		return st, fmt.Sprintf("%v: %s", errs.ErrParseFailure, res.Reason)
	}

	var dropped []string
	for _, symbol := range payload.Picks {
		if _, ok := candidates.Lookup(symbol); !ok {
			dropped = append(dropped, symbol)
			continue
		}
		if len(st.Picks) == consts.TopN {
			continue
		}
		st.Picks = append(st.Picks, symbol)
		if score, ok := payload.Scores[symbol]; ok {
			if st.Scores == nil {
				st.Scores = make(map[string]float64)
			}
			st.Scores[symbol] = score
		}
		if reason, ok := payload.Reasons[symbol]; ok {
			if st.Reasons == nil {
				st.Reasons = make(map[string]string)
			}
			st.Reasons[symbol] = reason
		}
	}
	if len(dropped) > 0 {
		o.logger.Debug("dropped picks outside the catalog", "persona", persona, "round", number, "symbols", dropped)
	}
	if len(st.Picks) == 0 {
		return st, "no picks from the candidate list"
	}

	scope.Emit(events.AgentStatement, map[string]any{
		"picks":    st.Picks,
		"repaired": res.Repaired,
		"dropped":  dropped,
	})
	return st, ""
}

func (o *Orchestrator) fallback(scope events.Scope, st models.AgentStatement, candidates *catalog.Catalog, reason string) models.AgentStatement {
	st.Picks = candidates.Fallback(consts.FallbackPicks)
	st.Scores = nil
	st.Reasons = nil
	st.Fallback = true
	st.FailureReason = reason
	scope.Emit(events.AgentFallback, map[string]any{"reason": reason, "picks": st.Picks})
	return st
}

// render fills the persona system prompt and the round template.
func (o *Orchestrator) render(ctx context.Context, persona string, number int,
	candidates *catalog.Catalog, prior []models.DebateRound, peers []models.AgentStatement) (string, string, error) {
	system, err := utils.LoadPersonaPrompt(persona)
	if err != nil {
		return "", "", err
	}
	user, err := utils.LoadRoundPrompt(templateRound(number, o.rounds))
	if err != nil {
		return "", "", err
	}

	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"persona":    consts.DisplayName(persona),
		"round":      number,
		"rounds":     o.rounds,
		"top_n":      consts.TopN,
		"candidates": candidates.Candidates(),
		"prior":      Digest(prior, o.budget),
		"peers":      peerPicks(peers),
	})
	if err != nil {
		return "", "", err
	}
	if len(msgs) != 2 {
		return "", "", fmt.Errorf("expected 2 prompt messages, got %d", len(msgs))
	}
	return msgs[0].Content, msgs[1].Content, nil
}

// templateRound maps a round number onto the three round templates: the
// first round, the final round, and everything in between.
func templateRound(number, total int) int {
	switch {
	case number <= 1:
		return 1
	case number >= total:
		return 3
	default:
		return 2
	}
}

// DigestRound is the condensed view of one earlier round given to later
// speakers.
type DigestRound struct {
	Number  int
	Entries []DigestEntry
}

type DigestEntry struct {
	Persona string
	Name    string
	Picks   string
	Excerpt string
}

// Digest condenses prior rounds, quoting at most budget runes of each
// statement.
func Digest(prior []models.DebateRound, budget int) []DigestRound {
	out := make([]DigestRound, 0, len(prior))
	for _, r := range prior {
		d := DigestRound{Number: r.Number}
		for _, st := range r.Statements {
			excerpt := Truncate(strings.Join(strings.Fields(st.RawText), " "), budget)
			if st.Fallback {
				excerpt = "(no usable answer; default picks used)"
			}
			d.Entries = append(d.Entries, DigestEntry{
				Persona: st.Persona,
				Name:    consts.DisplayName(st.Persona),
				Picks:   strings.Join(st.Picks, ", "),
				Excerpt: excerpt,
			})
		}
		out = append(out, d)
	}
	return out
}

type peerEntry struct {
	Persona string
	Name    string
	Picks   string
}

func peerPicks(peers []models.AgentStatement) []peerEntry {
	out := make([]peerEntry, 0, len(peers))
	for _, st := range peers {
		out = append(out, peerEntry{
			Persona: st.Persona,
			Name:    consts.DisplayName(st.Persona),
			Picks:   strings.Join(st.Picks, ", "),
		})
	}
	return out
}

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
