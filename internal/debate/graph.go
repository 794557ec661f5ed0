package debate

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/dyike/CortexConsensus/consts"
	"github.com/dyike/CortexConsensus/internal/catalog"
	"github.com/dyike/CortexConsensus/internal/events"
	"github.com/dyike/CortexConsensus/models"
)

const (
	nodeOpen     = "open"
	nodePace     = "pace"
	nodeFallback = "fallback"
	nodeClose    = "close"
)

type roundInput struct {
	number     int
	candidates *catalog.Catalog
	prior      []models.DebateRound
}

// roundState is the graph-local state of one round. order is fixed when
// the round opens; spoken counts the statements recorded so far.
type roundState struct {
	number     int
	order      []string
	spoken     int
	candidates *catalog.Catalog
	prior      []models.DebateRound
	scope      events.Scope
	round      models.DebateRound

	// pending holds a failed attempt until the fallback node settles it.
	pending       *models.AgentStatement
	pendingReason string
}

func genRoundState(context.Context) *roundState {
	return &roundState{}
}

// roundGraph compiles the round graph once per orchestrator.
//
//	START -> open -> (handOff) -> persona -> (settle) -> [fallback ->] pace -> (handOff) -> ... -> close -> END
func (o *Orchestrator) roundGraph(ctx context.Context) (compose.Runnable[*roundInput, *models.DebateRound], error) {
	o.compileOnce.Do(func() {
		o.runner, o.compileErr = o.compileRound(ctx)
	})
	return o.runner, o.compileErr
}

func (o *Orchestrator) compileRound(ctx context.Context) (compose.Runnable[*roundInput, *models.DebateRound], error) {
	g := compose.NewGraph[*roundInput, *models.DebateRound](
		compose.WithGenLocalState(genRoundState),
	)

	speakers := map[string]bool{nodeClose: true}
	for _, persona := range o.personas {
		speakers[persona] = true
	}
	settled := map[string]bool{nodePace: true, nodeFallback: true}

	_ = g.AddLambdaNode(nodeOpen, compose.InvokableLambda(o.openRound))
	for _, persona := range o.personas {
		_ = g.AddLambdaNode(persona, compose.InvokableLambda(o.speaker(persona)), compose.WithNodeName(consts.DisplayName(persona)))
		_ = g.AddBranch(persona, compose.NewGraphBranch(settle, settled))
	}
	_ = g.AddLambdaNode(nodeFallback, compose.InvokableLambda(o.applyFallback))
	_ = g.AddLambdaNode(nodePace, compose.InvokableLambda(o.pace))
	_ = g.AddLambdaNode(nodeClose, compose.InvokableLambda(closeRound))

	_ = g.AddEdge(compose.START, nodeOpen)
	_ = g.AddBranch(nodeOpen, compose.NewGraphBranch(handOff, speakers))
	_ = g.AddEdge(nodeFallback, nodePace)
	_ = g.AddBranch(nodePace, compose.NewGraphBranch(handOff, speakers))
	_ = g.AddEdge(nodeClose, compose.END)

	// open, close, and at most persona, fallback and pace per speaker.
	steps := 3*len(o.personas) + 4
	return g.Compile(ctx,
		compose.WithGraphName("CortexConsensus-DebateRound"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(steps),
	)
}

func (o *Orchestrator) openRound(ctx context.Context, in *roundInput) (string, error) {
	err := compose.ProcessState[*roundState](ctx, func(_ context.Context, s *roundState) error {
		s.number = in.number
		s.order = SpeakingOrder(o.personas, in.number)
		s.candidates = in.candidates
		s.prior = in.prior
		s.scope = events.Scope{Emitter: o.emitter, RunID: o.runID}.WithRound(in.number)
		s.round = models.DebateRound{Number: in.number}
		s.scope.Emit(events.RoundStarted, map[string]any{"order": s.order})
		return nil
	})
	return nodeOpen, err
}

// handOff picks the next speaker from the round's speaking order and
// closes the round once everyone has spoken.
func handOff(ctx context.Context, _ string) (next string, err error) {
	err = compose.ProcessState[*roundState](ctx, func(_ context.Context, s *roundState) error {
		if s.spoken >= len(s.order) {
			next = nodeClose
			return nil
		}
		next = s.order[s.spoken]
		return nil
	})
	return next, err
}

// settle routes a failed attempt through the fallback node.
func settle(ctx context.Context, _ string) (next string, err error) {
	err = compose.ProcessState[*roundState](ctx, func(_ context.Context, s *roundState) error {
		next = nodePace
		if s.pending != nil {
			next = nodeFallback
		}
		return nil
	})
	return next, err
}

func (o *Orchestrator) speaker(persona string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, _ string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var (
			scope      events.Scope
			number     int
			candidates *catalog.Catalog
			prior      []models.DebateRound
			peers      []models.AgentStatement
		)
		_ = compose.ProcessState[*roundState](ctx, func(_ context.Context, s *roundState) error {
			scope = s.scope.WithPersona(persona)
			number, candidates, prior = s.number, s.candidates, s.prior
			peers = append([]models.AgentStatement(nil), s.round.Statements...)
			return nil
		})

		st, reason := o.attempt(ctx, scope, persona, number, candidates, prior, peers)
		if err := ctx.Err(); err != nil {
			return "", err
		}

		err := compose.ProcessState[*roundState](ctx, func(_ context.Context, s *roundState) error {
			if reason != "" {
				s.pending, s.pendingReason = &st, reason
				return nil
			}
			s.round.Statements = append(s.round.Statements, st)
			s.spoken++
			return nil
		})
		return persona, err
	}
}

func (o *Orchestrator) applyFallback(ctx context.Context, persona string) (string, error) {
	err := compose.ProcessState[*roundState](ctx, func(_ context.Context, s *roundState) error {
		if s.pending == nil {
			return fmt.Errorf("fallback for %s without a failed attempt", persona)
		}
		st := o.fallback(s.scope.WithPersona(persona), *s.pending, s.candidates, s.pendingReason)
		s.round.Statements = append(s.round.Statements, st)
		s.spoken++
		s.pending, s.pendingReason = nil, ""
		return nil
	})
	return persona, err
}

func (o *Orchestrator) pace(ctx context.Context, persona string) (string, error) {
	if err := o.sleep(ctx, o.pacing); err != nil {
		return "", err
	}
	return persona, nil
}

func closeRound(ctx context.Context, _ string) (*models.DebateRound, error) {
	var round models.DebateRound
	err := compose.ProcessState[*roundState](ctx, func(_ context.Context, s *roundState) error {
		round = s.round
		s.scope.Emit(events.RoundFinished, map[string]any{"statements": len(round.Statements)})
		return nil
	})
	return &round, err
}
