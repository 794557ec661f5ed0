// Package consensus reduces three rounds of analyst statements to a ranked
// top five.
//
// Rounds before the final one are the breadth phase: every pick earns a
// rank-weighted score and marks its persona as a selector of that symbol.
// The final round contributes explicit 1..5 scores and reasons. All scores
// for a symbol share one pool whose mean is the symbol's average.
package consensus

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexConsensus/consts"
	"github.com/dyike/CortexConsensus/internal/errs"
	"github.com/dyike/CortexConsensus/models"
)

const (
	minScore = 1
	maxScore = 5
)

// RankScore is the breadth-phase weight of the pick at 0-based position i:
// 5, 4, 3, 2, 1, 1, ...
func RankScore(i int) int {
	s := maxScore - i
	if s < minScore {
		return minScore
	}
	return s
}

// clampScore bounds an explicit final-round score to 1..5. ok is false for
// NaN, which has no place in that range.
func clampScore(v float64) (decimal.Decimal, bool) {
	switch {
	case math.IsNaN(v):
		return decimal.Zero, false
	case v < minScore:
		return decimal.NewFromInt(minScore), true
	case v > maxScore:
		return decimal.NewFromInt(maxScore), true
	}
	return decimal.NewFromFloat(v), true
}

type Aggregator struct {
	personas []string
	names    map[string]string
}

// NewAggregator ranks for the given personas. A symbol is unanimous only
// when every one of them selected it in the breadth phase. names supplies
// display names and may be nil.
func NewAggregator(personas []string, names map[string]string) *Aggregator {
	if len(personas) == 0 {
		personas = consts.DefaultPersonas
	}
	return &Aggregator{personas: personas, names: names}
}

type tally struct {
	symbol     string
	pool       []decimal.Decimal
	selectedBy map[string]bool
	finalVotes int
	perPersona map[string][]decimal.Decimal
	reasons    map[string]string
}

func (t *tally) add(persona string, score decimal.Decimal) {
	t.pool = append(t.pool, score)
	t.perPersona[persona] = append(t.perPersona[persona], score)
}

func (t *tally) mean() decimal.Decimal {
	return mean(t.pool)
}

func mean(scores []decimal.Decimal) decimal.Decimal {
	if len(scores) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(scores[0], scores[1:]...).Div(decimal.NewFromInt(int64(len(scores))))
}

// Aggregate ranks every symbol picked across rounds and returns the top
// five. It fails with ErrEmptyConsensus when nothing was picked at all.
func (a *Aggregator) Aggregate(rounds []models.DebateRound) ([]models.ConsensusEntry, error) {
	tallies := a.collect(rounds, "")
	if len(tallies) == 0 {
		return nil, errs.ErrEmptyConsensus
	}
	return a.rank(tallies, consts.TopN), nil
}

// PerPersonaTop5 ranks each persona's own contributions the same way
// Aggregate ranks the group's.
func (a *Aggregator) PerPersonaTop5(rounds []models.DebateRound) map[string][]models.ConsensusEntry {
	out := make(map[string][]models.ConsensusEntry, len(a.personas))
	for _, p := range a.personas {
		tallies := a.collect(rounds, p)
		if len(tallies) == 0 {
			continue
		}
		out[p] = a.rank(tallies, consts.TopN)
	}
	return out
}

// collect builds tallies, optionally limited to one persona.
func (a *Aggregator) collect(rounds []models.DebateRound, only string) map[string]*tally {
	tallies := make(map[string]*tally)
	get := func(symbol string) *tally {
		t, ok := tallies[symbol]
		if !ok {
			t = &tally{
				symbol:     symbol,
				selectedBy: make(map[string]bool),
				perPersona: make(map[string][]decimal.Decimal),
				reasons:    make(map[string]string),
			}
			tallies[symbol] = t
		}
		return t
	}

	for _, round := range rounds {
		final := round.Number >= consts.DebateRounds
		for _, st := range round.Statements {
			if only != "" && st.Persona != only {
				continue
			}
			for i, raw := range st.Picks {
				symbol := strings.ToUpper(strings.TrimSpace(raw))
				if symbol == "" {
					continue
				}
				t := get(symbol)
				if !final {
					t.add(st.Persona, decimal.NewFromInt(int64(RankScore(i))))
					t.selectedBy[st.Persona] = true
					continue
				}
				score := decimal.NewFromInt(int64(RankScore(i)))
				if v, ok := st.Scores[symbol]; ok {
					if clamped, ok := clampScore(v); ok {
						score = clamped
					}
				}
				t.add(st.Persona, score)
				t.finalVotes++
				if reason := strings.TrimSpace(st.Reasons[symbol]); reason != "" {
					t.reasons[st.Persona] = reason
				}
			}
		}
	}
	return tallies
}

type ranked struct {
	entry models.ConsensusEntry
	exact decimal.Decimal
}

func (a *Aggregator) rank(tallies map[string]*tally, n int) []models.ConsensusEntry {
	list := make([]ranked, 0, len(tallies))
	for _, t := range tallies {
		avg := t.mean()
		entry := models.ConsensusEntry{
			Symbol:      t.symbol,
			Name:        a.names[t.symbol],
			Votes:       len(t.selectedBy),
			FinalVotes:  t.finalVotes,
			AvgScore:    avg.Round(2).InexactFloat64(),
			IsUnanimous: a.unanimous(t),
		}
		if len(t.perPersona) > 0 {
			entry.PerPersonaScore = make(map[string]float64, len(t.perPersona))
			for p, scores := range t.perPersona {
				entry.PerPersonaScore[p] = mean(scores).Round(2).InexactFloat64()
			}
		}
		if len(t.reasons) > 0 {
			entry.Reasons = t.reasons
		}
		list = append(list, ranked{entry: entry, exact: avg})
	}

	sort.Slice(list, func(i, j int) bool {
		x, y := list[i], list[j]
		if x.entry.IsUnanimous != y.entry.IsUnanimous {
			return x.entry.IsUnanimous
		}
		if x.entry.Votes != y.entry.Votes {
			return x.entry.Votes > y.entry.Votes
		}
		if c := x.exact.Cmp(y.exact); c != 0 {
			return c > 0
		}
		return x.entry.Symbol < y.entry.Symbol
	})

	if len(list) > n {
		list = list[:n]
	}
	out := make([]models.ConsensusEntry, len(list))
	for i, r := range list {
		r.entry.Rank = i + 1
		out[i] = r.entry
	}
	return out
}

func (a *Aggregator) unanimous(t *tally) bool {
	if len(t.selectedBy) == 0 {
		return false
	}
	for _, p := range a.personas {
		if !t.selectedBy[p] {
			return false
		}
	}
	return true
}
