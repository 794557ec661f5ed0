package trading

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dyike/CortexConsensus/consts"
	"github.com/dyike/CortexConsensus/models"
)

// BuildTranscript renders a run as markdown: every statement in speaking
// order followed by the ranked consensus.
func BuildTranscript(date, runID string, rounds []models.DebateRound, top5 []models.ConsensusEntry, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Consensus debate %s\n\n", date)
	if runID != "" {
		fmt.Fprintf(&b, "Run `%s`\n\n", runID)
	}

	for _, r := range rounds {
		fmt.Fprintf(&b, "## Round %d\n\n", r.Number)
		for _, st := range r.Statements {
			fmt.Fprintf(&b, "### %s\n\n", consts.DisplayName(st.Persona))
			if st.Fallback {
				fmt.Fprintf(&b, "_Fallback picks used: %s_\n\n", st.FailureReason)
			}
			if text := strings.TrimSpace(st.RawText); text != "" {
				b.WriteString(text)
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "**Picks:** %s\n", strings.Join(st.Picks, ", "))
			if len(st.Scores) > 0 {
				fmt.Fprintf(&b, "**Scores:** %s\n", formatScores(st.Picks, st.Scores))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Consensus\n\n")
	if len(top5) > 0 {
		b.WriteString("| Rank | Symbol | Avg | Votes | Final votes | Unanimous |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, e := range top5 {
			unanimous := ""
			if e.IsUnanimous {
				unanimous = "yes"
			}
			fmt.Fprintf(&b, "| %d | %s | %.2f | %d | %d | %s |\n", e.Rank, e.Symbol, e.AvgScore, e.Votes, e.FinalVotes, unanimous)
		}
		b.WriteString("\n")
	}
	b.WriteString(summary)
	b.WriteString("\n")
	return b.String()
}

func formatScores(picks []string, scores map[string]float64) string {
	parts := make([]string, 0, len(scores))
	seen := make(map[string]bool, len(picks))
	for _, p := range picks {
		if s, ok := scores[p]; ok {
			parts = append(parts, fmt.Sprintf("%s=%g", p, s))
			seen[p] = true
		}
	}
	var rest []string
	for sym := range scores {
		if !seen[sym] {
			rest = append(rest, sym)
		}
	}
	sort.Strings(rest)
	for _, sym := range rest {
		parts = append(parts, fmt.Sprintf("%s=%g", sym, scores[sym]))
	}
	return strings.Join(parts, ", ")
}
