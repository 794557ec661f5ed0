package consensus

import (
	"fmt"
	"strings"

	"github.com/dyike/CortexConsensus/models"
)

// Summarize renders the ranked entries and debate health as one line of
// plain text. The output depends only on its inputs.
func Summarize(entries []models.ConsensusEntry, rounds []models.DebateRound) string {
	if len(entries) == 0 {
		return "No consensus reached."
	}

	var sb strings.Builder
	sb.WriteString("Consensus top ")
	sb.WriteString(fmt.Sprint(len(entries)))
	sb.WriteString(": ")
	var unanimous []string
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("; ")
		}
		label := e.Symbol
		if e.Name != "" {
			label = fmt.Sprintf("%s (%s)", e.Symbol, e.Name)
		}
		fmt.Fprintf(&sb, "%d. %s avg %.2f, %d votes", e.Rank, label, e.AvgScore, e.Votes)
		if e.IsUnanimous {
			sb.WriteString(", unanimous")
			unanimous = append(unanimous, e.Symbol)
		}
	}
	sb.WriteString(".")

	if len(unanimous) > 0 {
		fmt.Fprintf(&sb, " Unanimous: %s.", strings.Join(unanimous, ", "))
	}

	total, fallbacks := 0, 0
	for _, r := range rounds {
		for _, st := range r.Statements {
			total++
			if st.Fallback {
				fallbacks++
			}
		}
	}
	if fallbacks > 0 {
		fmt.Fprintf(&sb, " %d of %d statements used fallback picks.", fallbacks, total)
	}
	return sb.String()
}
