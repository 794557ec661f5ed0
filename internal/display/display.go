// Package display renders verdicts and run history for the terminal.
package display

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/CortexConsensus/consts"
	"github.com/dyike/CortexConsensus/internal/storage/sqlite"
	"github.com/dyike/CortexConsensus/internal/trading"
	"github.com/dyike/CortexConsensus/models"
)

const width = 80

// Renderer writes styled output to w. Colors are dropped automatically when
// w is not a terminal.
type Renderer struct {
	w io.Writer

	title     lipgloss.Style
	header    lipgloss.Style
	box       lipgloss.Style
	muted     lipgloss.Style
	good      lipgloss.Style
	warn      lipgloss.Style
	bad       lipgloss.Style
	unanimous lipgloss.Style
}

func NewRenderer(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		w: w,
		title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1),
		header: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6")),
		box: r.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#10B981")).
			Padding(0, 1).
			Width(width),
		muted:     r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		good:      r.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true),
		warn:      r.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true),
		bad:       r.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
		unanimous: r.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
	}
}

// Summary prints the outcome of a run.
func (r *Renderer) Summary(sum *trading.Summary) {
	status := r.good.Render("created")
	if sum.Status == consts.Status_Exists {
		status = r.warn.Render("exists")
	}
	fmt.Fprintln(r.w, r.title.Render(fmt.Sprintf("Consensus for %s", sum.Date))+"  "+status)
	if sum.Rounds > 0 {
		fmt.Fprintln(r.w, r.muted.Render(fmt.Sprintf("%d rounds, run %s", sum.Rounds, sum.RunID)))
	} else {
		fmt.Fprintln(r.w, r.muted.Render("stored verdict returned, no debate run"))
	}
	fmt.Fprintln(r.w)

	fmt.Fprintln(r.w, r.box.Render(r.table(sum.Top5)))
	r.perPersona(sum.PerPersonaTop5)
	fmt.Fprintln(r.w, r.box.Render(sum.ConsensusSummary))

	if sum.Downgraded {
		fmt.Fprintln(r.w, r.warn.Render("Stored without per-persona detail or transcript (legacy schema)."))
	}
	if len(sum.FailedPredictions) > 0 {
		fmt.Fprintln(r.w, r.bad.Render("Predictions not stored: "+strings.Join(sum.FailedPredictions, ", ")))
	}
	if sum.TranscriptPath != "" {
		fmt.Fprintln(r.w, r.muted.Render("Transcript: "+sum.TranscriptPath))
	}
}

// Verdict prints a stored verdict.
func (r *Renderer) Verdict(v *models.Verdict) {
	fmt.Fprintln(r.w, r.title.Render(fmt.Sprintf("Verdict %s", v.Date))+"  "+
		r.muted.Render(fmt.Sprintf("#%d, %s", v.ID, v.CreatedAt.Format("2006-01-02 15:04:05"))))
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, r.box.Render(r.table(v.Top5)))
	r.perPersona(v.PerPersonaTop5)
	fmt.Fprintln(r.w, r.box.Render(v.ConsensusSummary))
}

// Predictions prints the per-symbol predictions of a date.
func (r *Renderer) Predictions(preds []models.Prediction) {
	if len(preds) == 0 {
		fmt.Fprintln(r.w, r.muted.Render("No predictions stored."))
		return
	}
	fmt.Fprintln(r.w, r.header.Render("Predictions"))
	for _, p := range preds {
		dir := string(p.Direction)
		switch p.Direction {
		case models.DirectionUp:
			dir = r.good.Render(dir)
		case models.DirectionDown:
			dir = r.bad.Render(dir)
		default:
			dir = r.warn.Render(dir)
		}
		fmt.Fprintf(r.w, "  %-6s %-5s %.2f\n", p.Symbol, dir, p.AvgScore)
	}
}

// Runs prints run history, newest first.
func (r *Renderer) Runs(runs []sqlite.RunWithMeta) {
	if len(runs) == 0 {
		fmt.Fprintln(r.w, r.muted.Render("No runs recorded."))
		return
	}
	fmt.Fprintln(r.w, r.header.Render(fmt.Sprintf("%-10s  %-8s  %-5s  %-19s  %s", "DATE", "STATUS", "FORCE", "STARTED", "RUN")))
	for _, run := range runs {
		status := run.Status
		switch run.Status {
		case sqlite.RunStatusDone:
			status = r.good.Render(fmt.Sprintf("%-8s", status))
		case sqlite.RunStatusError:
			status = r.bad.Render(fmt.Sprintf("%-8s", status))
		default:
			status = r.warn.Render(fmt.Sprintf("%-8s", status))
		}
		force := ""
		if run.Force {
			force = "yes"
		}
		fmt.Fprintf(r.w, "%-10s  %s  %-5s  %-19s  %s\n", run.Date, status, force, run.CreatedAt, run.ID)
		if run.Error != "" {
			fmt.Fprintln(r.w, r.muted.Render("            "+run.Error))
		}
	}
}

// Problems prints configuration warnings.
func (r *Renderer) Problems(problems []string) {
	for _, p := range problems {
		fmt.Fprintln(r.w, r.warn.Render("! ")+p)
	}
}

func (r *Renderer) table(entries []models.ConsensusEntry) string {
	if len(entries) == 0 {
		return r.muted.Render("No consensus.")
	}
	var b strings.Builder
	b.WriteString(r.header.Render(fmt.Sprintf("%-4s %-7s %-28s %6s %5s %5s", "#", "SYMBOL", "NAME", "AVG", "VOTES", "FINAL")))
	for _, e := range entries {
		line := fmt.Sprintf("%-4d %-7s %-28s %6.2f %5d %5d", e.Rank, e.Symbol, clip(e.Name, 28), e.AvgScore, e.Votes, e.FinalVotes)
		b.WriteString("\n")
		b.WriteString(line)
		if e.IsUnanimous {
			b.WriteString(" " + r.unanimous.Render("★"))
		}
	}
	return b.String()
}

func (r *Renderer) perPersona(m map[string][]models.ConsensusEntry) {
	if len(m) == 0 {
		return
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return personaOrder(names[i]) < personaOrder(names[j]) })

	fmt.Fprintln(r.w, r.header.Render("Per analyst"))
	for _, name := range names {
		var syms []string
		for _, e := range m[name] {
			syms = append(syms, e.Symbol)
		}
		fmt.Fprintf(r.w, "  %-16s %s\n", consts.DisplayName(name), strings.Join(syms, ", "))
	}
	fmt.Fprintln(r.w)
}

func personaOrder(name string) string {
	for i, p := range consts.DefaultPersonas {
		if p == name {
			return fmt.Sprintf("%d", i)
		}
	}
	return "9" + name
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
