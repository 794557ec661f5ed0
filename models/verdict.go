package models

import "time"

// Direction is the predicted move derived from a consensus score.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionHold Direction = "hold"
	DirectionDown Direction = "down"
)

// DirectionFor maps an average score onto a direction. Callers pass the
// stored 2-decimal avg score, not the raw mean, so a persisted direction
// always agrees with the persisted score.
func DirectionFor(avgScore float64) Direction {
	switch {
	case avgScore >= 4:
		return DirectionUp
	case avgScore >= 3:
		return DirectionHold
	default:
		return DirectionDown
	}
}

// ConsensusEntry is one ranked symbol in a verdict.
type ConsensusEntry struct {
	Symbol          string             `json:"symbol"`
	Name            string             `json:"name,omitempty"`
	Votes           int                `json:"votes"`
	FinalVotes      int                `json:"final_votes"`
	AvgScore        float64            `json:"avg_score"`
	IsUnanimous     bool               `json:"is_unanimous"`
	PerPersonaScore map[string]float64 `json:"per_persona_score,omitempty"`
	Reasons         map[string]string  `json:"reasons,omitempty"`
	Rank            int                `json:"rank"`
}

// Verdict is the persisted consensus for one date.
type Verdict struct {
	ID               int64                       `json:"id"`
	Date             string                      `json:"date"`
	Top5             []ConsensusEntry            `json:"top5"`
	ConsensusSummary string                      `json:"consensus_summary"`
	PerPersonaTop5   map[string][]ConsensusEntry `json:"per_persona_top5,omitempty"`
	Transcript       string                      `json:"-"`
	CreatedAt        time.Time                   `json:"created_at"`
}

// Prediction is derived from one top-5 entry of a verdict.
type Prediction struct {
	ID         int64     `json:"id"`
	VerdictID  int64     `json:"verdict_id"`
	Symbol     string    `json:"symbol"`
	SymbolName string    `json:"symbol_name"`
	Direction  Direction `json:"predicted_direction"`
	AvgScore   float64   `json:"avg_score"`
	Date       string    `json:"date"`
}

// PredictionsFor derives one prediction per entry.
func PredictionsFor(v *Verdict) []Prediction {
	out := make([]Prediction, 0, len(v.Top5))
	for _, e := range v.Top5 {
		out = append(out, Prediction{
			VerdictID:  v.ID,
			Symbol:     e.Symbol,
			SymbolName: e.Name,
			Direction:  DirectionFor(e.AvgScore),
			AvgScore:   e.AvgScore,
			Date:       v.Date,
		})
	}
	return out
}
