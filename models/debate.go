package models

// Candidate is one entry of the externally supplied catalog.
type Candidate struct {
	Symbol string   `json:"symbol" yaml:"symbol"`
	Name   string   `json:"name" yaml:"name"`
	Sector string   `json:"sector" yaml:"sector"`
	Tags   []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// AgentStatement is what one persona said in one round.
type AgentStatement struct {
	Persona       string             `json:"persona"`
	Round         int                `json:"round"`
	RawText       string             `json:"raw_text"`
	Picks         []string           `json:"picks"`
	Scores        map[string]float64 `json:"scores,omitempty"`
	Reasons       map[string]string  `json:"reasons,omitempty"`
	Fallback      bool               `json:"fallback"`
	FailureReason string             `json:"failure_reason,omitempty"`
}

// DebateRound holds exactly one statement per persona, in speaking order.
type DebateRound struct {
	Number     int              `json:"number"`
	Statements []AgentStatement `json:"statements"`
}

// Statement returns the statement a persona made in this round.
func (r DebateRound) Statement(persona string) (AgentStatement, bool) {
	for _, s := range r.Statements {
		if s.Persona == persona {
			return s, true
		}
	}
	return AgentStatement{}, false
}

// Speakers returns the personas in the order they spoke.
func (r DebateRound) Speakers() []string {
	out := make([]string, 0, len(r.Statements))
	for _, s := range r.Statements {
		out = append(out, s.Persona)
	}
	return out
}
