package consts

// Persona identifiers. The order below is the round-1 speaking order.
const (
	RiskyAnalyst   = "risky_analyst"
	SafeAnalyst    = "safe_analyst"
	NeutralAnalyst = "neutral_analyst"
)

// DefaultPersonas lists the three debaters as A, B, C.
var DefaultPersonas = []string{RiskyAnalyst, SafeAnalyst, NeutralAnalyst}

const (
	// DebateRounds is the fixed number of rounds in one run.
	DebateRounds = 3
	// TopN is the size of the consensus list.
	TopN = 5
	// FallbackPicks is how many catalog entries a failed statement falls back to.
	FallbackPicks = 5
)
