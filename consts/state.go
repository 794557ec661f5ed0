package consts

const (
	// Display names
	Agent_RiskyAnalyst   = "Risky Analyst"
	Agent_SafeAnalyst    = "Safe Analyst"
	Agent_NeutralAnalyst = "Neutral Analyst"
)

// DisplayName returns the human label for a persona id.
func DisplayName(persona string) string {
	switch persona {
	case RiskyAnalyst:
		return Agent_RiskyAnalyst
	case SafeAnalyst:
		return Agent_SafeAnalyst
	case NeutralAnalyst:
		return Agent_NeutralAnalyst
	}
	return persona
}

const (
	Status_Created = "created"
	Status_Exists  = "exists"
)
