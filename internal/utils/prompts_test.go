package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPersonaPrompt(t *testing.T) {
	for _, persona := range []string{"risky_analyst", "safe_analyst", "neutral_analyst"} {
		p, err := LoadPersonaPrompt(persona)
		require.NoError(t, err, persona)
		assert.Contains(t, p, "{{.persona}}")
	}

	p, err := LoadPersonaPrompt("macro_strategist")
	require.NoError(t, err)
	def, err := LoadPrompt("personas/default")
	require.NoError(t, err)
	assert.Equal(t, def, p)
}

func TestLoadRoundPrompt(t *testing.T) {
	for round := 1; round <= 3; round++ {
		p, err := LoadRoundPrompt(round)
		require.NoError(t, err)
		assert.Contains(t, p, "{{range .candidates}}")
	}
	final, _ := LoadRoundPrompt(3)
	assert.Contains(t, final, "final_picks")

	_, err := LoadRoundPrompt(4)
	assert.Error(t, err)
}
