package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload_StringPicks(t *testing.T) {
	p, res := ParsePayload(`{"picks":["aapl"," msft ","AAPL","NVDA"]}`)

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, p.Picks)
	assert.Empty(t, p.Scores)
}

func TestParsePayload_FinalScores(t *testing.T) {
	raw := `Final answer:
{"top5": [
  {"symbol": "NVDA", "score": 5, "reason": "AI capex"},
  {"ticker": "msft", "score": "4", "rationale": "cloud"},
  {"symbol": "AMD", "reason": "share gains"},
]}`
	p, res := ParsePayload(raw)

	require.True(t, res.OK, res.Reason)
	assert.True(t, res.Repaired)
	assert.Equal(t, []string{"NVDA", "MSFT", "AMD"}, p.Picks)
	assert.Equal(t, map[string]float64{"NVDA": 5, "MSFT": 4}, p.Scores)
	assert.Equal(t, map[string]string{"NVDA": "AI capex", "MSFT": "cloud", "AMD": "share gains"}, p.Reasons)
}

func TestParsePayload_TopLevelScoreMaps(t *testing.T) {
	p, res := ParsePayload(`{"final_picks":["JPM","V"],"scores":{"jpm":3,"V":4.5},"reasons":{"V":"network effects"}}`)

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, []string{"JPM", "V"}, p.Picks)
	assert.Equal(t, map[string]float64{"JPM": 3, "V": 4.5}, p.Scores)
	assert.Equal(t, "network effects", p.Reasons["V"])
}

func TestParsePayload_FirstKeyWins(t *testing.T) {
	p, res := ParsePayload(`{"picks":["A"],"top5":[{"symbol":"B","score":5}]}`)

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, []string{"A"}, p.Picks)
}

func TestParsePayload_NoPicks(t *testing.T) {
	_, res := ParsePayload(`{"top5":[{"a":1,}]}`)

	assert.False(t, res.OK)
	assert.Equal(t, "no picks in payload", res.Reason)
}

func TestParsePayload_NotJSON(t *testing.T) {
	_, res := ParsePayload("I would buy Apple.")
	assert.False(t, res.OK)
}

func TestParsePayload_NonFiniteScores(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"nan string", `{"picks":[{"symbol":"AAPL","score":"NaN"}]}`},
		{"inf string", `{"picks":[{"symbol":"AAPL","score":"+Inf"}]}`},
		{"negative infinity", `{"picks":[{"symbol":"AAPL","score":"-infinity"}]}`},
		{"score map", `{"picks":["AAPL"],"scores":{"AAPL":"nan"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, res := ParsePayload(tt.raw)
			require.True(t, res.OK, res.Reason)
			assert.Equal(t, []string{"AAPL"}, p.Picks)
			assert.Empty(t, p.Scores)
		})
	}
}

func TestParsePayload_RepairKeepsReasonText(t *testing.T) {
	p, res := ParsePayload(`{"picks":[{"symbol":"AAPL","score":4,"reason":"Q3 2024 beat",}]}`)

	require.True(t, res.OK, res.Reason)
	assert.True(t, res.Repaired)
	assert.Equal(t, "Q3 2024 beat", p.Reasons["AAPL"])
	assert.Equal(t, 4.0, p.Scores["AAPL"])
}
