package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TrailingCommaRepaired(t *testing.T) {
	res := Parse(`{"top5":[{"a":1,}]}`)

	require.True(t, res.OK, res.Reason)
	assert.True(t, res.Repaired)
	assert.Equal(t, map[string]any{
		"top5": []any{map[string]any{"a": float64(1)}},
	}, res.Value)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     map[string]any
		repaired bool
	}{
		{
			name: "strict",
			raw:  `{"picks":["AAPL","MSFT"]}`,
			want: map[string]any{"picks": []any{"AAPL", "MSFT"}},
		},
		{
			name: "wrapped in prose and fences",
			raw:  "Here is my view.\n```json\n{\"picks\": [\"NVDA\"]}\n```\nThanks!",
			want: map[string]any{"picks": []any{"NVDA"}},
		},
		{
			name:     "trailing comma in array",
			raw:      `{"picks":["AAPL","MSFT",]}`,
			want:     map[string]any{"picks": []any{"AAPL", "MSFT"}},
			repaired: true,
		},
		{
			name:     "control characters",
			raw:      "{\"reason\":\"solid\x01 margins\"}",
			want:     map[string]any{"reason": "solid margins"},
			repaired: true,
		},
		{
			name:     "adjacent quoted tokens",
			raw:      `{"picks":["AAPL" "MSFT"   "TSLA"]}`,
			want:     map[string]any{"picks": []any{"AAPL", "MSFT", "TSLA"}},
			repaired: true,
		},
		{
			name:     "adjacent numbers",
			raw:      `{"scores":[5 4 3]}`,
			want:     map[string]any{"scores": []any{float64(5), float64(4), float64(3)}},
			repaired: true,
		},
		{
			name:     "missing comma between fields",
			raw:      "{\"symbol\":\"AMD\"\n\"score\":4}",
			want:     map[string]any{"symbol": "AMD", "score": float64(4)},
			repaired: true,
		},
		{
			name: "adjacent objects",
			raw:  `{"top5":[{"symbol":"A"} {"symbol":"B"}]}`,
			want: map[string]any{"top5": []any{
				map[string]any{"symbol": "A"},
				map[string]any{"symbol": "B"},
			}},
			repaired: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(tt.raw)
			require.True(t, res.OK, res.Reason)
			assert.Equal(t, tt.want, res.Value)
			assert.Equal(t, tt.repaired, res.Repaired)
		})
	}
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"empty", "", "no JSON object found"},
		{"no braces", "I pick AAPL and MSFT", "no JSON object found"},
		{"reversed braces", "} nothing {", "no JSON object found"},
		{"hopeless", "{picks: AAPL MSFT}", "invalid JSON after repair"},
		{"unterminated array", `{"picks": ["AAPL"}`, "invalid JSON after repair"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			assert.NotPanics(t, func() { res = Parse(tt.raw) })
			assert.False(t, res.OK)
			assert.Nil(t, res.Value)
			assert.Contains(t, res.Reason, tt.reason)
		})
	}
}

func TestRepair(t *testing.T) {
	assert.Equal(t, "{\"a\":1}", Repair("{\"a\":1,}"))
	assert.Equal(t, `[[1],[2]]`, Repair(`[[1][2]]`))
	assert.Equal(t, "{\n\n\"a\":1}", Repair("{\n\n\n\n\"a\":1}"))
	assert.Equal(t, `["x","y"]`, Repair("[\"x\"\x00,\"y\"]"))
	assert.Equal(t, `[1, 2, 3]`, Repair(`[1 2 3]`))
}

func TestRepair_LeavesStringsAlone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "digits separated by spaces",
			raw:  `{"reason":"Q3 2024 beat",}`,
			want: `{"reason":"Q3 2024 beat"}`,
		},
		{
			name: "comma before bracket",
			raw:  `{"reason":"margins, ]", "score": 4,}`,
			want: `{"reason":"margins, ]", "score": 4}`,
		},
		{
			name: "escaped quotes",
			raw:  `{"reason":"the \"2 3\" split" "x":1}`,
			want: `{"reason":"the \"2 3\" split", "x":1}`,
		},
		{
			name: "adjacent quotes inside",
			raw:  `{"reason":"a} {b" "x":1}`,
			want: `{"reason":"a} {b", "x":1}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Repair(tt.raw))
		})
	}
}
