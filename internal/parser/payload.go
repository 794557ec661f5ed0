package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload is the structured part of an agent statement.
type Payload struct {
	Picks   []string
	Scores  map[string]float64
	Reasons map[string]string
}

var pickKeys = []string{"picks", "top5", "top_5", "final_picks", "selections", "recommendations"}

// ParsePayload parses raw text and maps it onto a Payload. The returned
// Result reports failure if the text is not JSON or carries no picks.
func ParsePayload(raw string) (Payload, Result) {
	res := Parse(raw)
	if !res.OK {
		return Payload{}, res
	}
	p, err := PayloadFrom(res.Value)
	if err != nil {
		return Payload{}, Result{Reason: err.Error(), Value: res.Value, Repaired: res.Repaired}
	}
	return p, res
}

// PayloadFrom reads picks, scores and reasons out of a decoded object.
func PayloadFrom(v map[string]any) (Payload, error) {
	p := Payload{
		Scores:  map[string]float64{},
		Reasons: map[string]string{},
	}
	seen := map[string]bool{}

	add := func(symbol string) string {
		symbol = normalizeSymbol(symbol)
		if symbol == "" {
			return ""
		}
		if !seen[symbol] {
			seen[symbol] = true
			p.Picks = append(p.Picks, symbol)
		}
		return symbol
	}

	for _, key := range pickKeys {
		items, ok := v[key].([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			switch it := item.(type) {
			case string:
				add(it)
			case map[string]any:
				symbol := add(firstString(it, "symbol", "ticker", "code"))
				if symbol == "" {
					continue
				}
				if score, ok := number(it["score"]); ok {
					if _, dup := p.Scores[symbol]; !dup {
						p.Scores[symbol] = score
					}
				}
				if reason := firstString(it, "reason", "rationale"); reason != "" {
					if _, dup := p.Reasons[symbol]; !dup {
						p.Reasons[symbol] = reason
					}
				}
			}
		}
		if len(p.Picks) > 0 {
			break
		}
	}

	if scores, ok := v["scores"].(map[string]any); ok {
		for sym, raw := range scores {
			sym = normalizeSymbol(sym)
			if score, ok := number(raw); ok && sym != "" {
				if _, dup := p.Scores[sym]; !dup {
					p.Scores[sym] = score
				}
			}
		}
	}
	if reasons, ok := v["reasons"].(map[string]any); ok {
		for sym, raw := range reasons {
			sym = normalizeSymbol(sym)
			if s, ok := raw.(string); ok && sym != "" {
				if _, dup := p.Reasons[sym]; !dup {
					p.Reasons[sym] = s
				}
			}
		}
	}

	if len(p.Picks) == 0 {
		return Payload{}, fmt.Errorf("no picks in payload")
	}
	return p, nil
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// number reads a finite score from a JSON number or numeric string.
// "NaN" and "Inf" parse as floats but are not scores.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
