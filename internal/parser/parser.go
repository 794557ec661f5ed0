// Package parser turns an agent's free-form reply into structured data.
//
// Model output is usually close to JSON but wrapped in prose or markdown and
// sometimes slightly malformed. Parse takes the widest {...} span, tries a
// strict decode, and on failure applies one bounded repair pass before
// trying again. It never panics and never returns an error: callers check
// Result.OK and fall back on their own.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Result is the tagged outcome of Parse.
type Result struct {
	OK       bool
	Value    map[string]any
	Reason   string
	Repaired bool
}

var blankLines = regexp.MustCompile(`\n(?:[ \t\r]*\n){2,}`)

// Parse extracts the first-{ to last-} span of raw and decodes it.
func Parse(raw string) Result {
	span, ok := bracketSpan(raw)
	if !ok {
		return Result{Reason: "no JSON object found"}
	}

	if v, err := decode(span); err == nil {
		return Result{OK: true, Value: v}
	}

	v, err := decode(Repair(span))
	if err != nil {
		return Result{Reason: fmt.Sprintf("invalid JSON after repair: %v", err)}
	}
	return Result{OK: true, Value: v, Repaired: true}
}

// Repair fixes the formatting defects models commonly produce. It is applied
// at most once per Parse. Text inside string literals is left alone apart
// from control characters.
func Repair(s string) string {
	s = stripControl(s)
	s = blankLines.ReplaceAllString(s, "\n\n")
	return fixCommas(s)
}

// fixCommas drops commas directly before } or ] and inserts the missing
// comma between two adjacent values. It scans outside string literals only,
// honouring backslash escapes.
func fixCommas(s string) string {
	out := make([]byte, 0, len(s)+8)
	last := -1 // index in out of the last significant byte outside strings
	gap := false
	inString := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out = append(out, c)
			switch c {
			case '\\':
				if i+1 < len(s) {
					i++
					out = append(out, s[i])
				}
			case '"':
				inString = false
				last, gap = len(out)-1, false
			}
			continue
		}

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			gap = true
			out = append(out, c)
			continue
		case (c == '}' || c == ']') && last >= 0 && out[last] == ',':
			out = append(out[:last], out[last+1:]...)
		case last >= 0 && startsValue(c) && endsValue(out[last], gap):
			out = append(out[:last+1], append([]byte{','}, out[last+1:]...)...)
		}

		out = append(out, c)
		if c == '"' {
			inString = true
			continue
		}
		last, gap = len(out)-1, false
	}
	return string(out)
}

func startsValue(c byte) bool {
	switch {
	case c == '"' || c == '{' || c == '[' || c == '-':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == 't' || c == 'f' || c == 'n':
		return true
	}
	return false
}

// endsValue reports whether prev closes a value. Bare words and numbers
// only end at whitespace, so "12" or "1e5" stay one token.
func endsValue(prev byte, gap bool) bool {
	switch {
	case prev == '"' || prev == '}' || prev == ']':
		return true
	case prev >= '0' && prev <= '9', prev >= 'a' && prev <= 'z', prev >= 'A' && prev <= 'Z':
		return gap
	}
	return false
}

func bracketSpan(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func decode(s string) (map[string]any, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("top-level value is null")
	}
	return v, nil
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
}
