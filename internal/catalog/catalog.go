// Package catalog loads the candidate universe the analysts debate over.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dyike/CortexConsensus/consts"
	"github.com/dyike/CortexConsensus/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type file struct {
	Candidates []models.Candidate `yaml:"candidates"`
}

// Catalog is an ordered, immutable candidate list with symbol lookup.
type Catalog struct {
	candidates []models.Candidate
	index      map[string]int
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a YAML catalog from path, or the embedded default when path is
// empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates YAML catalog data.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return New(f.Candidates)
}

// New validates candidates and normalizes their symbols to upper case.
func New(candidates []models.Candidate) (*Catalog, error) {
	if len(candidates) < consts.FallbackPicks {
		return nil, fmt.Errorf("need at least %d candidates, got %d", consts.FallbackPicks, len(candidates))
	}
	c := &Catalog{
		candidates: make([]models.Candidate, 0, len(candidates)),
		index:      make(map[string]int, len(candidates)),
	}
	for i, cand := range candidates {
		cand.Symbol = strings.ToUpper(strings.TrimSpace(cand.Symbol))
		if cand.Symbol == "" {
			return nil, fmt.Errorf("candidate %d: symbol is required", i)
		}
		if _, dup := c.index[cand.Symbol]; dup {
			return nil, fmt.Errorf("candidate %d: duplicate symbol %s", i, cand.Symbol)
		}
		c.index[cand.Symbol] = len(c.candidates)
		c.candidates = append(c.candidates, cand)
	}
	return c, nil
}

// Candidates returns a copy of the list in catalog order.
func (c *Catalog) Candidates() []models.Candidate {
	out := make([]models.Candidate, len(c.candidates))
	copy(out, c.candidates)
	return out
}

func (c *Catalog) Len() int { return len(c.candidates) }

// Lookup finds a candidate by symbol, case-insensitively.
func (c *Catalog) Lookup(symbol string) (models.Candidate, bool) {
	i, ok := c.index[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return models.Candidate{}, false
	}
	return c.candidates[i], true
}

// Fallback returns the symbols of the first n candidates.
func (c *Catalog) Fallback(n int) []string {
	if n > len(c.candidates) {
		n = len(c.candidates)
	}
	out := make([]string, 0, n)
	for _, cand := range c.candidates[:n] {
		out = append(out, cand.Symbol)
	}
	return out
}

// Names maps symbol to display name.
func (c *Catalog) Names() map[string]string {
	out := make(map[string]string, len(c.candidates))
	for _, cand := range c.candidates {
		out[cand.Symbol] = cand.Name
	}
	return out
}
