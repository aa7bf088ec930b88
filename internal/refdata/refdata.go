// Package refdata embeds the ETF-to-index mapping, index constituent weights
// and stock sector table used by portfolio decomposition.
package refdata

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultSector is reported for symbols missing from the sector table.
const DefaultSector = "Other"

//go:embed composition.yaml
var compositionYAML []byte

// Constituent is one index member and its percentage weight.
type Constituent struct {
	Symbol string  `yaml:"symbol" json:"symbol"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// Composition is the reference data set. Constituent order is preserved from
// the source so that the first entries are the largest weights.
type Composition struct {
	ETFMapping   map[string]string        `yaml:"etf_mapping"`
	IndexWeights map[string][]Constituent `yaml:"index_weights"`
	StockSectors map[string]string        `yaml:"stock_sectors"`
}

var (
	defaultOnce sync.Once
	defaultComp *Composition
)

// Default returns the embedded composition. It panics if the embedded file
// is malformed, which only a broken build can cause.
func Default() *Composition {
	defaultOnce.Do(func() {
		c, err := Parse(compositionYAML)
		if err != nil {
			panic(fmt.Sprintf("refdata: embedded composition: %v", err))
		}
		defaultComp = c
	})
	return defaultComp
}

// Parse decodes a composition document.
func Parse(data []byte) (*Composition, error) {
	var c Composition
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse composition: %w", err)
	}
	for idx, cs := range c.IndexWeights {
		seen := make(map[string]bool, len(cs))
		for _, m := range cs {
			if m.Symbol == "" {
				return nil, fmt.Errorf("index %s: constituent with empty symbol", idx)
			}
			if math.IsNaN(m.Weight) || math.IsInf(m.Weight, 0) {
				return nil, fmt.Errorf("index %s: constituent %s has invalid weight %v", idx, m.Symbol, m.Weight)
			}
			if seen[m.Symbol] {
				return nil, fmt.Errorf("index %s: duplicate constituent %s", idx, m.Symbol)
			}
			seen[m.Symbol] = true
		}
	}
	if c.ETFMapping == nil {
		c.ETFMapping = map[string]string{}
	}
	if c.StockSectors == nil {
		c.StockSectors = map[string]string{}
	}
	return &c, nil
}

// LoadFile reads a composition document from disk.
func LoadFile(path string) (*Composition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read composition %s: %w", path, err)
	}
	return Parse(data)
}

// IndexFor returns the index an ETF tracks, matching with or without ".NS".
func (c *Composition) IndexFor(symbol string) (string, bool) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if idx, ok := c.ETFMapping[sym]; ok {
		return idx, true
	}
	idx, ok := c.ETFMapping[strings.TrimSuffix(sym, ".NS")]
	return idx, ok
}

// Weights returns an index's constituents in source order.
func (c *Composition) Weights(index string) ([]Constituent, bool) {
	cs, ok := c.IndexWeights[index]
	return cs, ok && len(cs) > 0
}

// WeightsFor resolves an ETF to its index weight table.
func (c *Composition) WeightsFor(etf string) (string, []Constituent, bool) {
	idx, ok := c.IndexFor(etf)
	if !ok {
		return "", nil, false
	}
	cs, ok := c.Weights(idx)
	return idx, cs, ok
}

// Sector returns the sector for a symbol, trying the ".NS" form too.
func (c *Composition) Sector(symbol string) string {
	if s, ok := c.StockSectors[symbol]; ok {
		return s
	}
	if s, ok := c.StockSectors[symbol+".NS"]; ok {
		return s
	}
	if s, ok := c.StockSectors[strings.TrimSuffix(symbol, ".NS")]; ok {
		return s
	}
	return DefaultSector
}

// IsETF reports whether a holding is an ETF: listed in the mapping, or its
// symbol or name contains "BEES" or "ETF".
func (c *Composition) IsETF(symbol, name string) bool {
	if _, ok := c.IndexFor(symbol); ok {
		return true
	}
	for _, s := range []string{strings.ToUpper(symbol), strings.ToUpper(name)} {
		if strings.Contains(s, "BEES") || strings.Contains(s, "ETF") {
			return true
		}
	}
	return false
}

// TopConstituents returns the first n members of an index.
func (c *Composition) TopConstituents(index string, n int) []Constituent {
	cs, _ := c.Weights(index)
	if n < len(cs) {
		cs = cs[:n]
	}
	out := make([]Constituent, len(cs))
	copy(out, cs)
	return out
}
