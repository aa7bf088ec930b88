// Package decompose computes look-through portfolio exposure and
// weight-based contribution attribution from index composition tables.
package decompose

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/internal/refdata"
	"github.com/seenimoa/marketlens/pkg/models"
	"github.com/seenimoa/marketlens/pkg/utils"
)

// ErrInvalidWeight marks a negative or non-finite constituent weight in a
// composition table.
var ErrInvalidWeight = errors.New("invalid constituent weight")

// UnallocatedPrefix prefixes the exposure entry that holds the part of an
// ETF's value its weight table does not cover.
const UnallocatedPrefix = "UNALLOCATED:"

// UnallocatedSector is the sector reported for unallocated exposure.
const UnallocatedSector = "Unallocated"

// residues below this are rounding noise
var residualEpsilon = decimal.New(1, -9)

var hundred = decimal.NewFromInt(100)

// Engine decomposes holdings against one composition data set.
// It is safe for concurrent use.
type Engine struct {
	comp *refdata.Composition
	log  *logger.Entry
}

// New creates an engine. A nil composition uses the embedded reference data.
func New(comp *refdata.Composition) *Engine {
	if comp == nil {
		comp = refdata.Default()
	}
	return &Engine{
		comp: comp,
		log:  logger.GetLogger().WithComponent("decompose"),
	}
}

// Composition returns the reference data the engine uses.
func (e *Engine) Composition() *refdata.Composition { return e.comp }

// ClassifyHolding returns the holding's explicit kind, or detects an ETF from
// the mapping table and naming heuristics.
func ClassifyHolding(h models.Holding, comp *refdata.Composition) models.HoldingKind {
	if h.Kind != "" {
		return h.Kind
	}
	if comp.IsETF(h.Symbol, h.Name) {
		return models.HoldingETF
	}
	return models.HoldingStock
}

// ExposureKey is the symbol an exposure is aggregated under: upper-cased with
// any exchange suffix removed, so a direct "INFY" and an ETF's "INFY.NS" merge.
func ExposureKey(symbol string) string {
	return utils.FromYFinanceTicker(strings.ToUpper(strings.TrimSpace(symbol)))
}

type exposure struct {
	value   decimal.Decimal
	sources map[string]struct{}
}

type accumulator struct {
	entries map[string]*exposure
}

func (a *accumulator) add(symbol, source string, v decimal.Decimal) {
	ex, ok := a.entries[symbol]
	if !ok {
		ex = &exposure{sources: make(map[string]struct{})}
		a.entries[symbol] = ex
	}
	ex.value = ex.value.Add(v)
	ex.sources[source] = struct{}{}
}

// Decompose spreads every ETF holding across its index constituents and adds
// direct holdings at full value. The sum of exposure values equals the sum of
// holding values: weight tables short of 100% leave the residual in an
// UNALLOCATED entry, and tables above 100% are scaled down.
func (e *Engine) Decompose(holdings []models.Holding) *models.Decomposition {
	acc := &accumulator{entries: make(map[string]*exposure)}
	out := &models.Decomposition{}
	total := decimal.Zero

	for _, h := range holdings {
		sym := ExposureKey(h.Symbol)
		if sym == "" {
			continue
		}
		if !finite(h.Quantity) || !finite(h.LastPrice) {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: non-finite quantity or price skipped", sym))
			e.log.WithField("symbol", sym).Warn("holding with non-finite value skipped")
			continue
		}
		value := decimal.NewFromFloat(h.Quantity).Mul(decimal.NewFromFloat(h.LastPrice))
		if value.IsNegative() {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: negative value skipped", sym))
			e.log.WithField("symbol", sym).Warn("holding with negative value skipped")
			continue
		}
		if value.IsZero() {
			continue
		}
		total = total.Add(value)

		if ClassifyHolding(h, e.comp) != models.HoldingETF {
			acc.add(sym, models.SourceDirect, value)
			continue
		}
		index, weights, ok := e.comp.WeightsFor(sym)
		if !ok {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: no constituent weights, held directly", sym))
			e.log.WithField("symbol", sym).Warn("ETF without weight table, treating as direct holding")
			acc.add(sym, models.SourceDirect, value)
			continue
		}
		out.Warnings = append(out.Warnings, e.spread(acc, sym, index, value, weights)...)
	}

	out.TotalValue = total.InexactFloat64()
	out.Exposures = e.entries(acc, total)
	out.Sectors = e.sectorTotals(acc, total)
	return out
}

// spread allocates one ETF's value across its constituents.
func (e *Engine) spread(acc *accumulator, etf, index string, value decimal.Decimal, weights []refdata.Constituent) []string {
	var warnings []string
	sum := decimal.Zero
	valid := make([]refdata.Constituent, 0, len(weights))
	for _, c := range weights {
		if c.Weight < 0 || !finite(c.Weight) {
			err := fmt.Errorf("%w: %s in %s is %.4f", ErrInvalidWeight, c.Symbol, index, c.Weight)
			e.log.WithError(err).WithFields(logger.Fields{"etf": etf, "index": index}).Warn("invalid weight skipped")
			warnings = append(warnings, err.Error())
			continue
		}
		valid = append(valid, c)
		sum = sum.Add(decimal.NewFromFloat(c.Weight))
	}

	denom := hundred
	if sum.GreaterThan(hundred) {
		denom = sum
		warnings = append(warnings, fmt.Sprintf("%s: weights sum to %s%%, normalized to 100%%", index, sum.StringFixed(2)))
		e.log.WithFields(logger.Fields{"etf": etf, "index": index, "weight_sum": sum.InexactFloat64()}).
			Warn("weight table above 100%, normalizing")
	}

	allocated := decimal.Zero
	for _, c := range valid {
		part := value.Mul(decimal.NewFromFloat(c.Weight)).Div(denom)
		acc.add(ExposureKey(c.Symbol), etf, part)
		allocated = allocated.Add(part)
	}
	if residual := value.Sub(allocated); residual.Abs().GreaterThan(residualEpsilon) {
		acc.add(UnallocatedPrefix+etf, etf, residual)
	}
	return warnings
}

func (e *Engine) entries(acc *accumulator, total decimal.Decimal) []models.ExposureEntry {
	out := make([]models.ExposureEntry, 0, len(acc.entries))
	for sym, ex := range acc.entries {
		sources := make([]string, 0, len(ex.sources))
		for s := range ex.sources {
			sources = append(sources, s)
		}
		sort.Strings(sources)

		entry := models.ExposureEntry{
			Symbol:  sym,
			Value:   ex.value.InexactFloat64(),
			Sources: sources,
			Sector:  e.sector(sym),
		}
		if total.IsPositive() {
			entry.Weight = ex.value.Div(total).InexactFloat64()
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (e *Engine) sector(sym string) string {
	if strings.HasPrefix(sym, UnallocatedPrefix) {
		return UnallocatedSector
	}
	return e.comp.Sector(sym)
}

// sectorTotals sums the exact accumulator values, so totals too large for a
// float64 never round-trip through one.
func (e *Engine) sectorTotals(acc *accumulator, total decimal.Decimal) []models.SectorExposure {
	sums := make(map[string]decimal.Decimal)
	for sym, ex := range acc.entries {
		sector := e.sector(sym)
		sums[sector] = sums[sector].Add(ex.value)
	}
	out := make([]models.SectorExposure, 0, len(sums))
	for sector, v := range sums {
		s := models.SectorExposure{Sector: sector, Value: v.InexactFloat64()}
		if total.IsPositive() {
			s.Weight = v.Div(total).InexactFloat64()
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Sector < out[j].Sector
	})
	return out
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// ApplyChanges fills ChangePct and Impact on each exposure from a map of
// percentage changes keyed by symbol (with or without ".NS"). It returns the
// summed impact, the portfolio's approximate percentage move.
func ApplyChanges(d *models.Decomposition, changes map[string]float64) float64 {
	if d == nil {
		return 0
	}
	total := 0.0
	for i := range d.Exposures {
		ex := &d.Exposures[i]
		chg, ok := lookupChange(changes, ex.Symbol)
		if !ok {
			continue
		}
		ex.ChangePct = chg
		ex.Impact = chg * ex.Weight
		total += ex.Impact
	}
	return total
}

// TopMovers returns up to n exposures with the largest positive impact and up
// to n with the most negative impact.
func TopMovers(d *models.Decomposition, n int) (pullers, draggers []models.ExposureEntry) {
	if d == nil || n <= 0 {
		return nil, nil
	}
	sorted := append([]models.ExposureEntry(nil), d.Exposures...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Impact > sorted[j].Impact })
	for _, ex := range sorted {
		if len(pullers) == n || ex.Impact <= 0 {
			break
		}
		pullers = append(pullers, ex)
	}
	for i := len(sorted) - 1; i >= 0 && len(draggers) < n; i-- {
		if sorted[i].Impact >= 0 {
			break
		}
		draggers = append(draggers, sorted[i])
	}
	return pullers, draggers
}

func lookupChange(changes map[string]float64, sym string) (float64, bool) {
	if v, ok := changes[sym]; ok {
		return v, true
	}
	v, ok := changes[sym+".NS"]
	return v, ok
}
