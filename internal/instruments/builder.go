package instruments

import (
	"sort"
	"strings"
	"time"

	"github.com/seenimoa/marketlens/pkg/models"
	"github.com/seenimoa/marketlens/pkg/utils"
)

// Builder accumulates dump records into a Directory. It is not safe for
// concurrent use and must not be reused after Build.
type Builder struct {
	equities map[string]models.Instrument
	indices  map[string]models.Instrument
	futures  map[string][]models.ContractRef
	expiries map[string]map[int64]struct{}
	accepted int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		equities: make(map[string]models.Instrument),
		indices:  make(map[string]models.Instrument),
		futures:  make(map[string][]models.ContractRef),
		expiries: make(map[string]map[int64]struct{}),
	}
}

// Add folds one dump record into the directory. It reports whether the
// record was kept; options, bonds and other segments are dropped.
func (b *Builder) Add(rec models.InstrumentRecord) bool {
	switch rec.Segment {
	case models.SegmentEquity:
		if rec.InstrumentType != models.InstrumentEquity || rec.TradingSymbol == "" || rec.InstrumentKey == "" {
			return false
		}
		b.equities[rec.TradingSymbol] = models.Instrument{
			Symbol:  rec.TradingSymbol,
			Key:     rec.InstrumentKey,
			Segment: rec.Segment,
			Name:    rec.Name,
		}
	case models.SegmentIndex:
		if rec.TradingSymbol == "" || rec.InstrumentKey == "" {
			return false
		}
		b.addIndex(rec)
	case models.SegmentFO:
		root := rec.UnderlyingSymbol
		if root == "" {
			root = rec.Name
		}
		if root == "" || rec.Expiry == 0 {
			return false
		}
		set, ok := b.expiries[root]
		if !ok {
			set = make(map[int64]struct{})
			b.expiries[root] = set
		}
		set[rec.Expiry] = struct{}{}
		if rec.InstrumentType == models.InstrumentFutures && rec.InstrumentKey != "" {
			b.futures[root] = append(b.futures[root], models.ContractRef{Key: rec.InstrumentKey, ExpiryMs: rec.Expiry})
		}
	default:
		return false
	}
	b.accepted++
	return true
}

func (b *Builder) addIndex(rec models.InstrumentRecord) {
	inst := models.Instrument{
		Symbol:  rec.TradingSymbol,
		Key:     rec.InstrumentKey,
		Segment: rec.Segment,
		Name:    rec.Name,
	}
	names := []string{rec.TradingSymbol}
	if rec.Name != "" {
		names = append(names, rec.Name)
	}
	for _, n := range names {
		b.indices[strings.ToUpper(n)] = inst
		if g := groupFor(n); g != nil {
			for _, a := range g.aliases {
				b.indices[a] = inst
			}
		}
	}
}

// Accepted counts records kept so far.
func (b *Builder) Accepted() int {
	return b.accepted
}

// Build sorts the derivative series and returns the directory.
func (b *Builder) Build() *Directory {
	series := make(map[string]*models.DerivativeSeries, len(b.expiries))
	get := func(root string) *models.DerivativeSeries {
		s, ok := series[root]
		if !ok {
			s = &models.DerivativeSeries{Underlying: root}
			series[root] = s
		}
		return s
	}
	for root, fs := range b.futures {
		sort.Slice(fs, func(i, j int) bool { return fs[i].ExpiryMs < fs[j].ExpiryMs })
		get(root).Futures = fs
	}
	for root, set := range b.expiries {
		get(root).Expiries = expiryDates(set)
	}
	d := &Directory{equities: b.equities, indices: b.indices, series: series}
	b.equities, b.indices, b.futures, b.expiries = nil, nil, nil, nil
	return d
}

// expiryDates converts epoch-millis expiries to unique ascending IST dates.
func expiryDates(set map[int64]struct{}) []string {
	ms := make([]int64, 0, len(set))
	for v := range set {
		ms = append(ms, v)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })
	out := make([]string, 0, len(ms))
	for _, v := range ms {
		day := utils.FormatDateIST(time.UnixMilli(v))
		if n := len(out); n > 0 && out[n-1] == day {
			continue
		}
		out = append(out, day)
	}
	return out
}
