// Package instruments holds the read-only instrument directory: symbol to
// provider key resolution across ticker dialects, plus the derivative expiry
// calendar and futures contracts per underlying.
package instruments

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/seenimoa/marketlens/pkg/models"
	"github.com/seenimoa/marketlens/pkg/utils"
)

var (
	// ErrNotFound is returned when a symbol has no instrument key.
	ErrNotFound = errors.New("instrument not found")
	// ErrEmptyDump is returned when a dump yields no usable records.
	ErrEmptyDump = errors.New("instrument dump contains no records")
)

// Underlying roots for the index derivatives.
const (
	UnderlyingNifty     = "NIFTY"
	UnderlyingBankNifty = "BANKNIFTY"
	UnderlyingMidcap    = "MIDCPNIFTY"

	midcapSeriesFallback = "NIFTY MIDCAP 100"
)

// aliasGroup lists every spelling of one index. Any member seen in the dump
// registers the whole group. Matching is on upper-cased text.
type aliasGroup struct {
	underlying string
	aliases    []string
}

var indexAliasGroups = []aliasGroup{
	{UnderlyingNifty, []string{"NIFTY", "NIFTY 50", "NIFTY50", "^NSEI"}},
	{UnderlyingBankNifty, []string{"BANKNIFTY", "NIFTY BANK", "BANK NIFTY", "NIFTYBANK", "^NSEBANK"}},
	{UnderlyingMidcap, []string{"NIFTY MIDCAP 100", "NIFTY_MIDCAP_100", "NIFTY_MIDCAP_100.NS", "^NSEMDCP100"}},
}

func groupFor(symbol string) *aliasGroup {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for i := range indexAliasGroups {
		for _, a := range indexAliasGroups[i].aliases {
			if s == a {
				return &indexAliasGroups[i]
			}
		}
	}
	return nil
}

// Directory is immutable after construction and safe for concurrent use.
type Directory struct {
	equities map[string]models.Instrument        // trading symbol, case-sensitive
	indices  map[string]models.Instrument        // upper-cased alias
	series   map[string]*models.DerivativeSeries // underlying symbol
}

// Stats summarizes directory contents.
type Stats struct {
	Equities     int `json:"equities"`
	Indices      int `json:"indices"`
	IndexAliases int `json:"index_aliases"`
	FuturesRoots int `json:"futures_roots"`
	ExpiryRoots  int `json:"expiry_roots"`
}

// Resolve maps a symbol in any supported dialect to its instrument. Index
// aliases are checked first, case-insensitively; equities are matched on the
// ticker with any ".NS" suffix removed.
func (d *Directory) Resolve(symbol string) (models.Instrument, bool) {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return models.Instrument{}, false
	}
	if inst, ok := d.indices[strings.ToUpper(s)]; ok {
		return inst, true
	}
	clean := strings.TrimSuffix(s, ".NS")
	if inst, ok := d.equities[clean]; ok {
		return inst, true
	}
	if inst, ok := d.indices[strings.ToUpper(clean)]; ok {
		return inst, true
	}
	return models.Instrument{}, false
}

// ResolveKey is Resolve for callers that want an error.
func (d *Directory) ResolveKey(symbol string) (string, error) {
	inst, ok := d.Resolve(symbol)
	if !ok {
		return "", ErrNotFound
	}
	return inst.Key, nil
}

// Underlying maps a symbol to the derivative root used in the dump.
func Underlying(symbol string) string {
	if g := groupFor(symbol); g != nil {
		return g.underlying
	}
	s := strings.TrimSpace(symbol)
	if strings.EqualFold(s, UnderlyingMidcap) {
		return UnderlyingMidcap
	}
	return strings.TrimSuffix(s, ".NS")
}

func (d *Directory) seriesFor(symbol string) (*models.DerivativeSeries, string) {
	root := Underlying(symbol)
	if s, ok := d.series[root]; ok {
		return s, root
	}
	if root == UnderlyingMidcap {
		if s, ok := d.series[midcapSeriesFallback]; ok {
			return s, midcapSeriesFallback
		}
	}
	return nil, root
}

// NextExpiry returns the first expiry date (2006-01-02, IST) on or after
// asOf's IST calendar date.
func (d *Directory) NextExpiry(symbol string, asOf time.Time) (string, bool) {
	s, _ := d.seriesFor(symbol)
	if s == nil || len(s.Expiries) == 0 {
		return "", false
	}
	today := utils.FormatDateIST(asOf)
	i := sort.SearchStrings(s.Expiries, today)
	if i == len(s.Expiries) {
		return "", false
	}
	return s.Expiries[i], true
}

// Expiries returns all known expiry dates for symbol, ascending.
func (d *Directory) Expiries(symbol string) []string {
	s, _ := d.seriesFor(symbol)
	if s == nil {
		return nil
	}
	return append([]string(nil), s.Expiries...)
}

// FuturesContracts returns futures expiring after now, ascending by expiry.
func (d *Directory) FuturesContracts(symbol string, now time.Time) []models.ContractRef {
	s, _ := d.seriesFor(symbol)
	if s == nil {
		return nil
	}
	cut := now.UnixMilli()
	i := sort.Search(len(s.Futures), func(i int) bool { return s.Futures[i].ExpiryMs > cut })
	return append([]models.ContractRef(nil), s.Futures[i:]...)
}

// NearestFuture returns the nearest unexpired futures contract.
func (d *Directory) NearestFuture(symbol string, now time.Time) (models.ContractRef, bool) {
	fs := d.FuturesContracts(symbol, now)
	if len(fs) == 0 {
		return models.ContractRef{}, false
	}
	return fs[0], true
}

// Equity returns the equity record for an exact trading symbol.
func (d *Directory) Equity(tradingSymbol string) (models.Instrument, bool) {
	inst, ok := d.equities[tradingSymbol]
	return inst, ok
}

// Stats counts directory entries.
func (d *Directory) Stats() Stats {
	keys := make(map[string]struct{}, len(d.indices))
	for _, inst := range d.indices {
		keys[inst.Key] = struct{}{}
	}
	st := Stats{
		Equities:     len(d.equities),
		Indices:      len(keys),
		IndexAliases: len(d.indices),
	}
	for _, s := range d.series {
		if len(s.Futures) > 0 {
			st.FuturesRoots++
		}
		if len(s.Expiries) > 0 {
			st.ExpiryRoots++
		}
	}
	return st
}
