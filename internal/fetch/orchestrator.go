// Package fetch routes multi-symbol price requests between the primary
// spot-quote provider and the secondary history provider.
//
// Short windows with a configured primary provider are served from spot
// quotes as a two-bar synthetic frame (previous close, then last price).
// Longer windows, unresolvable symbols and quotes missing a price go to the
// secondary provider for full daily history. Every distinct requested symbol
// gets exactly one FetchResult.
package fetch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/internal/metrics"
	"github.com/seenimoa/marketlens/pkg/models"
)

// DefaultShortHistoryDays is the longest window served from spot quotes.
const DefaultShortHistoryDays = 7

// PrimaryQuoter returns spot quotes keyed by instrument key. It may return
// a partial map together with an error.
type PrimaryQuoter interface {
	BatchQuotes(ctx context.Context, keys []string) (map[string]models.Quote, error)
}

// HistoryFetcher returns one result per distinct symbol.
type HistoryFetcher interface {
	BatchHistory(ctx context.Context, symbols []string, from, to time.Time) map[string]models.FetchResult
}

// Resolver maps symbols to primary-provider instruments.
type Resolver interface {
	Resolve(symbol string) (models.Instrument, bool)
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	primary      PrimaryQuoter
	dir          Resolver
	secondary    HistoryFetcher
	shortHistory int
	metrics      *metrics.Metrics
	now          func() time.Time
	log          *logger.Entry
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPrimary enables the spot-quote path. Both arguments are required.
func WithPrimary(p PrimaryQuoter, dir Resolver) Option {
	return func(o *Orchestrator) {
		if p != nil && dir != nil {
			o.primary, o.dir = p, dir
		}
	}
}

// WithShortHistoryDays sets the routing threshold in whole days.
func WithShortHistoryDays(days int) Option {
	return func(o *Orchestrator) { o.shortHistory = days }
}

// WithMetrics records routing counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time used to stamp synthetic frames.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator over the secondary provider.
func New(secondary HistoryFetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		secondary:    secondary,
		shortHistory: DefaultShortHistoryDays,
		now:          time.Now,
		log:          logger.GetLogger().WithComponent("fetch"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PrimaryEnabled reports whether spot quotes can be used.
func (o *Orchestrator) PrimaryEnabled() bool { return o.primary != nil }

// lookupSymbol applies the manual overrides for index tickers whose Yahoo
// form does not resolve directly, and strips the ".NS" suffix from stocks.
func lookupSymbol(symbol string) string {
	switch symbol {
	case "^NSEI":
		return "Nifty 50"
	case "^NSEBANK":
		return "Nifty Bank"
	case "^NSEMDCP100", "NIFTY_MIDCAP_100.NS":
		return "Nifty Midcap 100"
	}
	return strings.TrimSuffix(symbol, ".NS")
}

// durationDays is the whole number of days in [start, end].
func durationDays(start, end time.Time) int {
	return int(end.Sub(start) / (24 * time.Hour))
}

// FetchMultipleAssets returns one result per distinct symbol.
func (o *Orchestrator) FetchMultipleAssets(ctx context.Context, symbols []string, start, end time.Time) map[string]models.FetchResult {
	unique := dedupe(symbols)
	results := make(map[string]models.FetchResult, len(unique))
	if len(unique) == 0 {
		return results
	}

	batchID := uuid.NewString()
	log := o.log.WithFields(logger.Fields{"batch_id": batchID, "symbols": len(unique)})
	began := time.Now()

	days := durationDays(start, end)
	secondary := unique
	if o.primary != nil && days <= o.shortHistory {
		secondary = o.fetchPrimary(ctx, log, unique, results)
	} else if o.primary != nil {
		log.WithField("days", days).Info("window exceeds short history, using secondary history")
	}
	primaryCount := len(results)

	if len(secondary) > 0 {
		hist := o.secondary.BatchHistory(ctx, secondary, start, end)
		for _, sym := range secondary {
			r, ok := hist[sym]
			if !ok {
				r = models.FetchResult{Err: "No data"}
			}
			results[sym] = finalize(sym, r)
		}
	}

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	o.metrics.Route(metrics.RoutePrimary, primaryCount)
	o.metrics.Route(metrics.RouteSecondary, len(secondary)-failed)
	o.metrics.Route(metrics.RouteFailed, failed)

	logger.LogDuration(log, "fetch_multiple_assets", began, logger.Fields{
		"primary":   primaryCount,
		"secondary": len(secondary) - failed,
		"failed":    failed,
		"days":      days,
	})
	return results
}

// FetchList is FetchMultipleAssets with results in input order; duplicate
// symbols receive copies of the same result.
func (o *Orchestrator) FetchList(ctx context.Context, symbols []string, start, end time.Time) []models.FetchResult {
	bySymbol := o.FetchMultipleAssets(ctx, symbols, start, end)
	out := make([]models.FetchResult, len(symbols))
	for i, s := range symbols {
		out[i] = bySymbol[s]
	}
	return out
}

// fetchPrimary fills results for symbols served from spot quotes and
// returns the symbols left for the secondary provider, in input order.
func (o *Orchestrator) fetchPrimary(ctx context.Context, log *logger.Entry, symbols []string, results map[string]models.FetchResult) []string {
	keyOf := make(map[string]string, len(symbols))
	keys := make([]string, 0, len(symbols))
	seenKey := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		inst, ok := o.dir.Resolve(lookupSymbol(sym))
		if !ok {
			continue
		}
		keyOf[sym] = inst.Key
		if !seenKey[inst.Key] {
			seenKey[inst.Key] = true
			keys = append(keys, inst.Key)
		}
	}

	var quotes map[string]models.Quote
	if len(keys) > 0 {
		var err error
		quotes, err = o.primary.BatchQuotes(ctx, keys)
		if err != nil {
			log.WithError(err).Warn("primary quotes incomplete, falling back for missing symbols")
		}
	}

	now := o.now()
	var rest []string
	for _, sym := range symbols {
		key, ok := keyOf[sym]
		if !ok {
			rest = append(rest, sym)
			continue
		}
		q, ok := quotes[key]
		if !ok || !q.HasPrices() {
			log.WithFields(logger.Fields{"symbol": sym, "key": key}).Debug("quote unusable, falling back")
			rest = append(rest, sym)
			continue
		}
		results[sym] = models.FetchResult{Symbol: sym, Frame: SyntheticFrame(sym, q, now)}
	}
	return rest
}

// SyntheticFrame builds the two-bar frame for a spot quote: the previous
// close a day before now with zero volume, then the last price at now.
func SyntheticFrame(symbol string, q models.Quote, now time.Time) *models.Frame {
	prev, last := q.PrevClose, q.LastPrice
	return &models.Frame{
		Symbol: symbol,
		Source: models.SourcePrimarySpot,
		Bars: []models.OHLCV{
			{Timestamp: now.AddDate(0, 0, -1), Open: prev, High: prev, Low: prev, Close: prev},
			{Timestamp: now, Open: last, High: last, Low: last, Close: last, Volume: q.Volume},
		},
	}
}

// finalize stamps the symbol and enforces that exactly one of Frame or Err
// is set with an ascending, duplicate-free frame.
func finalize(symbol string, r models.FetchResult) models.FetchResult {
	r.Symbol = symbol
	if r.Err != "" {
		r.Frame = nil
		return r
	}
	if r.Frame != nil {
		r.Frame.Normalize()
		r.Frame.Symbol = symbol
	}
	if r.Frame.Len() == 0 {
		return models.FetchResult{Symbol: symbol, Err: "Empty data"}
	}
	return r
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
