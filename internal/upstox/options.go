package upstox

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/seenimoa/marketlens/internal/analysis/derivatives"
	"github.com/seenimoa/marketlens/internal/instruments"
	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/pkg/models"
	"github.com/seenimoa/marketlens/pkg/utils"
)

type chainSide struct {
	MarketData struct {
		LTP    float64 `json:"ltp"`
		Close  float64 `json:"close_price"`
		Volume int64   `json:"volume"`
		OI     float64 `json:"oi"`
		PrevOI float64 `json:"prev_oi"`
	} `json:"market_data"`
	Greeks struct {
		IV    float64 `json:"iv"`
		Delta float64 `json:"delta"`
		Gamma float64 `json:"gamma"`
		Theta float64 `json:"theta"`
		Vega  float64 `json:"vega"`
	} `json:"option_greeks"`
}

func (s chainSide) toSide() models.OptionSide {
	oi, prev := int64(s.MarketData.OI), int64(s.MarketData.PrevOI)
	return models.OptionSide{
		LTP:      s.MarketData.LTP,
		Close:    s.MarketData.Close,
		Volume:   s.MarketData.Volume,
		OI:       oi,
		PrevOI:   prev,
		OIChange: oi - prev,
		IV:       s.Greeks.IV,
		Delta:    s.Greeks.Delta,
		Gamma:    s.Greeks.Gamma,
		Theta:    s.Greeks.Theta,
		Vega:     s.Greeks.Vega,
	}
}

type chainItem struct {
	StrikePrice         float64   `json:"strike_price"`
	UnderlyingSpotPrice float64   `json:"underlying_spot_price"`
	Call                chainSide `json:"call_options"`
	Put                 chainSide `json:"put_options"`
}

// chainKey resolves the underlying for an option chain, falling back to the
// well-known index keys.
func (c *Client) chainKey(symbol string) string {
	if key, err := c.resolveKey(symbol); err == nil {
		return key
	}
	switch instruments.Underlying(symbol) {
	case instruments.UnderlyingNifty:
		return "NSE_INDEX|Nifty 50"
	case instruments.UnderlyingBankNifty:
		return "NSE_INDEX|Nifty Bank"
	}
	return "NSE_EQ|" + strings.TrimSuffix(symbol, ".NS")
}

// OptionChain returns the chain for symbol on expiry, restricted to strikes
// within the configured distance of spot. An empty expiry selects the next one.
func (c *Client) OptionChain(ctx context.Context, symbol, expiry string) (*models.OptionChain, error) {
	key := c.chainKey(symbol)
	if expiry == "" {
		expiry = c.Expiry(symbol)
	}

	raw, err := c.get(ctx, "/option/chain", url.Values{
		"instrument_key": {key},
		"expiry_date":    {expiry},
	})
	if err != nil {
		return nil, fmt.Errorf("option chain %s %s: %w", key, expiry, err)
	}

	var items []chainItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse option chain: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: option chain %s %s", ErrEmptyResponse, key, expiry)
	}

	oc := &models.OptionChain{
		Underlying:    symbol,
		InstrumentKey: key,
		Expiry:        expiry,
		SpotPrice:     items[0].UnderlyingSpotPrice,
		Strikes:       make([]models.OptionStrike, 0, len(items)),
		FetchedAt:     c.now(),
	}
	for _, it := range items {
		oc.Strikes = append(oc.Strikes, models.OptionStrike{
			Strike: it.StrikePrice,
			Call:   it.Call.toSide(),
			Put:    it.Put.toSide(),
		})
	}
	sort.Slice(oc.Strikes, func(i, j int) bool { return oc.Strikes[i].Strike < oc.Strikes[j].Strike })

	if oc.SpotPrice <= 0 {
		spot, err := c.SpotPrice(ctx, symbol)
		if err != nil {
			c.log.WithField("symbol", symbol).WithError(err).Warn("spot unavailable, option chain left unfiltered")
		}
		oc.SpotPrice = spot
	}

	total := len(oc.Strikes)
	oc.Strikes = derivatives.FilterByDistance(oc.Strikes, oc.SpotPrice, c.maxDistancePct)
	c.log.WithFields(logger.Fields{
		"key":     key,
		"expiry":  expiry,
		"strikes": len(oc.Strikes),
		"dropped": total - len(oc.Strikes),
	}).Debug("option chain fetched")
	return oc, nil
}

// Expiry returns the next expiry for symbol from the directory, or the
// weekday fallback when the directory has none.
func (c *Client) Expiry(symbol string) string {
	now := c.now()
	if c.dir != nil {
		if e, ok := c.dir.NextExpiry(symbol, now); ok {
			return e
		}
	}
	e := FallbackExpiry(symbol, now)
	c.log.WithFields(logger.Fields{"symbol": symbol, "expiry": e}).Warn("expiry not in directory, using weekday fallback")
	return e
}

// FallbackExpiry computes the next weekly expiry from the usual weekday per
// underlying. On expiry day at or after the 15:30 IST close it rolls a week.
func FallbackExpiry(symbol string, now time.Time) string {
	target := time.Thursday
	switch u := strings.ToUpper(instruments.Underlying(symbol)); u {
	case instruments.UnderlyingBankNifty:
		target = time.Wednesday
	case instruments.UnderlyingMidcap:
		target = time.Monday
	case "FINNIFTY", "NIFTY FIN SERVICE":
		target = time.Tuesday
	}

	today := now.In(utils.IST)
	days := (int(target) - int(today.Weekday()) + 7) % 7
	if days == 0 && utils.IsAfterClose(today) {
		days = 7
	}
	return utils.FormatDateIST(today.AddDate(0, 0, days))
}

// FuturesQuote returns the nearest-expiry futures quote for symbol with its
// basis against spot. Spot failures leave the basis at zero.
func (c *Client) FuturesQuote(ctx context.Context, symbol string) (*models.FuturesQuote, error) {
	if c.dir == nil {
		return nil, fmt.Errorf("%w: futures for %s", instruments.ErrNotFound, symbol)
	}
	now := c.now()
	contract, ok := c.dir.NearestFuture(symbol, now)
	if !ok {
		return nil, fmt.Errorf("%w: futures for %s", instruments.ErrNotFound, symbol)
	}

	payloads, err := c.fetchQuotes(ctx, []string{contract.Key})
	if err != nil {
		return nil, fmt.Errorf("futures quote %s: %w", contract.Key, err)
	}
	p, ok := payloads[contract.Key]
	if !ok {
		return nil, fmt.Errorf("%w: futures payload for %s", ErrEmptyResponse, contract.Key)
	}

	spot, err := c.SpotPrice(ctx, symbol)
	if err != nil {
		c.log.WithField("symbol", symbol).WithError(err).Warn("spot unavailable for futures basis")
		spot = 0
	}

	fq := futuresFromQuote(symbol, contract, p.toQuote(contract.Key), now)
	basis := derivatives.ComputeFuturesBasis(fq.LTP, spot)
	fq.SpotPrice = spot
	fq.Premium = basis.Premium
	fq.BasisPct = basis.BasisPct
	fq.Interpretation = basis.Interpretation
	return &fq, nil
}

// BatchFuturesQuotes returns nearest-expiry futures quotes for stock symbols,
// keyed by the caller's symbol. Symbols without futures are absent.
func (c *Client) BatchFuturesQuotes(ctx context.Context, symbols []string) (map[string]models.FuturesQuote, error) {
	out := make(map[string]models.FuturesQuote)
	if c.dir == nil {
		return out, nil
	}
	now := c.now()

	keyToSymbol := make(map[string]string, len(symbols))
	contracts := make(map[string]models.ContractRef, len(symbols))
	keys := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		ref, ok := c.dir.NearestFuture(strings.TrimSuffix(sym, ".NS"), now)
		if !ok {
			continue
		}
		if _, dup := keyToSymbol[ref.Key]; !dup {
			keys = append(keys, ref.Key)
		}
		keyToSymbol[ref.Key] = sym
		contracts[ref.Key] = ref
	}
	if len(keys) == 0 {
		return out, nil
	}

	quotes, err := c.BatchQuotes(ctx, keys)
	for key, q := range quotes {
		sym := keyToSymbol[key]
		fq := futuresFromQuote(sym, contracts[key], q, now)
		fq.Interpretation = derivatives.ClassifyFuturesTrend(fq.ChangePct)
		out[sym] = fq
	}
	return out, err
}

func futuresFromQuote(symbol string, ref models.ContractRef, q models.Quote, now time.Time) models.FuturesQuote {
	return models.FuturesQuote{
		Symbol:        symbol,
		InstrumentKey: ref.Key,
		Expiry:        utils.FormatDateIST(ref.ExpiryTime()),
		LTP:           q.LastPrice,
		PrevClose:     q.PrevClose,
		Change:        q.Change,
		ChangePct:     q.ChangePct,
		OI:            q.OI,
		FetchedAt:     now,
	}
}
