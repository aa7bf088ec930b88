package upstox

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/marketlens/internal/instruments"
	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/pkg/models"
)

const quotesPath = "/market-quote/quotes"

type quotePayload struct {
	InstrumentToken string   `json:"instrument_token"`
	Symbol          string   `json:"symbol"`
	LastPrice       float64  `json:"last_price"`
	Volume          int64    `json:"volume"`
	NetChange       *float64 `json:"net_change"`
	OI              float64  `json:"oi"`
	Timestamp       string   `json:"timestamp"`
	OHLC            struct {
		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
	} `json:"ohlc"`
}

// toQuote derives previous close and change. net_change is preferred over
// the ohlc close, which some responses report equal to the last price.
func (p quotePayload) toQuote(key string) models.Quote {
	q := models.Quote{
		Symbol:        p.Symbol,
		InstrumentKey: key,
		LastPrice:     p.LastPrice,
		Volume:        p.Volume,
		OI:            int64(p.OI),
	}
	if p.NetChange != nil {
		q.Change = *p.NetChange
		q.PrevClose = p.LastPrice - q.Change
	} else {
		q.PrevClose = p.OHLC.Close
		q.Change = p.LastPrice - q.PrevClose
	}
	if q.PrevClose != 0 {
		q.ChangePct = q.Change / q.PrevClose * 100
	}
	if ts, err := time.Parse("2006-01-02T15:04:05.000-07:00", p.Timestamp); err == nil {
		q.Timestamp = ts
	}
	return q
}

// fetchQuotes requests one chunk of keys. The response is keyed by the
// requested instrument key; entries the API re-keys (e.g. "NSE_EQ:INFY")
// are matched through instrument_token.
func (c *Client) fetchQuotes(ctx context.Context, keys []string) (map[string]quotePayload, error) {
	raw, err := c.get(ctx, quotesPath, url.Values{"instrument_key": {strings.Join(keys, ",")}})
	if err != nil {
		return nil, err
	}

	var data map[string]quotePayload
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse quotes: %w", err)
	}

	byToken := make(map[string]quotePayload, len(data))
	for _, p := range data {
		if p.InstrumentToken != "" {
			byToken[p.InstrumentToken] = p
		}
	}

	out := make(map[string]quotePayload, len(keys))
	for _, k := range keys {
		if p, ok := data[k]; ok {
			out[k] = p
			continue
		}
		if p, ok := byToken[k]; ok {
			out[k] = p
			continue
		}
		if p, ok := data[strings.Replace(k, "|", ":", 1)]; ok {
			out[k] = p
		}
	}
	return out, nil
}

// BatchQuotes fetches quotes for keys in chunks dispatched concurrently.
// Keys missing from the response are absent from the map. When some chunks
// fail the quotes from the rest are still returned alongside the joined
// chunk errors.
func (c *Client) BatchQuotes(ctx context.Context, keys []string) (map[string]models.Quote, error) {
	keys = uniqueKeys(keys)
	out := make(map[string]models.Quote, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(keys); start += c.chunkSize {
		chunk := keys[start:min(start+c.chunkSize, len(keys))]
		g.Go(func() error {
			payloads, err := c.fetchQuotes(ctx, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("quotes chunk of %d: %w", len(chunk), err))
				return nil
			}
			for k, p := range payloads {
				out[k] = p.toQuote(k)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.log.WithFields(logger.Fields{
		"requested": len(keys),
		"returned":  len(out),
		"failed":    len(errs),
	}).Debug("batch quotes complete")
	return out, errors.Join(errs...)
}

// resolveKey maps a symbol to an instrument key. Raw keys containing "|"
// pass through unchanged.
func (c *Client) resolveKey(symbol string) (string, error) {
	if c.dir != nil {
		if inst, ok := c.dir.Resolve(symbol); ok {
			return inst.Key, nil
		}
	}
	if strings.Contains(symbol, "|") {
		return symbol, nil
	}
	return "", fmt.Errorf("%w: %s", instruments.ErrNotFound, symbol)
}

// SpotQuote returns the full quote for one symbol.
func (c *Client) SpotQuote(ctx context.Context, symbol string) (models.Quote, error) {
	key, err := c.resolveKey(symbol)
	if err != nil {
		return models.Quote{}, err
	}
	payloads, err := c.fetchQuotes(ctx, []string{key})
	if err != nil {
		return models.Quote{}, err
	}
	p, ok := payloads[key]
	if !ok {
		return models.Quote{}, fmt.Errorf("%w: no quote for %s", ErrEmptyResponse, key)
	}
	q := p.toQuote(key)
	q.Symbol = symbol
	return q, nil
}

// SpotPrice returns the last traded price for one symbol.
func (c *Client) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	q, err := c.SpotQuote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return q.LastPrice, nil
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
