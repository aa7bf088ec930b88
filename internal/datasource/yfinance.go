package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/marketlens/internal/config"
	"github.com/seenimoa/marketlens/internal/infra"
	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/internal/metrics"
	"github.com/seenimoa/marketlens/pkg/models"
	"github.com/seenimoa/marketlens/pkg/utils"
)

const providerName = "yfinance"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// YFinance fetches history from the Yahoo Finance chart API.
type YFinance struct {
	baseURL      string
	http         *http.Client
	cache        *infra.Cache
	limiter      *infra.Limiter
	breaker      *infra.Breaker
	metrics      *metrics.Metrics
	maxAttempts  int
	concurrency  int
	retryInitial time.Duration
	retryMax     time.Duration
	log          *logger.Entry
}

// Option customizes a YFinance client.
type Option func(*YFinance)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(y *YFinance) { y.http = c }
}

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(y *YFinance) { y.metrics = m }
}

// WithRetryInterval sets the first and maximum backoff between attempts.
func WithRetryInterval(initial, max time.Duration) Option {
	return func(y *YFinance) { y.retryInitial, y.retryMax = initial, max }
}

// NewYFinance creates a Yahoo Finance client from configuration.
func NewYFinance(cfg config.YFinanceConfig, opts ...Option) *YFinance {
	y := &YFinance{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		http:         &http.Client{Timeout: cfg.Timeout()},
		cache:        infra.NewCache(15 * time.Minute),
		limiter:      infra.NewLimiter(cfg.RequestsPerSec, 1),
		breaker:      infra.NewBreaker(providerName, isBenign),
		maxAttempts:  cfg.MaxAttempts,
		concurrency:  cfg.Concurrency,
		retryInitial: 2 * time.Second,
		retryMax:     10 * time.Second,
		log:          logger.GetLogger().WithComponent(providerName),
	}
	if y.baseURL == "" {
		y.baseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.TimeoutSec <= 0 {
		y.http.Timeout = 15 * time.Second
	}
	if y.maxAttempts <= 0 {
		y.maxAttempts = 3
	}
	if y.concurrency <= 0 {
		y.concurrency = 1
	}
	for _, o := range opts {
		o(y)
	}
	return y
}

// Name returns the data source name.
func (y *YFinance) Name() string { return "Yahoo Finance" }

// --- Yahoo Finance v8 chart API types ---

type yfChartResponse struct {
	Chart struct {
		Result []yfChartResult `json:"result"`
		Error  *yfError        `json:"error"`
	} `json:"chart"`
}

type yfChartResult struct {
	Meta       yfChartMeta  `json:"meta"`
	Timestamp  []int64      `json:"timestamp"`
	Indicators yfIndicators `json:"indicators"`
}

type yfChartMeta struct {
	Symbol             string  `json:"symbol"`
	Currency           string  `json:"currency"`
	ExchangeTimezone   string  `json:"exchangeTimezoneName"`
	RegularMarketPrice float64 `json:"regularMarketPrice"`
}

type yfIndicators struct {
	Quote    []yfOHLCV    `json:"quote"`
	AdjClose []yfAdjClose `json:"adjclose"`
}

type yfOHLCV struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

type yfAdjClose struct {
	AdjClose []*float64 `json:"adjclose"`
}

type yfError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// --- Public methods ---

// History returns daily bars for symbol in [from, to).
func (y *YFinance) History(ctx context.Context, symbol string, from, to time.Time) (*models.Frame, error) {
	return y.HistoryTF(ctx, symbol, from, to, models.Timeframe1Day)
}

// HistoryTF returns bars at the given timeframe. Transient failures are
// retried with exponential backoff up to the configured attempt count.
func (y *YFinance) HistoryTF(ctx context.Context, symbol string, from, to time.Time, tf models.Timeframe) (*models.Frame, error) {
	yfTicker := utils.ToYFinanceTicker(symbol)

	cacheKey := historyCacheKey(yfTicker, from, to, tf)
	if cached, ok := y.cache.Get(cacheKey); ok {
		f := cached.(*models.Frame).Clone()
		f.Symbol = symbol
		return f, nil
	}

	var frame *models.Frame
	attempt := 0
	op := func() error {
		attempt++
		f, err := y.fetchChart(ctx, yfTicker, from, to, tf)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		frame = f
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = y.retryInitial
	expo.MaxInterval = y.retryMax
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(y.maxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		y.metrics.Request(providerName, metrics.OutcomeRetry, time.Now())
		y.log.WithFields(logger.Fields{
			"symbol":  yfTicker,
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
		}).WithError(err).Warn("history fetch failed, retrying")
	})
	if err != nil {
		return nil, fmt.Errorf("yfinance chart %s: %w", yfTicker, err)
	}

	y.cache.Set(cacheKey, frame.Clone())
	frame.Symbol = symbol
	return frame, nil
}

// historyCacheKey keys daily requests by IST calendar day, so repeated
// "until now" requests share an entry. A bound past midnight also covers that
// day's bar, which the key marks with a trailing "+".
func historyCacheKey(ticker string, from, to time.Time, tf models.Timeframe) string {
	if tf != models.Timeframe1Day {
		return fmt.Sprintf("hist:%s:%d:%d:%s", ticker, from.Unix(), to.Unix(), tf)
	}
	return fmt.Sprintf("hist:%s:%s:%s:%s", ticker, dayKey(from), dayKey(to), tf)
}

func dayKey(t time.Time) string {
	d := t.In(utils.IST)
	key := d.Format("2006-01-02")
	if d.Hour() != 0 || d.Minute() != 0 || d.Second() != 0 || d.Nanosecond() != 0 {
		key += "+"
	}
	return key
}

// BatchHistory fetches every symbol independently so that one failure never
// hides another. The result holds exactly one entry per distinct symbol.
func (y *YFinance) BatchHistory(ctx context.Context, symbols []string, from, to time.Time) map[string]models.FetchResult {
	uniq := dedupe(symbols)
	results := make([]models.FetchResult, len(uniq))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(y.concurrency)
	for i, sym := range uniq {
		g.Go(func() error {
			f, err := y.History(gctx, sym, from, to)
			if err != nil {
				results[i] = models.FetchResult{Symbol: sym, Err: ResultMessage(err)}
				return nil
			}
			results[i] = models.FetchResult{Symbol: sym, Frame: f}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]models.FetchResult, len(uniq))
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
		out[r.Symbol] = r
	}
	y.log.WithFields(logger.Fields{"symbols": len(uniq), "failed": failed}).Info("batch history complete")
	return out
}

// ResultMessage renders a fetch error for a FetchResult.
func ResultMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingClose):
		return "Missing close"
	case errors.Is(err, ErrEmptyData):
		return "Empty data"
	case errors.Is(err, ErrDataUnavailable), errors.Is(err, ErrTickerNotFound):
		return "No data"
	}
	return err.Error()
}

func (y *YFinance) fetchChart(ctx context.Context, yfTicker string, from, to time.Time, tf models.Timeframe) (*models.Frame, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf(
		"%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=%s",
		y.baseURL, url.PathEscape(yfTicker), from.Unix(), to.Unix(), yfInterval(tf),
	)

	var data []byte
	start := time.Now()
	err := y.breaker.Do(func() error {
		body, _, err := doGet(ctx, y.http, u, map[string]string{"Accept": "application/json"})
		if err != nil {
			return err
		}
		defer body.Close()
		data, err = io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return nil
	})
	y.metrics.Request(providerName, outcome(err), start)
	if err != nil {
		return nil, err
	}

	var resp yfChartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse yfinance chart: %w", err)
	}
	if resp.Chart.Error != nil {
		if strings.EqualFold(resp.Chart.Error.Code, "Not Found") {
			return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, resp.Chart.Error.Description)
		}
		return nil, fmt.Errorf("yfinance chart error: %s", resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Timestamp) == 0 {
		return nil, ErrDataUnavailable
	}

	return buildFrame(yfTicker, parseYFCandles(resp.Chart.Result[0]))
}

func outcome(err error) string {
	switch {
	case err == nil || isBenign(err):
		return metrics.OutcomeOK
	case errors.Is(err, infra.ErrCircuitOpen):
		return metrics.OutcomeBreaker
	}
	return metrics.OutcomeError
}

// buildFrame normalizes candles and classifies unusable responses.
func buildFrame(symbol string, candles []models.OHLCV) (*models.Frame, error) {
	f := &models.Frame{Symbol: symbol, Source: models.SourceSecondaryHistory, Bars: candles}
	f.Normalize()
	if f.Len() == 0 {
		return nil, ErrEmptyData
	}
	priced := f.Bars[:0]
	for _, b := range f.Bars {
		if b.Close != 0 {
			priced = append(priced, b)
		}
	}
	if len(priced) == 0 {
		return nil, ErrMissingClose
	}
	f.Bars = priced
	return f, nil
}

// --- Helpers ---

func parseYFCandles(result yfChartResult) []models.OHLCV {
	if len(result.Indicators.Quote) == 0 {
		return nil
	}

	q := result.Indicators.Quote[0]
	var adjCloses []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjCloses = result.Indicators.AdjClose[0].AdjClose
	}

	candles := make([]models.OHLCV, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		c := models.OHLCV{Timestamp: time.Unix(ts, 0).In(utils.IST)}
		c.Open = at(q.Open, i)
		c.High = at(q.High, i)
		c.Low = at(q.Low, i)
		c.Close = at(q.Close, i)
		c.AdjClose = at(adjCloses, i)
		if i < len(q.Volume) && q.Volume[i] != nil {
			c.Volume = *q.Volume[i]
		}
		candles = append(candles, c)
	}
	return candles
}

func at(col []*float64, i int) float64 {
	if i < len(col) && col[i] != nil {
		return *col[i]
	}
	return 0
}

func yfInterval(tf models.Timeframe) string {
	switch tf {
	case models.Timeframe1Min:
		return "1m"
	case models.Timeframe5Min:
		return "5m"
	case models.Timeframe15Min:
		return "15m"
	case models.Timeframe1Hour:
		return "1h"
	case models.Timeframe1Day:
		return "1d"
	case models.Timeframe1Week:
		return "1wk"
	case models.Timeframe1Mon:
		return "1mo"
	default:
		return "1d"
	}
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
