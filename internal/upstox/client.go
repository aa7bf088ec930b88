// Package upstox is the primary market-data client: spot quotes, option
// chains, futures quotes and holdings from the Upstox v2 REST API, addressed
// by instrument keys from the instrument directory.
package upstox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/seenimoa/marketlens/internal/config"
	"github.com/seenimoa/marketlens/internal/infra"
	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/internal/metrics"
	"github.com/seenimoa/marketlens/pkg/models"
)

const (
	providerName = "upstox"

	// tokenInvalidCode is the error code Upstox returns for an expired or
	// revoked access token.
	tokenInvalidCode = "UDAPI100050"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNotConfigured is returned when no access token is available.
	ErrNotConfigured = errors.New("upstox: access token not configured")

	// ErrTokenInvalid is returned when the token is still rejected after one refresh.
	ErrTokenInvalid = errors.New("upstox: access token invalid")

	// ErrEmptyResponse is returned when a successful response carries no data.
	ErrEmptyResponse = errors.New("upstox: empty response")
)

// APIError is a non-success answer from the Upstox API.
type APIError struct {
	Status  int    // HTTP status code
	Code    string // Upstox error code, e.g. UDAPI100050
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("upstox: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upstox: HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap exposes ErrTokenInvalid for token rejections.
func (e *APIError) Unwrap() error {
	if e.Code == tokenInvalidCode {
		return ErrTokenInvalid
	}
	return nil
}

func (e *APIError) transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// TokenSource supplies access tokens. Invalidate is called when the API
// rejects the current token; the next Token call should return a fresh one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// StaticToken is a fixed access token.
type StaticToken string

// Token returns the token, or ErrNotConfigured when it is blank.
func (s StaticToken) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", ErrNotConfigured
	}
	return tok, nil
}

// Invalidate is a no-op; a static token cannot be refreshed.
func (StaticToken) Invalidate() {}

// ReloadingToken caches a token from a loader and calls it again after
// Invalidate.
type ReloadingToken struct {
	mu    sync.Mutex
	load  func(ctx context.Context) (string, error)
	token string
}

// NewReloadingToken wraps load.
func NewReloadingToken(load func(ctx context.Context) (string, error)) *ReloadingToken {
	return &ReloadingToken{load: load}
}

// Token returns the cached token, loading it if needed.
func (r *ReloadingToken) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token != "" {
		return r.token, nil
	}
	tok, err := r.load(ctx)
	if err != nil {
		return "", err
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrNotConfigured
	}
	r.token = tok
	return tok, nil
}

// Invalidate drops the cached token.
func (r *ReloadingToken) Invalidate() {
	r.mu.Lock()
	r.token = ""
	r.mu.Unlock()
}

// Directory is the subset of the instrument directory the client needs.
type Directory interface {
	Resolve(symbol string) (models.Instrument, bool)
	NextExpiry(symbol string, asOf time.Time) (string, bool)
	NearestFuture(symbol string, now time.Time) (models.ContractRef, bool)
}

// Client talks to the Upstox v2 API.
type Client struct {
	baseURL        string
	http           *http.Client
	tokens         TokenSource
	dir            Directory
	chunkSize      int
	concurrency    int
	maxDistancePct float64
	limiter        *infra.Limiter
	breaker        *infra.Breaker
	metrics        *metrics.Metrics
	now            func() time.Time
	log            *logger.Entry
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithClock overrides the time source used for expiry selection.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// WithMaxDistancePct sets the option-chain strike filter.
func WithMaxDistancePct(pct float64) Option { return func(c *Client) { c.maxDistancePct = pct } }

// WithTokenSource replaces the token source built from configuration.
func WithTokenSource(ts TokenSource) Option { return func(c *Client) { c.tokens = ts } }

// New builds a client. It fails with ErrNotConfigured when neither the
// configuration nor an explicit token source supplies a token.
func New(cfg config.UpstoxConfig, dir Directory, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           &http.Client{Timeout: cfg.Timeout()},
		dir:            dir,
		chunkSize:      cfg.ChunkSize,
		concurrency:    cfg.MaxConcurrency,
		maxDistancePct: 12,
		limiter:        infra.NewLimiter(cfg.RequestsPerSec, 1),
		breaker:        infra.NewBreaker(providerName, isBenign),
		now:            time.Now,
		log:            logger.GetLogger().WithComponent(providerName),
	}
	if cfg.Configured() {
		c.tokens = StaticToken(cfg.AccessToken)
	}
	for _, o := range opts {
		o(c)
	}
	if c.tokens == nil {
		return nil, ErrNotConfigured
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.upstox.com/v2"
	}
	if cfg.TimeoutSec <= 0 {
		c.http.Timeout = 10 * time.Second
	}
	if c.chunkSize <= 0 {
		c.chunkSize = 50
	}
	if c.concurrency <= 0 {
		c.concurrency = 1
	}
	return c, nil
}

// Name returns the data source name.
func (c *Client) Name() string { return "Upstox" }

type envelope struct {
	Status string              `json:"status"`
	Data   jsoniter.RawMessage `json:"data"`
	Errors []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"errors"`
}

func (e *envelope) errorCode() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].ErrorCode
}

// get calls path and returns the data payload of a successful envelope.
// A token rejection invalidates the token and retries exactly once.
func (c *Client) get(ctx context.Context, path string, params url.Values) (jsoniter.RawMessage, error) {
	env, status, err := c.call(ctx, path, params)
	if err != nil {
		return nil, err
	}
	if env.Status != "success" && env.errorCode() == tokenInvalidCode {
		c.log.WithField("path", path).Warn("access token rejected, refreshing and retrying once")
		c.tokens.Invalidate()
		env, status, err = c.call(ctx, path, params)
		if err != nil {
			return nil, err
		}
	}
	if env.Status != "success" {
		apiErr := &APIError{Status: status, Code: env.errorCode(), Message: env.Status}
		if len(env.Errors) > 0 {
			apiErr.Message = env.Errors[0].Message
		}
		return nil, apiErr
	}
	return env.Data, nil
}

// call performs one HTTP round trip through the limiter and breaker.
func (c *Client) call(ctx context.Context, path string, params url.Values) (*envelope, int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var (
		env    envelope
		status int
	)
	start := time.Now()
	err = c.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("upstox GET %s: %w", path, err)
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if err := json.Unmarshal(body, &env); err != nil {
			if status >= 400 {
				return &APIError{Status: status, Message: snippet(body)}
			}
			return fmt.Errorf("parse upstox response: %w", err)
		}
		if env.Status == "" && status >= 400 {
			return &APIError{Status: status, Message: snippet(body)}
		}
		if env.Status != "success" && env.errorCode() != tokenInvalidCode && status >= 500 {
			return &APIError{Status: status, Code: env.errorCode(), Message: snippet(body)}
		}
		return nil
	})
	c.metrics.Request(providerName, outcome(err), start)
	if err != nil {
		return nil, status, err
	}
	return &env, status, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

// isBenign marks answers that say nothing about provider health.
func isBenign(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return !ae.transient()
	}
	return false
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
