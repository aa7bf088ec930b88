// Package datasource is the secondary market-data provider: daily OHLCV
// history from the Yahoo Finance chart API, used for any symbol or date range
// the primary provider cannot serve.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// --- Sentinel errors ---

// ErrTickerNotFound is returned when the provider does not know a ticker.
var ErrTickerNotFound = errors.New("ticker not found")

// ErrRateLimited is returned when the provider answers HTTP 429.
var ErrRateLimited = errors.New("rate limited by data source")

// ErrDataUnavailable is returned when the provider responds without bars.
var ErrDataUnavailable = errors.New("data unavailable")

// ErrEmptyData is returned when every bar in a response is blank.
var ErrEmptyData = fmt.Errorf("%w: all bars empty", ErrDataUnavailable)

// ErrMissingClose is returned when bars carry prices but no close.
var ErrMissingClose = fmt.Errorf("%w: missing close", ErrDataUnavailable)

// ErrHTTP wraps an HTTP error with status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// Unwrap maps 404 and 429 onto the matching sentinels.
func (e *ErrHTTP) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrTickerNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, HTTP 429 and 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var he *ErrHTTP
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	if errors.Is(err, ErrDataUnavailable) || errors.Is(err, ErrTickerNotFound) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// isBenign marks answers that say nothing about provider health.
func isBenign(err error) bool {
	if errors.Is(err, ErrDataUnavailable) || errors.Is(err, ErrTickerNotFound) {
		return true
	}
	var he *ErrHTTP
	return errors.As(err, &he) && he.StatusCode >= 400 && he.StatusCode < 500 && he.StatusCode != http.StatusTooManyRequests
}

// --- Shared HTTP client helpers ---

// DefaultUserAgent is the user agent string used for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// doGet performs a GET request, returning the response body.
// The caller is responsible for closing the returned ReadCloser.
func doGet(ctx context.Context, client *http.Client, url string, headers map[string]string) (io.ReadCloser, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json, text/html, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP GET %s: %w", url, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, resp.StatusCode, &ErrHTTP{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	return resp.Body, resp.StatusCode, nil
}
