package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
)

func TestErrHTTPError(t *testing.T) {
	e := &ErrHTTP{StatusCode: 404, Status: "404 Not Found", Body: "page not found"}
	msg := e.Error()
	if msg != "HTTP 404 404 Not Found: page not found" {
		t.Fatalf("unexpected error message: %s", msg)
	}
}

func TestErrHTTPUnwrap(t *testing.T) {
	if !errors.Is(&ErrHTTP{StatusCode: 404}, ErrTickerNotFound) {
		t.Error("404 should unwrap to ErrTickerNotFound")
	}
	if !errors.Is(&ErrHTTP{StatusCode: 429}, ErrRateLimited) {
		t.Error("429 should unwrap to ErrRateLimited")
	}
	if errors.Is(&ErrHTTP{StatusCode: 500}, ErrTickerNotFound) {
		t.Error("500 should not unwrap to ErrTickerNotFound")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"500", &ErrHTTP{StatusCode: 500}, true},
		{"502 wrapped", fmt.Errorf("fetch: %w", &ErrHTTP{StatusCode: 502}), true},
		{"429", &ErrHTTP{StatusCode: 429}, true},
		{"404", &ErrHTTP{StatusCode: 404}, false},
		{"400", &ErrHTTP{StatusCode: 400}, false},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"short read", io.ErrUnexpectedEOF, true},
		{"empty", ErrEmptyData, false},
		{"other", errors.New("parse"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsBenign(t *testing.T) {
	if !isBenign(ErrMissingClose) {
		t.Error("missing close should be benign")
	}
	if !isBenign(&ErrHTTP{StatusCode: 404}) {
		t.Error("404 should be benign")
	}
	if isBenign(&ErrHTTP{StatusCode: 429}) {
		t.Error("429 should count against the provider")
	}
	if isBenign(&ErrHTTP{StatusCode: 503}) {
		t.Error("503 should count against the provider")
	}
}

func TestResultMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrDataUnavailable, "No data"},
		{fmt.Errorf("x: %w", ErrEmptyData), "Empty data"},
		{ErrMissingClose, "Missing close"},
		{&ErrHTTP{StatusCode: 404, Status: "404 Not Found"}, "No data"},
		{errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		if got := ResultMessage(tt.err); got != tt.want {
			t.Errorf("ResultMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]string{"A", "B", "A", "C", "B"})
	want := []string{"A", "B", "C"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("dedupe = %v, want %v", got, want)
	}
}
