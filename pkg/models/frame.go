package models

import (
	"sort"
	"time"
)

// FrameSource identifies which fetch path produced a Frame.
type FrameSource string

const (
	SourcePrimarySpot      FrameSource = "primary_spot"      // two-point synthetic frame from a spot quote
	SourceSecondaryHistory FrameSource = "secondary_history" // full daily history
)

// Frame is a time-indexed OHLCV table for one symbol.
// Bars are ascending by Timestamp with no duplicate timestamps once Normalize has run.
type Frame struct {
	Symbol string      `json:"symbol"`
	Source FrameSource `json:"source"`
	Bars   []OHLCV     `json:"bars"`
}

// Len returns the number of bars.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Bars)
}

// Normalize sorts bars ascending and drops duplicate timestamps, keeping the later entry.
// Bars with no close are dropped.
func (f *Frame) Normalize() {
	if f == nil || len(f.Bars) == 0 {
		return
	}
	sort.SliceStable(f.Bars, func(i, j int) bool {
		return f.Bars[i].Timestamp.Before(f.Bars[j].Timestamp)
	})
	out := f.Bars[:0]
	for _, b := range f.Bars {
		if b.Close == 0 && b.Open == 0 && b.High == 0 && b.Low == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(b.Timestamp) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	f.Bars = out
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.Bars = append([]OHLCV(nil), f.Bars...)
	return &c
}

// Closes returns the close column.
func (f *Frame) Closes() []float64 {
	if f == nil {
		return nil
	}
	closes := make([]float64, len(f.Bars))
	for i, b := range f.Bars {
		closes[i] = b.Close
	}
	return closes
}

// Last returns the last bar, or false when the frame is empty.
func (f *Frame) Last() (OHLCV, bool) {
	if f.Len() == 0 {
		return OHLCV{}, false
	}
	return f.Bars[len(f.Bars)-1], true
}

// LatestChangePct is the percentage change between the last two closes.
// Returns false when fewer than two bars exist or the previous close is zero.
func (f *Frame) LatestChangePct() (float64, bool) {
	if f.Len() < 2 {
		return 0, false
	}
	prev := f.Bars[len(f.Bars)-2].Close
	last := f.Bars[len(f.Bars)-1].Close
	if prev == 0 {
		return 0, false
	}
	return (last - prev) / prev * 100, true
}

// Returns computes simple close-to-close returns keyed by bar date (UTC midnight).
// The first bar has no return and is omitted.
func (f *Frame) Returns() map[time.Time]float64 {
	out := make(map[time.Time]float64)
	if f.Len() < 2 {
		return out
	}
	for i := 1; i < len(f.Bars); i++ {
		prev := f.Bars[i-1].Close
		if prev == 0 {
			continue
		}
		out[DateKey(f.Bars[i].Timestamp)] = f.Bars[i].Close/prev - 1
	}
	return out
}

// DateKey truncates t to its calendar date in t's location, expressed in UTC.
func DateKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FetchResult is the per-symbol outcome of a fetch: exactly one of Frame or Err is set.
type FetchResult struct {
	Symbol string `json:"symbol"`
	Frame  *Frame `json:"frame,omitempty"`
	Err    string `json:"error,omitempty"`
}

// OK reports whether the result carries data.
func (r FetchResult) OK() bool {
	return r.Err == "" && r.Frame.Len() > 0
}
