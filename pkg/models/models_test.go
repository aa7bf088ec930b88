package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

// ── Frame ──

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestFrameNormalizeSortsAndDedupes(t *testing.T) {
	f := &Frame{Symbol: "AAA", Bars: []OHLCV{
		{Timestamp: day(3), Close: 103},
		{Timestamp: day(1), Close: 101},
		{Timestamp: day(2), Close: 102},
		{Timestamp: day(2), Close: 102.5},
		{Timestamp: day(4)}, // holiday row with no prices
	}}
	f.Normalize()

	if f.Len() != 3 {
		t.Fatalf("Len: got %d, want 3", f.Len())
	}
	for i := 1; i < f.Len(); i++ {
		if !f.Bars[i-1].Timestamp.Before(f.Bars[i].Timestamp) {
			t.Errorf("bars not strictly ascending at %d", i)
		}
	}
	if f.Bars[1].Close != 102.5 {
		t.Errorf("duplicate timestamp: got close %f, want later entry 102.5", f.Bars[1].Close)
	}
}

func TestFrameLatestChangePct(t *testing.T) {
	f := &Frame{Bars: []OHLCV{{Timestamp: day(1), Close: 100}, {Timestamp: day(2), Close: 102}}}
	pct, ok := f.LatestChangePct()
	if !ok || math.Abs(pct-2) > 1e-9 {
		t.Errorf("LatestChangePct: got %f,%v, want 2,true", pct, ok)
	}

	zero := &Frame{Bars: []OHLCV{{Timestamp: day(1), Close: 0, Open: 1}, {Timestamp: day(2), Close: 5}}}
	if _, ok := zero.LatestChangePct(); ok {
		t.Error("LatestChangePct with zero previous close should report false")
	}

	var empty *Frame
	if _, ok := empty.LatestChangePct(); ok {
		t.Error("nil frame should report false")
	}
}

func TestFrameReturns(t *testing.T) {
	f := &Frame{Bars: []OHLCV{
		{Timestamp: day(1), Close: 100},
		{Timestamp: day(2), Close: 110},
		{Timestamp: day(3), Close: 99},
	}}
	r := f.Returns()
	if len(r) != 2 {
		t.Fatalf("Returns: got %d entries, want 2", len(r))
	}
	if math.Abs(r[day(2)]-0.10) > 1e-12 {
		t.Errorf("return day 2: got %f, want 0.10", r[day(2)])
	}
	if math.Abs(r[day(3)]-(-0.10)) > 1e-12 {
		t.Errorf("return day 3: got %f, want -0.10", r[day(3)])
	}
}

func TestFetchResultOK(t *testing.T) {
	tests := []struct {
		name string
		r    FetchResult
		want bool
	}{
		{"data", FetchResult{Frame: &Frame{Bars: []OHLCV{{Close: 1}}}}, true},
		{"error", FetchResult{Err: "No data"}, false},
		{"empty frame", FetchResult{Frame: &Frame{}}, false},
		{"neither", FetchResult{}, false},
	}
	for _, tt := range tests {
		if got := tt.r.OK(); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

// ── Quote ──

func TestQuoteHasPrices(t *testing.T) {
	if !(&Quote{PrevClose: 100, LastPrice: 102}).HasPrices() {
		t.Error("quote with both prices should be usable")
	}
	if (&Quote{LastPrice: 102}).HasPrices() {
		t.Error("quote missing previous close should not be usable")
	}
	var q *Quote
	if q.HasPrices() {
		t.Error("nil quote should not be usable")
	}
}

func TestTimeframeConstants(t *testing.T) {
	tests := []struct {
		tf   Timeframe
		want string
	}{
		{Timeframe1Min, "1m"},
		{Timeframe1Day, "1d"},
		{Timeframe1Week, "1w"},
		{Timeframe1Mon, "1M"},
	}
	for _, tt := range tests {
		if string(tt.tf) != tt.want {
			t.Errorf("Timeframe: got %q, want %q", tt.tf, tt.want)
		}
	}
}

// ── Options ──

func TestOptionChainTotalOI(t *testing.T) {
	oc := &OptionChain{Strikes: []OptionStrike{
		{Strike: 100, Call: OptionSide{OI: 10}, Put: OptionSide{OI: 30}},
		{Strike: 110, Call: OptionSide{OI: 20}, Put: OptionSide{OI: 5}},
	}}
	ce, pe := oc.TotalOI()
	if ce != 30 || pe != 35 {
		t.Errorf("TotalOI: got %d/%d, want 30/35", ce, pe)
	}
}

func TestContractRefExpiryTime(t *testing.T) {
	c := ContractRef{Key: "NSE_FO|1", ExpiryMs: 1706140800000}
	if got := c.ExpiryTime().UTC(); !got.Equal(time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ExpiryTime: got %v", got)
	}
}

// ── Portfolio ──

func TestHoldingValue(t *testing.T) {
	h := Holding{Symbol: "NIFTYBEES", Quantity: 40, LastPrice: 250}
	if h.Value() != 10000 {
		t.Errorf("Value: got %f, want 10000", h.Value())
	}
}

func TestContributionReportPullersDraggers(t *testing.T) {
	r := &ContributionReport{Constituents: []ConstituentContribution{
		{Symbol: "A", Contribution: 2},
		{Symbol: "B", Contribution: 1},
		{Symbol: "C", Contribution: 0},
		{Symbol: "D", Contribution: -0.5},
		{Symbol: "E", Contribution: -1.5},
	}}

	pullers := r.Pullers(3)
	if len(pullers) != 2 || pullers[0].Symbol != "A" || pullers[1].Symbol != "B" {
		t.Errorf("Pullers: got %+v", pullers)
	}
	draggers := r.Draggers(1)
	if len(draggers) != 1 || draggers[0].Symbol != "E" {
		t.Errorf("Draggers: got %+v", draggers)
	}
}

func TestAttributionResultErrorJSON(t *testing.T) {
	data, err := json.Marshal(AttributionResult{Error: "Insufficient training data (< 20 days)"})
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if decoded["error"] != "Insufficient training data (< 20 days)" {
		t.Errorf("error field: got %v", decoded["error"])
	}
}
