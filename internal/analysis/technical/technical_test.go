package technical

import (
	"math"
	"testing"
	"time"

	"github.com/seenimoa/marketlens/pkg/models"
)

// makeCandles generates synthetic OHLCV data for testing.
func makeCandles(n int, basePrice float64, trend float64) []models.OHLCV {
	candles := make([]models.OHLCV, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := basePrice
	for i := 0; i < n; i++ {
		open := price
		close := open + trend
		high := open + 5
		low := open - 5
		if close > open {
			high = close + 3
		} else {
			low = close - 3
		}
		candles[i] = models.OHLCV{
			Timestamp: start.AddDate(0, 0, i),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    1000000 + int64(i*10000),
		}
		price = close
	}
	return candles
}

func TestRSI(t *testing.T) {
	candles := makeCandles(50, 100, 1.5)
	vals := RSI(candles, 14)
	if vals == nil {
		t.Fatal("RSI returned nil for sufficient data")
	}
	if len(vals) != 50 {
		t.Fatalf("expected 50 RSI values, got %d", len(vals))
	}
	latest := vals[len(vals)-1]
	if latest < 50 {
		t.Errorf("expected RSI > 50 in uptrend, got %.2f", latest)
	}
}

func TestRSIInsufficientData(t *testing.T) {
	candles := makeCandles(5, 100, 1)
	if vals := RSI(candles, 14); vals != nil {
		t.Error("RSI should return nil for insufficient data")
	}
	if got, ok := RSILatest(candles, 14); ok || got != 0 {
		t.Errorf("RSILatest: got %.2f, %v, want 0, false", got, ok)
	}
}

func TestRSIDowntrend(t *testing.T) {
	candles := makeCandles(40, 500, -2)
	if got, ok := RSILatest(candles, 14); !ok || got > 1e-9 {
		t.Errorf("RSILatest in a straight downtrend: got %.4f, want 0", got)
	}
}

func TestSMA(t *testing.T) {
	data := []float64{10, 20, 30, 40, 50}
	vals := SMA(data, 3)
	if vals == nil {
		t.Fatal("SMA returned nil")
	}
	// SMA(3) at index 2 = (10+20+30)/3 = 20
	if vals[2] != 20 {
		t.Errorf("expected SMA[2]=20, got %.2f", vals[2])
	}
	if vals[4] != 40 {
		t.Errorf("expected SMA[4]=40, got %.2f", vals[4])
	}
	if SMA(data, 6) != nil {
		t.Error("SMA with period longer than data should be nil")
	}
	if got := SMALatest(data, 6); got != 0 {
		t.Errorf("SMALatest short data: got %.2f, want 0", got)
	}
}

func TestMean(t *testing.T) {
	if got := Mean(nil); got != 0 {
		t.Errorf("Mean(nil): got %f, want 0", got)
	}
	if got := Mean([]float64{1, 2, 3, 6}); got != 3 {
		t.Errorf("Mean: got %f, want 3", got)
	}
}

func TestMeanRange(t *testing.T) {
	candles := makeCandles(30, 100, 1)
	// every bar spans (close+3) - (open-5) = 9
	if got := MeanRange(candles, 10); math.Abs(got-9) > 1e-9 {
		t.Errorf("MeanRange: got %.4f, want 9", got)
	}
	if got := MeanRange(candles[:5], 10); got != 0 {
		t.Errorf("MeanRange short: got %.4f, want 0", got)
	}
}

func TestAverageVolume(t *testing.T) {
	candles := makeCandles(10, 100, 1)
	if got := AverageVolume(candles, 5); got != 1070000 {
		t.Errorf("AverageVolume(5): got %.0f, want 1070000", got)
	}
	if got := AverageVolume(candles, 50); got != 1045000 {
		t.Errorf("AverageVolume over all bars: got %.0f, want 1045000", got)
	}
	if got := AverageVolume(nil, 20); got != 0 {
		t.Errorf("AverageVolume(nil): got %.0f, want 0", got)
	}
}

// --- Market state ---

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name    string
		candles []models.OHLCV
		want    TrendState
	}{
		{"uptrend", makeCandles(60, 100, 1), TrendStrongUp},
		{"downtrend", makeCandles(60, 500, -1), TrendStrongDown},
		{"flat", makeCandles(60, 100, 0), TrendSideways},
		{"short", makeCandles(49, 100, 1), TrendInsufficient},
	}
	for _, tt := range tests {
		if got := ClassifyTrend(tt.candles); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestClassifyTrendWeakUp(t *testing.T) {
	// long rise, then a pullback below SMA20 that stays above SMA50
	candles := makeCandles(60, 100, 1)
	last := candles[len(candles)-1]
	last.Close -= 12
	last.Low = last.Close - 1
	candles[len(candles)-1] = last

	if got := ClassifyTrend(candles); got != TrendWeakUp {
		t.Errorf("got %q, want %q", got, TrendWeakUp)
	}
}

func TestClassifyVolatility(t *testing.T) {
	state, pct := ClassifyVolatility(makeCandles(30, 100, 1))
	if state != VolHighContracting {
		t.Errorf("wide constant ranges: got %q, want %q", state, VolHighContracting)
	}
	if pct <= 2 {
		t.Errorf("range pct: got %.2f, want > 2", pct)
	}

	if state, _ := ClassifyVolatility(makeCandles(30, 10000, 1)); state != VolLowStable {
		t.Errorf("narrow constant ranges: got %q, want %q", state, VolLowStable)
	}

	if state, _ := ClassifyVolatility(makeCandles(19, 100, 1)); state != VolInsufficient {
		t.Errorf("19 bars: got %q, want %q", state, VolInsufficient)
	}
}

func TestClassifyVolatilityExpanding(t *testing.T) {
	candles := make([]models.OHLCV, 20)
	for i := range candles {
		spread := 5.0
		if i >= 10 {
			spread = 8
		}
		candles[i] = models.OHLCV{Close: 1000, Open: 1000, High: 1000 + spread, Low: 1000 - spread}
	}
	// 10-bar range 16 against 20-bar range 13, 1.6% of price
	if state, _ := ClassifyVolatility(candles); state != VolLowExpanding {
		t.Errorf("got %q, want %q", state, VolLowExpanding)
	}
}

func TestAnalyzeMarketState(t *testing.T) {
	pcr := func(v float64) *float64 { return &v }

	tests := []struct {
		name       string
		candles    []models.OHLCV
		pcr        *float64
		pressure   OptionsPressure
		confidence string
		conflicts  int
	}{
		{"no options", makeCandles(60, 100, 1), nil, PressureNoLiquidity, "HIGH", 0},
		{"uptrend with put writing", makeCandles(60, 100, 1), pcr(1.3), PressurePutWriting, "HIGH", 0},
		{"uptrend with call writing", makeCandles(60, 100, 1), pcr(0.5), PressureCallWriting, "LOW", 1},
		{"downtrend with put writing", makeCandles(60, 500, -1), pcr(1.5), PressurePutWriting, "LOW", 1},
		{"neutral band", makeCandles(60, 100, 1), pcr(1.0), PressureNeutral, "HIGH", 0},
		{"insufficient history", makeCandles(30, 100, 1), pcr(1.0), PressureNeutral, "LOW", 0},
	}
	for _, tt := range tests {
		state := AnalyzeMarketState(tt.candles, tt.pcr)
		if state.OptionsPressure != tt.pressure {
			t.Errorf("%s: pressure got %q, want %q", tt.name, state.OptionsPressure, tt.pressure)
		}
		if state.Confidence != tt.confidence {
			t.Errorf("%s: confidence got %q, want %q", tt.name, state.Confidence, tt.confidence)
		}
		if len(state.Conflicts) != tt.conflicts {
			t.Errorf("%s: conflicts got %v, want %d", tt.name, state.Conflicts, tt.conflicts)
		}
	}
}

func TestMarketStateSummary(t *testing.T) {
	s := MarketState{Trend: TrendSideways, Volatility: VolLowStable}
	if got, want := s.Summary(), "Range Bound | Volatility: Low & Stable"; got != want {
		t.Errorf("Summary: got %q, want %q", got, want)
	}
}
