package technical

import (
	"github.com/seenimoa/marketlens/pkg/models"
)

// TrendState is the price trend regime.
type TrendState string

const (
	TrendStrongUp     TrendState = "Strong Uptrend"
	TrendWeakUp       TrendState = "Weak Uptrend"
	TrendSideways     TrendState = "Range Bound"
	TrendWeakDown     TrendState = "Weak Downtrend"
	TrendStrongDown   TrendState = "Strong Downtrend"
	TrendInsufficient TrendState = "Insufficient data"
)

func (t TrendState) bullish() bool { return t == TrendStrongUp || t == TrendWeakUp }
func (t TrendState) bearish() bool { return t == TrendStrongDown || t == TrendWeakDown }

// VolatilityState is the range-based volatility regime.
type VolatilityState string

const (
	VolHighExpanding   VolatilityState = "High & Expanding"
	VolHighContracting VolatilityState = "High & Contracting"
	VolLowExpanding    VolatilityState = "Low & Expanding"
	VolLowStable       VolatilityState = "Low & Stable"
	VolInsufficient    VolatilityState = "Insufficient data"
)

// OptionsPressure is the positioning implied by the put/call ratio.
type OptionsPressure string

const (
	PressurePutWriting  OptionsPressure = "Bullish (Put Writing)"
	PressureCallWriting OptionsPressure = "Bearish (Call Writing)"
	PressureNeutral     OptionsPressure = "Neutral / Mixed"
	PressureNoLiquidity OptionsPressure = "Insufficient liquidity"
)

const (
	trendMinBars      = 50
	volatilityMinBars = 20
	highVolatilityPct = 2.0
	putWritingPCR     = 1.2
	callWritingPCR    = 0.7
)

// MarketState summarises the regime of one instrument.
type MarketState struct {
	Trend           TrendState      `json:"trend"`
	Volatility      VolatilityState `json:"volatility"`
	OptionsPressure OptionsPressure `json:"options_pressure"`
	Confidence      string          `json:"confidence"` // HIGH or LOW
	Conflicts       []string        `json:"conflicting_signals,omitempty"`
	RangePct        float64         `json:"range_pct,omitempty"` // 10-bar mean range as % of average close
}

// Summary is a one-line description of trend and volatility.
func (s MarketState) Summary() string {
	return string(s.Trend) + " | Volatility: " + string(s.Volatility)
}

// AnalyzeMarketState classifies trend, volatility and options pressure.
// pcr is nil when no option chain is available.
func AnalyzeMarketState(candles []models.OHLCV, pcr *float64) MarketState {
	state := MarketState{
		Trend:           ClassifyTrend(candles),
		OptionsPressure: PressureNoLiquidity,
	}
	state.Volatility, state.RangePct = ClassifyVolatility(candles)

	if pcr != nil {
		switch {
		case *pcr > putWritingPCR:
			state.OptionsPressure = PressurePutWriting
		case *pcr < callWritingPCR:
			state.OptionsPressure = PressureCallWriting
		default:
			state.OptionsPressure = PressureNeutral
		}
		if state.Trend.bullish() && state.OptionsPressure == PressureCallWriting {
			state.Conflicts = append(state.Conflicts, "Price is Uptrending but Options are Bearish")
		}
		if state.Trend.bearish() && state.OptionsPressure == PressurePutWriting {
			state.Conflicts = append(state.Conflicts, "Price is Downtrending but Options are Bullish")
		}
	}

	state.Confidence = "LOW"
	if len(state.Conflicts) == 0 && state.Trend != TrendInsufficient {
		state.Confidence = "HIGH"
	}
	return state
}

// ClassifyTrend compares the last close against SMA20 and SMA50.
func ClassifyTrend(candles []models.OHLCV) TrendState {
	if len(candles) < trendMinBars {
		return TrendInsufficient
	}
	closes := extractCloses(candles)
	price := closes[len(closes)-1]
	sma20 := SMALatest(closes, 20)
	sma50 := SMALatest(closes, 50)

	switch {
	case price > sma20 && sma20 > sma50:
		return TrendStrongUp
	case price > sma50 && price < sma20:
		return TrendWeakUp
	case price < sma20 && sma20 < sma50:
		return TrendStrongDown
	case price < sma50 && price > sma20:
		return TrendWeakDown
	default:
		return TrendSideways
	}
}

// ClassifyVolatility uses the 10- and 20-bar mean high-low range.
// The returned percentage is the 10-bar range over the average close of the whole series.
func ClassifyVolatility(candles []models.OHLCV) (VolatilityState, float64) {
	if len(candles) < volatilityMinBars {
		return VolInsufficient, 0
	}
	r10 := MeanRange(candles, 10)
	r20 := MeanRange(candles, 20)
	avgPrice := Mean(extractCloses(candles))
	if avgPrice <= 0 {
		return VolInsufficient, 0
	}
	pct := r10 / avgPrice * 100
	expanding := r10 > r20

	switch {
	case pct > highVolatilityPct && expanding:
		return VolHighExpanding, pct
	case pct > highVolatilityPct:
		return VolHighContracting, pct
	case expanding:
		return VolLowExpanding, pct
	default:
		return VolLowStable, pct
	}
}
