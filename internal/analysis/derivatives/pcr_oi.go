package derivatives

import (
	"sort"

	"github.com/seenimoa/marketlens/pkg/models"
)

// PCRAnalysis holds put-call ratio analysis results.
type PCRAnalysis struct {
	PCR            float64 `json:"pcr_oi"`
	PCRByVolume    float64 `json:"pcr_by_volume"`
	TotalCallOI    int64   `json:"total_call_oi"`
	TotalPutOI     int64   `json:"total_put_oi"`
	Sentiment      string  `json:"sentiment"`
	Interpretation string  `json:"interpretation"`
}

// ComputePCR calculates the OI put-call ratio. PCR is zero when there is no
// call OI.
func ComputePCR(oc *models.OptionChain) PCRAnalysis {
	if oc == nil || len(oc.Strikes) == 0 {
		return PCRAnalysis{Sentiment: "N/A", Interpretation: "No data"}
	}

	var totalCallVol, totalPutVol int64
	a := PCRAnalysis{}
	for _, s := range oc.Strikes {
		a.TotalCallOI += s.Call.OI
		a.TotalPutOI += s.Put.OI
		totalCallVol += s.Call.Volume
		totalPutVol += s.Put.Volume
	}

	if a.TotalCallOI > 0 {
		a.PCR = float64(a.TotalPutOI) / float64(a.TotalCallOI)
	}
	if totalCallVol > 0 {
		a.PCRByVolume = float64(totalPutVol) / float64(totalCallVol)
	}
	a.Sentiment, a.Interpretation = ClassifyPCR(a.PCR)
	return a
}

// ClassifyPCR buckets a put-call ratio into a sentiment label.
func ClassifyPCR(pcr float64) (sentiment, interpretation string) {
	switch {
	case pcr > 1.5:
		return "Strong Bullish", "High Put writing (Support)"
	case pcr > 1.0:
		return "Bullish", "More Puts than Calls"
	case pcr > 0.7:
		return "Neutral", "Balanced OI"
	case pcr > 0.5:
		return "Bearish", "Call writing dominant"
	default:
		return "Strong Bearish", "Heavy Call writing (Resistance)"
	}
}

// OI buildup labels.
const (
	LongBuildup   = "Long Buildup"
	ShortBuildup  = "Short Buildup"
	LongUnwinding = "Long Unwinding"
	ShortCovering = "Short Covering"
	Neutral       = "Neutral"
)

// ClassifyOIBuildup classifies a move from its price change and OI change.
func ClassifyOIBuildup(priceChange float64, oiChange int64) string {
	switch {
	case priceChange > 0 && oiChange > 0:
		return LongBuildup
	case priceChange < 0 && oiChange > 0:
		return ShortBuildup
	case priceChange < 0 && oiChange < 0:
		return LongUnwinding
	case priceChange > 0 && oiChange < 0:
		return ShortCovering
	default:
		return Neutral
	}
}

// ClassifyFuturesTrend labels a futures contract from its price move alone,
// for quotes that carry no previous OI.
func ClassifyFuturesTrend(priceChangePct float64) string {
	switch {
	case priceChangePct > 0.5:
		return LongBuildup
	case priceChangePct < -0.5:
		return ShortBuildup
	default:
		return Neutral
	}
}

// StrikeBuildup represents OI change at a specific strike. Buildup labels
// the premium move against the OI move; without a previous close the
// premium change is zero and the label is Neutral.
type StrikeBuildup struct {
	Strike      float64 `json:"strike"`
	OptionType  string  `json:"option_type"`
	OIChange    int64   `json:"oi_change"`
	OIChangePct float64 `json:"oi_change_pct"`
	PriceChange float64 `json:"price_change"`
	Buildup     string  `json:"buildup"`
}

// TopOIChanges returns the n strikes with the largest OI additions on each side.
func TopOIChanges(oc *models.OptionChain, n int) (calls, puts []StrikeBuildup) {
	if oc == nil {
		return nil, nil
	}
	for _, s := range oc.Strikes {
		if s.Call.OIChange > 0 {
			calls = append(calls, buildup(s.Strike, models.InstrumentCall, s.Call))
		}
		if s.Put.OIChange > 0 {
			puts = append(puts, buildup(s.Strike, models.InstrumentPut, s.Put))
		}
	}
	sortBuildups(calls)
	sortBuildups(puts)
	return capBuildups(calls, n), capBuildups(puts, n)
}

// FuturesBasis is the premium of a futures contract over spot.
type FuturesBasis struct {
	Premium        float64 `json:"premium"`
	BasisPct       float64 `json:"basis_pct"`
	Interpretation string  `json:"interpretation"`
}

// ComputeFuturesBasis compares a futures price with spot. Without a spot
// price the basis is zero and reported as "N/A".
func ComputeFuturesBasis(futuresPrice, spot float64) FuturesBasis {
	if spot <= 0 {
		return FuturesBasis{Interpretation: "N/A"}
	}
	b := FuturesBasis{Premium: futuresPrice - spot}
	b.BasisPct = b.Premium / spot * 100
	if b.Premium > 0 {
		b.Interpretation = "Premium"
	} else {
		b.Interpretation = "Discount"
	}
	return b
}

// --- helpers ---

func buildup(strike float64, optType string, side models.OptionSide) StrikeBuildup {
	b := StrikeBuildup{Strike: strike, OptionType: optType, OIChange: side.OIChange}
	if side.PrevOI > 0 {
		b.OIChangePct = float64(side.OIChange) / float64(side.PrevOI) * 100
	}
	if side.Close > 0 {
		b.PriceChange = side.LTP - side.Close
	}
	b.Buildup = ClassifyOIBuildup(b.PriceChange, b.OIChange)
	return b
}

func sortBuildups(b []StrikeBuildup) {
	sort.Slice(b, func(i, j int) bool {
		if b[i].OIChange != b[j].OIChange {
			return b[i].OIChange > b[j].OIChange
		}
		return b[i].Strike < b[j].Strike
	})
}

func capBuildups(b []StrikeBuildup, max int) []StrikeBuildup {
	if len(b) > max {
		return b[:max]
	}
	return b
}
