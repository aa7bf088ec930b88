package decompose

import (
	"github.com/seenimoa/marketlens/internal/analysis/technical"
	"github.com/seenimoa/marketlens/pkg/models"
)

// ETF trend statuses.
const (
	HealthStrong  = "Bullish (Strong)"
	HealthWeak    = "Neutral / Weak"
	HealthBroken  = "Bearish (Broken Trend)"
	HealthUnknown = "Unknown"
)

// generalsCount is how many of the largest constituents a health check reports.
const generalsCount = 3

// General is one of an ETF's largest constituents and its latest move.
type General struct {
	Symbol    string  `json:"symbol"`
	Weight    float64 `json:"weight"`
	ChangePct float64 `json:"change_pct"`
}

// ETFHealth is the trend check of one ETF.
type ETFHealth struct {
	Symbol     string    `json:"symbol"`
	Index      string    `json:"index,omitempty"`
	Status     string    `json:"status"`
	TrendScore int       `json:"trend_score"`
	Close      float64   `json:"close,omitempty"`
	SMA20      float64   `json:"sma20,omitempty"`
	SMA50      float64   `json:"sma50,omitempty"`
	Generals   []General `json:"generals,omitempty"`
}

// ETFHealth scores an ETF one point each for closing above SMA20 and above
// SMA50. It needs more than 20 bars; with fewer the status is Unknown.
// An SMA50 that cannot be computed yet never scores.
func (e *Engine) ETFHealth(symbol string, frame *models.Frame, changes map[string]float64) ETFHealth {
	sym := ExposureKey(symbol)
	h := ETFHealth{Symbol: sym, Status: HealthUnknown}

	if frame.Len() > 20 {
		closes := frame.Closes()
		h.Close = closes[len(closes)-1]
		h.SMA20 = technical.SMALatest(closes, 20)
		h.SMA50 = technical.SMALatest(closes, 50)
		if h.Close > h.SMA20 {
			h.TrendScore++
		}
		if h.SMA50 > 0 && h.Close > h.SMA50 {
			h.TrendScore++
		}
		switch h.TrendScore {
		case 2:
			h.Status = HealthStrong
		case 1:
			h.Status = HealthWeak
		default:
			h.Status = HealthBroken
		}
	}

	if index, ok := e.comp.IndexFor(sym); ok {
		h.Index = index
		for _, c := range e.comp.TopConstituents(index, generalsCount) {
			g := General{Symbol: ExposureKey(c.Symbol), Weight: c.Weight}
			g.ChangePct, _ = lookupChange(changes, g.Symbol)
			h.Generals = append(h.Generals, g)
		}
	}
	return h
}
