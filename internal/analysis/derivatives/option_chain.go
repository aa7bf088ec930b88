// Package derivatives derives sentiment and levels from option chains and
// futures quotes: put-call ratio, max pain, OI support and resistance, and
// futures basis.
package derivatives

import (
	"math"
	"sort"

	"github.com/seenimoa/marketlens/pkg/models"
)

// OptionChainAnalysis holds derived insights from the option chain.
type OptionChainAnalysis struct {
	Underlying string       `json:"underlying"`
	Expiry     string       `json:"expiry"`
	SpotPrice  float64      `json:"spot_price"`
	PCR        PCRAnalysis  `json:"pcr"`
	MaxPain    MaxPain      `json:"max_pain"`
	IVSkew     float64      `json:"iv_skew"` // ATM IV difference (PE-CE)
	ATMStrike  float64      `json:"atm_strike"`
	ATMIV      float64      `json:"atm_iv"` // average ATM IV
	OISRLevels OISupportRes `json:"oi_sr_levels"`
}

// OISupportRes contains OI-based support and resistance levels.
type OISupportRes struct {
	MaxPutOIStrike  float64   `json:"put_support"`      // strongest support
	MaxCallOIStrike float64   `json:"call_resistance"`  // strongest resistance
	TopPutStrikes   []float64 `json:"top_put_strikes"`  // top 3 support levels
	TopCallStrikes  []float64 `json:"top_call_strikes"` // top 3 resistance levels
}

// MaxPain is the settlement strike that minimizes option writers' payout.
type MaxPain struct {
	Strike      float64 `json:"max_pain_strike"`
	DistancePct float64 `json:"distance_pct"` // (strike - spot) / spot × 100
}

// AnalyzeOptionChain performs comprehensive analysis on an option chain.
func AnalyzeOptionChain(oc *models.OptionChain) OptionChainAnalysis {
	if oc == nil || len(oc.Strikes) == 0 {
		return OptionChainAnalysis{PCR: ComputePCR(nil)}
	}

	a := OptionChainAnalysis{
		Underlying: oc.Underlying,
		Expiry:     oc.Expiry,
		SpotPrice:  oc.SpotPrice,
		PCR:        ComputePCR(oc),
		MaxPain:    ComputeMaxPain(oc.Strikes, oc.SpotPrice),
		OISRLevels: computeOISR(oc.Strikes),
	}

	atm, ok := findATM(oc.Strikes, oc.SpotPrice)
	if ok {
		a.ATMStrike = atm.Strike
		if atm.Call.IV > 0 && atm.Put.IV > 0 {
			a.ATMIV = (atm.Call.IV + atm.Put.IV) / 2
			a.IVSkew = atm.Put.IV - atm.Call.IV
		}
	}

	return a
}

// ComputeMaxPain evaluates every listed strike as a settlement price and
// returns the one with the smallest total intrinsic value owed to buyers.
func ComputeMaxPain(strikes []models.OptionStrike, spot float64) MaxPain {
	if len(strikes) == 0 {
		return MaxPain{}
	}

	minPain := math.MaxFloat64
	best := 0.0
	for _, settle := range strikes {
		pain := 0.0
		for _, s := range strikes {
			// Calls ITM below settlement, puts ITM above.
			if s.Strike < settle.Strike {
				pain += (settle.Strike - s.Strike) * float64(s.Call.OI)
			}
			if s.Strike > settle.Strike {
				pain += (s.Strike - settle.Strike) * float64(s.Put.OI)
			}
		}
		if pain < minPain {
			minPain = pain
			best = settle.Strike
		}
	}

	mp := MaxPain{Strike: best}
	if spot > 0 {
		mp.DistancePct = (best - spot) / spot * 100
	}
	return mp
}

// FilterByDistance keeps strikes within maxPct percent of spot. A
// non-positive spot leaves the chain unfiltered.
func FilterByDistance(strikes []models.OptionStrike, spot, maxPct float64) []models.OptionStrike {
	if spot <= 0 {
		return strikes
	}
	out := strikes[:0:0]
	for _, s := range strikes {
		if math.Abs(s.Strike-spot)/spot*100 <= maxPct {
			out = append(out, s)
		}
	}
	return out
}

// --- helpers ---

func findATM(strikes []models.OptionStrike, spot float64) (models.OptionStrike, bool) {
	if len(strikes) == 0 || spot <= 0 {
		return models.OptionStrike{}, false
	}

	closest := strikes[0]
	minDiff := math.Abs(closest.Strike - spot)
	for _, s := range strikes[1:] {
		if diff := math.Abs(s.Strike - spot); diff < minDiff {
			minDiff = diff
			closest = s
		}
	}
	return closest, true
}

type oiEntry struct {
	strike float64
	oi     int64
}

func computeOISR(strikes []models.OptionStrike) OISupportRes {
	ceEntries := make([]oiEntry, 0, len(strikes))
	peEntries := make([]oiEntry, 0, len(strikes))
	for _, s := range strikes {
		ceEntries = append(ceEntries, oiEntry{s.Strike, s.Call.OI})
		peEntries = append(peEntries, oiEntry{s.Strike, s.Put.OI})
	}

	// Ties resolve to the lower strike.
	byOI := func(e []oiEntry) func(i, j int) bool {
		return func(i, j int) bool {
			if e[i].oi != e[j].oi {
				return e[i].oi > e[j].oi
			}
			return e[i].strike < e[j].strike
		}
	}
	sort.Slice(ceEntries, byOI(ceEntries))
	sort.Slice(peEntries, byOI(peEntries))

	sr := OISupportRes{}
	if len(ceEntries) > 0 {
		sr.MaxCallOIStrike = ceEntries[0].strike
		for i := 0; i < 3 && i < len(ceEntries); i++ {
			sr.TopCallStrikes = append(sr.TopCallStrikes, ceEntries[i].strike)
		}
	}
	if len(peEntries) > 0 {
		sr.MaxPutOIStrike = peEntries[0].strike
		for i := 0; i < 3 && i < len(peEntries); i++ {
			sr.TopPutStrikes = append(sr.TopPutStrikes, peEntries[i].strike)
		}
	}
	return sr
}
