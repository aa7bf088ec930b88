package snapshot

import (
	"fmt"
	"math"
)

// Change categories.
const (
	CategoryInfo    = "INFO"
	CategoryPrice   = "PRICE"
	CategoryVolume  = "VOLUME"
	CategoryOptions = "OPTIONS"
)

// Significance and direction labels.
const (
	SignificanceLow    = "LOW"
	SignificanceMedium = "MEDIUM"
	SignificanceHigh   = "HIGH"

	DirectionBullish = "BULLISH"
	DirectionBearish = "BEARISH"
	DirectionNeutral = "NEUTRAL"
)

// Thresholds, in percent except pcrDelta.
const (
	priceMovePct     = 1.5
	priceMoveHighPct = 3.0
	volumeMovePct    = 20.0
	pcrDelta         = 0.2
)

// Change is one notable difference from the previous snapshot.
type Change struct {
	Category     string `json:"category"`
	Description  string `json:"description"`
	Significance string `json:"significance"`
	Direction    string `json:"direction"`
}

// Detect compares cur against prev. A nil prev yields a single INFO change.
func Detect(prev *Snapshot, cur Snapshot) []Change {
	if prev == nil {
		return []Change{{
			Category:     CategoryInfo,
			Description:  "First run - no history",
			Significance: SignificanceLow,
			Direction:    DirectionNeutral,
		}}
	}

	var changes []Change
	if prev.Price > 0 {
		pct := (cur.Price - prev.Price) / prev.Price * 100
		if math.Abs(pct) > priceMovePct {
			c := Change{
				Category:     CategoryPrice,
				Description:  fmt.Sprintf("Price moved %+.1f%% (₹%.0f -> ₹%.0f)", pct, prev.Price, cur.Price),
				Significance: SignificanceMedium,
				Direction:    DirectionBearish,
			}
			if math.Abs(pct) > priceMoveHighPct {
				c.Significance = SignificanceHigh
			}
			if pct > 0 {
				c.Direction = DirectionBullish
			}
			changes = append(changes, c)
		}
	}

	if prev.VolumeAvg > 0 && cur.VolumeAvg > 0 {
		pct := (cur.VolumeAvg - prev.VolumeAvg) / prev.VolumeAvg * 100
		if math.Abs(pct) > volumeMovePct {
			changes = append(changes, Change{
				Category:     CategoryVolume,
				Description:  fmt.Sprintf("Volume trend changed %+.0f%%", pct),
				Significance: SignificanceMedium,
				Direction:    DirectionNeutral,
			})
		}
	}

	if prev.PCR != nil && cur.PCR != nil && *prev.PCR != 0 && *cur.PCR != 0 {
		diff := *cur.PCR - *prev.PCR
		if math.Abs(diff) > pcrDelta {
			changes = append(changes, Change{
				Category:     CategoryOptions,
				Description:  fmt.Sprintf("PCR changed %+.2f (%.2f -> %.2f)", diff, *prev.PCR, *cur.PCR),
				Significance: SignificanceMedium,
				Direction:    DirectionNeutral,
			})
		}
	}
	return changes
}
