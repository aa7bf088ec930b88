// Package technical implements the price indicators used by the analysis packages:
// moving averages, RSI, bar ranges and the market state classifier.
// Functions operate on ascending []models.OHLCV slices or close columns.
package technical

import (
	"github.com/seenimoa/marketlens/pkg/models"
)

// RSI calculates the Relative Strength Index for the given period.
// Default period is 14. Returns values 0-100; nil when there are not period+1 bars.
func RSI(candles []models.OHLCV, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	n := len(candles)
	if n < period+1 {
		return nil
	}

	rsi := make([]float64, n)
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	rsi[period] = rsiValue(avgGain, avgLoss)

	// Wilder's smoothing for subsequent values.
	for i := period + 1; i < n; i++ {
		change := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiValue(avgGain, avgLoss)
	}

	return rsi
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// RSILatest returns the most recent RSI value, and false when there is not
// enough history to compute one.
func RSILatest(candles []models.OHLCV, period int) (float64, bool) {
	vals := RSI(candles, period)
	if len(vals) == 0 {
		return 0, false
	}
	return vals[len(vals)-1], true
}

// BarRanges returns high minus low for every bar.
func BarRanges(candles []models.OHLCV) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High - c.Low
	}
	return out
}

// MeanRange is the mean high-low range over the last period bars, 0 when there are fewer.
func MeanRange(candles []models.OHLCV, period int) float64 {
	return SMALatest(BarRanges(candles), period)
}

// AverageVolume is the mean volume over the last period bars, or over all bars when fewer exist.
func AverageVolume(candles []models.OHLCV, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if period <= 0 || period > len(candles) {
		period = len(candles)
	}
	sum := 0.0
	for _, c := range candles[len(candles)-period:] {
		sum += float64(c.Volume)
	}
	return sum / float64(period)
}

func extractCloses(candles []models.OHLCV) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}
