// Package models defines the core data structures shared by the marketlens packages.
package models

import "time"

// OHLCV represents a single candlestick bar of price data.
type OHLCV struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	AdjClose  float64   `json:"adj_close,omitempty"`
}

// Quote represents a spot quote from the primary provider.
type Quote struct {
	Symbol        string    `json:"symbol"`         // caller-facing symbol, e.g. "RELIANCE.NS"
	InstrumentKey string    `json:"instrument_key"` // e.g. "NSE_EQ|INE002A01018"
	LastPrice     float64   `json:"last_price"`
	PrevClose     float64   `json:"prev_close"`
	Change        float64   `json:"change"`
	ChangePct     float64   `json:"change_pct"`
	Volume        int64     `json:"volume"`
	OI            int64     `json:"oi,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// HasPrices reports whether both previous close and last price are usable.
func (q *Quote) HasPrices() bool {
	return q != nil && q.PrevClose > 0 && q.LastPrice > 0
}

// Timeframe represents chart timeframe for OHLCV data.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1m"
	Timeframe5Min  Timeframe = "5m"
	Timeframe15Min Timeframe = "15m"
	Timeframe1Hour Timeframe = "1h"
	Timeframe1Day  Timeframe = "1d"
	Timeframe1Week Timeframe = "1w"
	Timeframe1Mon  Timeframe = "1M"
)
