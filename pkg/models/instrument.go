package models

import "time"

// Segment tags from the provider instrument dump.
const (
	SegmentEquity = "NSE_EQ"
	SegmentIndex  = "NSE_INDEX"
	SegmentFO     = "NSE_FO"
)

// Instrument types of interest.
const (
	InstrumentEquity  = "EQ"
	InstrumentFutures = "FUT"
	InstrumentCall    = "CE"
	InstrumentPut     = "PE"
)

// InstrumentRecord is one row of the bulk instrument dump.
type InstrumentRecord struct {
	Segment          string `json:"segment"`
	TradingSymbol    string `json:"trading_symbol"`
	InstrumentKey    string `json:"instrument_key"`
	Name             string `json:"name"`
	InstrumentType   string `json:"instrument_type"`
	Expiry           int64  `json:"expiry,omitempty"` // epoch millis, derivatives only
	UnderlyingSymbol string `json:"underlying_symbol,omitempty"`
}

// Instrument is a resolved tradable instrument held by the directory.
type Instrument struct {
	Symbol  string `json:"symbol"`
	Key     string `json:"key"`
	Segment string `json:"segment"`
	Name    string `json:"name,omitempty"`
}

// ContractRef is a derivative contract key with its expiry.
type ContractRef struct {
	Key      string `json:"key"`
	ExpiryMs int64  `json:"expiry"`
}

// ExpiryTime returns the contract expiry as a time.Time.
func (c ContractRef) ExpiryTime() time.Time {
	return time.UnixMilli(c.ExpiryMs)
}

// DerivativeSeries groups all derivative contracts sharing an underlying.
// Futures are ascending by expiry; Expiries holds ascending unique "2006-01-02" dates.
type DerivativeSeries struct {
	Underlying string        `json:"underlying"`
	Futures    []ContractRef `json:"futures,omitempty"`
	Expiries   []string      `json:"expiries,omitempty"`
}
