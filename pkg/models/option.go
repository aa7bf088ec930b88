package models

import "time"

// OptionChain is the option chain for an underlying on one expiry,
// restricted to strikes near spot.
type OptionChain struct {
	Underlying    string         `json:"underlying"`     // caller-facing symbol, e.g. "Nifty 50"
	InstrumentKey string         `json:"instrument_key"` // e.g. "NSE_INDEX|Nifty 50"
	Expiry        string         `json:"expiry"`         // "2006-01-02"
	SpotPrice     float64        `json:"spot_price"`
	Strikes       []OptionStrike `json:"strikes"` // ascending by strike
	FetchedAt     time.Time      `json:"fetched_at"`
}

// OptionStrike is one row of the chain: the call and put at a strike.
type OptionStrike struct {
	Strike float64    `json:"strike"`
	Call   OptionSide `json:"call"`
	Put    OptionSide `json:"put"`
}

// OptionSide holds market data and greeks for one side (CE or PE) of a strike.
type OptionSide struct {
	LTP      float64 `json:"ltp"`
	Close    float64 `json:"close,omitempty"` // previous session close
	Volume   int64   `json:"volume"`
	OI       int64   `json:"oi"`
	PrevOI   int64   `json:"prev_oi"`
	OIChange int64   `json:"oi_change"` // OI - PrevOI
	IV       float64 `json:"iv,omitempty"`
	Delta    float64 `json:"delta,omitempty"`
	Gamma    float64 `json:"gamma,omitempty"`
	Theta    float64 `json:"theta,omitempty"`
	Vega     float64 `json:"vega,omitempty"`
}

// TotalOI returns the summed call and put open interest across the chain.
func (oc *OptionChain) TotalOI() (callOI, putOI int64) {
	if oc == nil {
		return 0, 0
	}
	for _, s := range oc.Strikes {
		callOI += s.Call.OI
		putOI += s.Put.OI
	}
	return callOI, putOI
}

// FuturesQuote is a futures contract quote compared against spot.
type FuturesQuote struct {
	Symbol         string    `json:"symbol"`
	InstrumentKey  string    `json:"instrument_key"`
	Expiry         string    `json:"expiry,omitempty"`
	LTP            float64   `json:"ltp"`
	PrevClose      float64   `json:"prev_close"`
	Change         float64   `json:"change"`
	ChangePct      float64   `json:"change_pct"`
	OI             int64     `json:"oi,omitempty"`
	SpotPrice      float64   `json:"spot_price"`
	Premium        float64   `json:"premium"`   // LTP - spot
	BasisPct       float64   `json:"basis_pct"` // premium as % of spot
	Interpretation string    `json:"interpretation"`
	FetchedAt      time.Time `json:"fetched_at"`
}
