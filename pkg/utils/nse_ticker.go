package utils

import (
	"strings"
)

// Common NSE ticker aliases typed by users.
var tickerAliases = map[string]string{
	"RIL":           "RELIANCE",
	"INFOSYS":       "INFY",
	"HDFC BANK":     "HDFCBANK",
	"ICICI BANK":    "ICICIBANK",
	"SBI":           "SBIN",
	"AIRTEL":        "BHARTIARTL",
	"BAJAJ FIN":     "BAJFINANCE",
	"L&T":           "LT",
	"TATA MOTORS":   "TATAMOTORS",
	"TATA STEEL":    "TATASTEEL",
	"HCL TECH":      "HCLTECH",
	"KOTAK":         "KOTAKBANK",
	"AXIS BANK":     "AXISBANK",
	"SUN PHARMA":    "SUNPHARMA",
	"ASIAN PAINTS":  "ASIANPAINT",
	"NESTLE":        "NESTLEIND",
	"ULTRATECH":     "ULTRACEMCO",
	"TECH MAHINDRA": "TECHM",
	"MAHINDRA":      "M&M",
	"HUL":           "HINDUNILVR",
	"COAL INDIA":    "COALINDIA",
}

// Yahoo Finance symbols for the NSE indices the dashboard tracks, keyed by
// upper-cased display name.
var indexYahooSymbols = map[string]string{
	"NIFTY 50":          "^NSEI",
	"NIFTY BANK":        "^NSEBANK",
	"NIFTY MIDCAP 100":  "^NSEMDCP100",
	"NIFTY IT":          "^CNXIT",
	"NIFTY FIN SERVICE": "^CNXFIN",
	"SENSEX":            "^BSESN",
}

// Short index names mapped to display names.
var indexShortNames = map[string]string{
	"NIFTY":       "NIFTY 50",
	"NIFTY50":     "NIFTY 50",
	"BANKNIFTY":   "NIFTY BANK",
	"NIFTYBANK":   "NIFTY BANK",
	"BANK NIFTY":  "NIFTY BANK",
	"FINNIFTY":    "NIFTY FIN SERVICE",
	"NIFTYIT":     "NIFTY IT",
	"MIDCPNIFTY":  "NIFTY MIDCAP 100",
	"NIFTYMIDCAP": "NIFTY MIDCAP 100",
}

// NormalizeTicker normalizes user input to the canonical NSE ticker or index display name.
// Yahoo-style symbols (".NS", "^NSEI") are preserved apart from upper-casing.
func NormalizeTicker(ticker string) string {
	ticker = strings.TrimSpace(strings.ToUpper(ticker))
	ticker = strings.TrimPrefix(ticker, "$")

	if idx, ok := indexShortNames[ticker]; ok {
		return idx
	}
	if canonical, ok := tickerAliases[ticker]; ok {
		return canonical
	}
	return ticker
}

// ToYFinanceTicker converts an NSE ticker or index name to Yahoo Finance format.
// Symbols already carrying an exchange suffix or a caret are returned unchanged.
func ToYFinanceTicker(ticker string) string {
	if strings.HasPrefix(strings.TrimSpace(ticker), "^") {
		return strings.TrimSpace(ticker)
	}
	ticker = NormalizeTicker(ticker)
	if yf, ok := indexYahooSymbols[ticker]; ok {
		return yf
	}
	if HasExchangeSuffix(ticker) {
		return ticker
	}
	return ticker + ".NS"
}

// FromYFinanceTicker strips the .NS or .BO suffix to get the NSE/BSE ticker.
func FromYFinanceTicker(yfTicker string) string {
	yfTicker = strings.TrimSuffix(yfTicker, ".NS")
	yfTicker = strings.TrimSuffix(yfTicker, ".BO")
	return yfTicker
}

// HasExchangeSuffix reports whether the ticker ends in .NS or .BO.
func HasExchangeSuffix(ticker string) bool {
	return strings.HasSuffix(ticker, ".NS") || strings.HasSuffix(ticker, ".BO")
}

// IsIndex reports whether the ticker names an index rather than a stock.
func IsIndex(ticker string) bool {
	if strings.HasPrefix(strings.TrimSpace(ticker), "^") {
		return true
	}
	_, ok := indexYahooSymbols[NormalizeTicker(ticker)]
	return ok
}
