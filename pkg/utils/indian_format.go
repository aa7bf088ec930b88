// Package utils holds NSE ticker normalization, IST market-clock helpers and
// Indian number formatting shared by the CLI and the HTTP surface.
package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatINR formats an amount with Indian digit grouping, e.g. ₹12,34,567.89.
func FormatINR(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	return sign + "₹" + groupIndian(intPart) + "." + frac
}

// FormatINRCompact formats an amount using lakh and crore units, e.g. ₹15 L.
func FormatINRCompact(amount float64) string {
	sign := "₹"
	if amount < 0 {
		sign = "-₹"
	}
	abs := math.Abs(amount)

	units := []struct {
		div    float64
		suffix string
	}{
		{1e12, "L Cr"},
		{1e7, "Cr"},
		{1e5, "L"},
		{1e3, "K"},
	}
	for _, u := range units {
		if abs >= u.div {
			return fmt.Sprintf("%s%s %s", sign, trimDecimals(abs/u.div), u.suffix)
		}
	}
	return fmt.Sprintf("%s%.2f", sign, abs)
}

// FormatPct formats a percentage with an explicit sign: 2.45 → "+2.45%".
func FormatPct(pct float64) string {
	return fmt.Sprintf("%+.2f%%", pct)
}

// FormatVolume formats a share count in K/L/Cr units.
func FormatVolume(volume int64) string {
	v := float64(volume)
	switch {
	case v >= 1e7:
		return fmt.Sprintf("%.2f Cr", v/1e7)
	case v >= 1e5:
		return fmt.Sprintf("%.2f L", v/1e5)
	case v >= 1e3:
		return fmt.Sprintf("%.2f K", v/1e3)
	}
	return strconv.FormatInt(volume, 10)
}

// groupIndian inserts commas after the last three digits and then every two.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(append(parts, tail), ",")
}

func trimDecimals(n float64) string {
	s := strconv.FormatFloat(n, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
