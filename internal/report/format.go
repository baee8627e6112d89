// Package report renders backtest and Monte Carlo results as plain text.
package report

import (
	"math"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// finite guards decimal conversion, which panics on NaN and Inf.
func finite(v float64) (string, bool) {
	switch {
	case math.IsNaN(v):
		return "NaN", false
	case math.IsInf(v, 1):
		return "+Inf", false
	case math.IsInf(v, -1):
		return "-Inf", false
	}
	return "", true
}

// FormatPercent formats a fraction as a percentage with the given number of
// decimal places, e.g. 0.1234 -> "12.34%".
func FormatPercent(v float64, places int32) string {
	if s, ok := finite(v); !ok {
		return s + "%"
	}
	return decimal.NewFromFloat(v).Mul(hundred).StringFixed(places) + "%"
}

// FormatFixed formats v with the given number of decimal places.
func FormatFixed(v float64, places int32) string {
	if s, ok := finite(v); !ok {
		return s
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

// FormatPrice formats a price as "$1,234.56".
func FormatPrice(p float64) string {
	if s, ok := finite(p); !ok {
		return s
	}
	rounded, _ := decimal.NewFromFloat(p).Round(2).Float64()
	return "$" + humanize.FormatFloat("#,###.##", rounded)
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	return humanize.Comma(n)
}
