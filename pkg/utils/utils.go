// Package utils provides small shared helpers used across the trading core:
// ID generation, symbol normalization, and tick/step rounding.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// GenerateID returns a prefixed random hex identifier, e.g. "ord_3f9a...".
func GenerateID(prefix string) string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is effectively unrecoverable; fall back to a
		// fixed, non-unique value rather than panic.
		return fmt.Sprintf("%s_0", prefix)
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(buf))
}

// GenerateOrderID returns a new internal order ID.
func GenerateOrderID() string { return GenerateID("ord") }

// GenerateEventID returns a new internal event ID.
func GenerateEventID() string { return GenerateID("evt") }

// GenerateAlertID returns a new internal risk-alert ID.
func GenerateAlertID() string { return GenerateID("alert") }

var knownQuotes = []string{"USDT", "USDC", "USD", "BTC", "ETH", "BNB"}

// FormatSymbol normalizes a raw exchange symbol to BASE/QUOTE form.
func FormatSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
	base, quote := ParseSymbol(s)
	if quote == "" {
		return s
	}
	return base + "/" + quote
}

// ParseSymbol splits a normalized symbol into base and quote assets by
// matching a known quote-asset suffix.
func ParseSymbol(symbol string) (base, quote string) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "/") {
		parts := strings.SplitN(s, "/", 2)
		return parts[0], parts[1]
	}
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q
		}
	}
	return s, ""
}

// RoundToTickSize rounds price down to the nearest multiple of tickSize.
func RoundToTickSize(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	return price.DivRound(tickSize, 16).Floor().Mul(tickSize)
}

// RoundToStepSize rounds quantity down to the nearest multiple of stepSize.
func RoundToStepSize(quantity, stepSize decimal.Decimal) decimal.Decimal {
	if stepSize.IsZero() {
		return quantity
	}
	return quantity.DivRound(stepSize, 16).Floor().Mul(stepSize)
}

// PercentOf returns part/whole as a fraction (0.05 for 5%), not clamped to
// [0,1]; returns zero if whole is zero rather than dividing by zero.
func PercentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole)
}

// PercentageChange returns (newVal-oldVal)/oldVal, or zero if oldVal is zero.
func PercentageChange(oldVal, newVal decimal.Decimal) decimal.Decimal {
	if oldVal.IsZero() {
		return decimal.Zero
	}
	return newVal.Sub(oldVal).Div(oldVal)
}

// PearsonCorrelation returns the Pearson correlation coefficient of the
// period-over-period returns of a and b, using the overlapping tail of both
// series. Returns zero and false if fewer than two overlapping return
// samples are available or either series has zero variance.
func PearsonCorrelation(a, b []decimal.Decimal) (decimal.Decimal, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 3 {
		return decimal.Zero, false
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	returns := func(series []decimal.Decimal) []float64 {
		out := make([]float64, 0, len(series)-1)
		for i := 1; i < len(series); i++ {
			prev := series[i-1]
			if prev.IsZero() {
				out = append(out, 0)
				continue
			}
			r, _ := series[i].Sub(prev).Div(prev).Float64()
			out = append(out, r)
		}
		return out
	}
	ra, rb := returns(a), returns(b)

	var sumA, sumB float64
	for i := range ra {
		sumA += ra[i]
		sumB += rb[i]
	}
	meanA, meanB := sumA/float64(len(ra)), sumB/float64(len(rb))

	var cov, varA, varB float64
	for i := range ra {
		da, db := ra[i]-meanA, rb[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return decimal.Zero, false
	}
	corr := cov / (math.Sqrt(varA) * math.Sqrt(varB))
	return decimal.NewFromFloat(corr), true
}
