// Package currency converts checkout amounts between the three supported
// currencies through the INR base rate.
package currency

import "math"

type Code string

const (
	INR Code = "INR"
	USD Code = "USD"
	NPR Code = "NPR"
)

// Default INR -> X multipliers, overridable via configuration.
const (
	DefaultUSDRate = 0.012
	DefaultNPRRate = 1.6
)

// Converter holds the per-currency rates resolved once at startup.
// Convert is a pure function over these rates and is safe for
// concurrent use.
type Converter struct {
	usdRate float64
	nprRate float64
}

func NewConverter(usdRate, nprRate float64) *Converter {
	if usdRate <= 0 || !isFinite(usdRate) {
		usdRate = DefaultUSDRate
	}
	if nprRate <= 0 || !isFinite(nprRate) {
		nprRate = DefaultNPRRate
	}
	return &Converter{usdRate: usdRate, nprRate: nprRate}
}

// Convert translates amount from one currency to another via INR.
// Identity when from == to. Non-finite amounts yield 0.
func (c *Converter) Convert(amount float64, from, to Code) float64 {
	if !isFinite(amount) {
		return 0
	}
	if from == to {
		return amount
	}
	inr := amount / c.rate(from)
	return inr * c.rate(to)
}

// Normalize maps unknown currency strings to the INR base.
func Normalize(raw string) Code {
	switch Code(raw) {
	case USD:
		return USD
	case NPR:
		return NPR
	default:
		return INR
	}
}

func (c *Converter) rate(code Code) float64 {
	switch code {
	case USD:
		return c.usdRate
	case NPR:
		return c.nprRate
	default:
		return 1
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
