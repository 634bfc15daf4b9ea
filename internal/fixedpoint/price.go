// Package fixedpoint implements the exchange's scaled-integer numerics.
// Every price is stored as an int64 raw value scaled by Scale so that
// matching, margin, and settlement math never touches a float.
package fixedpoint

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the fixed-point denominator: one unit of Price.raw is
// 1/100_000_000th of one unit of the quoted price ("1.00" is raw 100_000_000).
const Scale int64 = 100_000_000

// Price is a scaled fixed-point integer. Zero value is not a valid traded
// price (callers must reject price <= 0 at the gate).
type Price struct {
	raw int64
}

// Quantity is a lot-size integer; fractional lots are not supported.
type Quantity struct {
	raw uint32
}

// NewPrice wraps an already-scaled raw value.
func NewPrice(raw int64) Price { return Price{raw: raw} }

// NewQuantity wraps a lot count.
func NewQuantity(raw uint32) Quantity { return Quantity{raw: raw} }

// Raw returns the scaled integer.
func (p Price) Raw() int64 { return p.raw }

// Raw returns the lot count.
func (q Quantity) Raw() uint32 { return q.raw }

// IsZero reports whether the quantity has no remaining lots.
func (q Quantity) IsZero() bool { return q.raw == 0 }

// PriceFromStringDecimal parses a decimal string such as "123.45000000" into
// a scaled Price. It rejects inputs with more than 8 fractional digits so
// that the scale-up from decimal to raw int64 is always exact — no rounding
// is ever silently applied. decimal.Decimal's big.Int mantissa means this
// never touches a float at any point in the parse.
func PriceFromStringDecimal(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("fixedpoint: invalid decimal %q: %w", s, err)
	}
	if -d.Exponent() > 8 {
		return Price{}, fmt.Errorf("fixedpoint: %q has more than 8 fractional digits", s)
	}
	scaled := d.Mul(decimal.New(Scale, 0))
	if !scaled.IsInteger() {
		return Price{}, fmt.Errorf("fixedpoint: %q does not scale exactly to 1e-8 ticks", s)
	}
	if !scaled.BigInt().IsInt64() {
		return Price{}, fmt.Errorf("fixedpoint: %q overflows int64 at 1e-8 scale", s)
	}
	return Price{raw: scaled.BigInt().Int64()}, nil
}

// PriceFromFloat rounds a float64 to the nearest raw tick. Reserved for
// interop boundaries (e.g. displaying an externally-sourced reference price)
// — never used on the hot matching path.
func PriceFromFloat(f float64) Price {
	return Price{raw: int64(math.Round(f * float64(Scale)))}
}

// ToFloat renders the price as a float64. Display/debugging only.
func (p Price) ToFloat() float64 {
	return float64(p.raw) / float64(Scale)
}

// Notional returns raw * qty as a scaled int64. Callers must ensure this
// cannot overflow for the instrument's realistic price/quantity ranges.
func (p Price) Notional(q Quantity) int64 {
	return p.raw * int64(q.raw)
}

// Add returns p + other, both operands scaled identically.
func (p Price) Add(other Price) Price {
	return Price{raw: p.raw + other.raw}
}

// Sub returns p - other.
func (p Price) Sub(other Price) Price {
	return Price{raw: p.raw - other.raw}
}

// Cmp returns -1, 0, 1 as p is less than, equal to, or greater than other.
func (p Price) Cmp(other Price) int {
	switch {
	case p.raw < other.raw:
		return -1
	case p.raw > other.raw:
		return 1
	default:
		return 0
	}
}

// WeightedAvg combines two fills' prices weighted by quantity using only
// integer arithmetic, truncating any remainder toward zero.
func WeightedAvg(p1 Price, q1 Quantity, p2 Price, q2 Quantity) Price {
	totalQty := int64(q1.raw) + int64(q2.raw)
	if totalQty == 0 {
		return Price{}
	}
	weighted := p1.raw*int64(q1.raw) + p2.raw*int64(q2.raw)
	return Price{raw: weighted / totalQty}
}

// Midpoint returns the truncating integer midpoint of two prices, as used
// for reference-price bookkeeping between a book's best bid and best ask.
func Midpoint(a, b Price) Price {
	return Price{raw: (a.raw + b.raw) / 2}
}

// String renders the canonical "{integer}.{8-digit fraction}" display form,
// e.g. -1234.56000000 for raw=-123456000000.
func (p Price) String() string {
	sign := ""
	raw := p.raw
	if raw < 0 {
		sign = "-"
		raw = -raw
	}
	integer := raw / Scale
	frac := raw % Scale
	return fmt.Sprintf("%s%d.%08d", sign, integer, frac)
}

func (q Quantity) String() string {
	return fmt.Sprintf("%d", q.raw)
}
