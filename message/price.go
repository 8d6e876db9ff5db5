package message

import (
	"github.com/shopspring/decimal"
)

// PrecisionHint records how many decimal places a price is displayed with. The zero value
// means the precision is unknown and the value formats itself.
type PrecisionHint uint8

// PrecisionUnknown leaves formatting to the decimal value.
const PrecisionUnknown PrecisionHint = 0

// maxDecimals bounds Decimals so the hint fits a byte on the wire.
const maxDecimals = 16

// Decimals returns the hint for n decimal places, clamped to [0, 16].
func Decimals(n int) PrecisionHint {
	if n < 0 {
		n = 0
	}
	if n > maxDecimals {
		n = maxDecimals
	}
	return PrecisionHint(n + 1)
}

// Places returns the number of decimal places and whether the hint is known.
func (h PrecisionHint) Places() (int32, bool) {
	if h == PrecisionUnknown {
		return 0, false
	}
	return int32(h) - 1, true
}

// Price is a decimal price with a display precision hint.
type Price struct {
	Value decimal.Decimal `json:"value"`
	Hint  PrecisionHint   `json:"hint,omitempty"`
}

// NewPrice builds a price from a float with unknown precision.
func NewPrice(v float64) Price {
	return Price{Value: decimal.NewFromFloat(v)}
}

// ParsePrice parses a decimal string such as "101.25".
func ParsePrice(s string) (Price, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, err
	}
	return Price{Value: v}, nil
}

// WithHint returns a copy carrying the given precision hint.
func (p Price) WithHint(h PrecisionHint) Price {
	p.Hint = h
	return p
}

// Equal compares value and hint.
func (p Price) Equal(o Price) bool {
	return p.Hint == o.Hint && p.Value.Equal(o.Value)
}

// Float64 returns the nearest float64.
func (p Price) Float64() float64 {
	f, _ := p.Value.Float64()
	return f
}

// String formats the price using the hint when known.
func (p Price) String() string {
	if places, ok := p.Hint.Places(); ok {
		return p.Value.StringFixed(places)
	}
	return p.Value.String()
}
