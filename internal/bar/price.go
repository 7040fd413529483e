package bar

import (
	"github.com/shopspring/decimal"
)

// PriceScale is the fixed decimal scale every Price is rounded to.
const PriceScale = 4

// Price is a decimal value at fixed scale 4. There is deliberately no
// constructor from float64: vendor rows arrive as strings/decimal and are
// normalized once at the adapter boundary, so float rounding never enters
// the pipeline.
type Price struct {
	d decimal.Decimal
}

// NewPriceFromString parses a decimal string. allowZero permits 0 for
// aggregated contexts (e.g. a bucket whose volume is legitimately zero);
// strict bar construction always passes allowZero=false.
func NewPriceFromString(raw string, allowZero bool) (Price, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return Price{}, newValidationError("price", "parse", err.Error())
	}
	return NewPriceFromDecimal(d, allowZero)
}

// NewPriceFromDecimal validates and rounds an existing decimal.Decimal to
// PriceScale.
func NewPriceFromDecimal(d decimal.Decimal, allowZero bool) (Price, error) {
	rounded := d.Round(PriceScale)
	if allowZero {
		if rounded.IsNegative() {
			return Price{}, newValidationError("price", "nonnegative", "price must be >= 0")
		}
	} else if !rounded.IsPositive() {
		return Price{}, newValidationError("price", "positive", "price must be > 0")
	}
	return Price{d: rounded}, nil
}

// ZeroPrice is the zero-valued Price, only constructible through this
// helper since NewPriceFromDecimal rejects 0 by default.
func ZeroPrice() Price { return Price{d: decimal.Zero} }

// PriceFromVolume lifts a Volume into a Price for use as a weighting
// factor in aggregation math (e.g. the volume-weighted VWAP rollup);
// never persisted as a bar's own price field.
func PriceFromVolume(v Volume) Price {
	return Price{d: decimal.NewFromInt(int64(v.Uint64()))}
}

func (p Price) Decimal() decimal.Decimal { return p.d }

func (p Price) String() string { return p.d.StringFixed(PriceScale) }

func (p Price) IsZero() bool { return p.d.IsZero() }

func (p Price) IsPositive() bool { return p.d.IsPositive() }

// ExceedsInt64 reports whether p is strictly greater than bound.
func (p Price) ExceedsInt64(bound int64) bool {
	return p.d.Cmp(decimal.NewFromInt(bound)) > 0
}

func (p Price) Cmp(other Price) int { return p.d.Cmp(other.d) }

func (p Price) GreaterThanOrEqual(other Price) bool { return p.d.Cmp(other.d) >= 0 }

func (p Price) LessThanOrEqual(other Price) bool { return p.d.Cmp(other.d) <= 0 }

func (p Price) Add(other Price) Price { return Price{d: p.d.Add(other.d)} }

func (p Price) Mul(other Price) Price { return Price{d: p.d.Mul(other.d)} }

func (p Price) DivInt64(n int64) Price {
	if n == 0 {
		return ZeroPrice()
	}
	return Price{d: p.d.DivRound(decimal.NewFromInt(n), PriceScale)}
}

// MaxPrice returns the largest of a set of prices; panics on an empty set.
func MaxPrice(prices ...Price) Price {
	max := prices[0]
	for _, p := range prices[1:] {
		if p.Cmp(max) > 0 {
			max = p
		}
	}
	return max
}

// MinPrice returns the smallest of a set of prices; panics on an empty set.
func MinPrice(prices ...Price) Price {
	min := prices[0]
	for _, p := range prices[1:] {
		if p.Cmp(min) < 0 {
			min = p
		}
	}
	return min
}
