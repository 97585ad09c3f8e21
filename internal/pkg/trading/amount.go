// Package trading provides decimal helpers shared by sizing, risk and trigger code.
package trading

import (
	"github.com/shopspring/decimal"
)

func Dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// FloorToStep rounds qty down to a multiple of step. A non-positive step returns qty untouched.
func FloorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// QtyFromNotional converts a quote notional into a base quantity truncated to the lot step.
func QtyFromNotional(notional, price, step decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 || notional.Sign() <= 0 {
		return decimal.Zero
	}
	return FloorToStep(notional.Div(price), step)
}

// PnLRatio 返回不含杠杆的价格收益率，多头为正向，空头取反。
func PnLRatio(entry, exit float64, long bool) (float64, bool) {
	if entry <= 0 || exit <= 0 {
		return 0, false
	}
	e := Dec(entry)
	r := Dec(exit).Sub(e).Div(e)
	if !long {
		r = r.Neg()
	}
	return Float(r), true
}

// RelativeDistance 返回 |a-b|/b。
func RelativeDistance(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return Float(Dec(a).Sub(Dec(b)).Abs().Div(Dec(b).Abs()))
}
