package engine

import "github.com/shopspring/decimal"

// FloorToStep floors qty down to the nearest multiple of step. Returns
// zero when qty or step is not positive, so callers can treat the result
// as "nothing sellable" without a separate error path.
func FloorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if qty.Sign() <= 0 || step.Sign() <= 0 {
		return decimal.Zero
	}
	steps, _ := qty.QuoRem(step, 0)
	return steps.Mul(step)
}

// FloorToTick floors a price down to the nearest multiple of tick.
// A non-positive tick leaves the price untouched (some venues omit the
// price filter).
func FloorToTick(price, tick decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 {
		return decimal.Zero
	}
	if tick.Sign() <= 0 {
		return price
	}
	ticks, _ := price.QuoRem(tick, 0)
	return ticks.Mul(tick)
}

// MeetsNotional reports whether qty*price reaches the venue minimum
// order value.
func MeetsNotional(qty, price, minNotional decimal.Decimal) bool {
	return qty.Mul(price).GreaterThanOrEqual(minNotional)
}
