package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ReentryMode selects the post-harvest buy-back strategy.
type ReentryMode int

const (
	ReentryNone ReentryMode = iota
	ReentryFixedFraction
	ReentryLadder
)

// ParseReentryMode maps the configuration string onto a mode.
func ParseReentryMode(s string) (ReentryMode, error) {
	switch s {
	case "", "none":
		return ReentryNone, nil
	case "fixed_fraction":
		return ReentryFixedFraction, nil
	case "limit_ladder":
		return ReentryLadder, nil
	default:
		return ReentryNone, fmt.Errorf("未知的再入场策略: %q", s)
	}
}

func (m ReentryMode) String() string {
	switch m {
	case ReentryFixedFraction:
		return "fixed_fraction"
	case ReentryLadder:
		return "limit_ladder"
	default:
		return "none"
	}
}

// quoteStep is the smallest quote amount a market buy-by-quote accepts.
var quoteStep = decimal.RequireFromString("0.01")

// PlanReentry decides whether and how to buy back after a confirmed
// harvest. It only acts inside the re-entry window (between ApplyHarvest
// and the next Tick) and only when price has dropped at least the
// configured fraction below the pre-harvest entry price. The comparison
// deliberately uses the entry price captured before the rebase: the
// rebased entry equals the harvest price, which could never satisfy a
// drop threshold.
func (e *Engine) PlanReentry(price decimal.Decimal) Action {
	if e.cfg.ReentryMode == ReentryNone || e.lastHarvest == nil || e.state != StateActive {
		return Action{Type: ActionNone}
	}
	receipt := e.lastHarvest

	trigger := receipt.EntryBefore.Mul(decimal.NewFromInt(1).Sub(e.cfg.ReentryDropThreshold))
	if price.GreaterThan(trigger) {
		return Action{Type: ActionNone}
	}

	switch e.cfg.ReentryMode {
	case ReentryFixedFraction:
		return e.planFixedFraction(receipt, price, trigger)
	case ReentryLadder:
		return e.planLadder(receipt, price)
	}
	return Action{Type: ActionNone}
}

// planFixedFraction spends a fixed fraction of the harvest proceeds as a
// market buy by quote amount.
func (e *Engine) planFixedFraction(receipt *HarvestReceipt, price, trigger decimal.Decimal) Action {
	quote := FloorToStep(receipt.Proceeds.Mul(e.cfg.ReentryFraction), quoteStep)
	if quote.Sign() <= 0 || quote.LessThan(e.filters.MinNotional) {
		return Action{Type: ActionNone}
	}
	return Action{
		Type:     ActionReentryMarketBuy,
		QuoteQty: quote,
		Reason:   fmt.Sprintf("价格 %s 回落至再入场线 %s 以下", price, trigger),
	}
}

// planLadder spreads the re-entry budget (proceeds × fraction) across
// LadderOrders limit buys spaced by multiples of ATR below the
// pre-harvest entry. Rungs that fail the lot or notional filters are
// dropped individually; an all-dust ladder degrades to no action. The
// ladder needs a live ATR for its spacing.
func (e *Engine) planLadder(receipt *HarvestReceipt, price decimal.Decimal) Action {
	if !e.ATRAvailable() || e.cfg.LadderOrders <= 0 {
		return Action{Type: ActionNone}
	}

	budget := receipt.Proceeds.Mul(e.cfg.ReentryFraction)
	perRungQuote := budget.Div(decimal.NewFromInt(int64(e.cfg.LadderOrders)))
	rungs := make([]LadderRung, 0, e.cfg.LadderOrders)
	for i := 1; i <= e.cfg.LadderOrders; i++ {
		offset := e.cfg.LadderSpacing.Mul(decimal.NewFromInt(int64(i))).Mul(e.vol.ATR())
		limit := FloorToTick(receipt.EntryBefore.Sub(offset), e.filters.TickSize)
		if limit.Sign() <= 0 {
			continue
		}
		qty := FloorToStep(perRungQuote.Div(limit), e.filters.StepSize)
		if qty.Sign() <= 0 {
			continue
		}
		if e.filters.MinQty.Sign() > 0 && qty.LessThan(e.filters.MinQty) {
			continue
		}
		if !MeetsNotional(qty, limit, e.filters.MinNotional) {
			continue
		}
		rungs = append(rungs, LadderRung{Qty: qty, LimitPrice: limit})
	}
	if len(rungs) == 0 {
		return Action{Type: ActionNone}
	}
	return Action{
		Type:   ActionReentryLadderBuy,
		Rungs:  rungs,
		Reason: fmt.Sprintf("在入场价 %s 下方铺设 %d 档限价买单", receipt.EntryBefore, len(rungs)),
	}
}
