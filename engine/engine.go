package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"harvester/market"
)

// State is the engine lifecycle: ACTIVE until a stop-loss fully
// liquidates the position, then STOPPED (terminal).
type State int

const (
	StateActive State = iota
	StateStopped
)

func (s State) String() string {
	if s == StateStopped {
		return "STOPPED"
	}
	return "ACTIVE"
}

// Config carries the immutable strategy parameters for one engine run.
type Config struct {
	// TargetPct 固定收割目标（占基线价值的比例，如 0.005 = 0.5%）
	TargetPct decimal.Decimal
	// StopLossPct 组合止损阈值（相对基线的最大回撤比例）
	StopLossPct decimal.Decimal

	ATRPeriod          int
	ATRMultiplier      decimal.Decimal
	UseATRStop         bool
	ATRRefreshInterval time.Duration

	ReentryMode          ReentryMode
	ReentryFraction      decimal.Decimal
	ReentryDropThreshold decimal.Decimal
	LadderOrders         int
	LadderSpacing        decimal.Decimal
}

// Snapshot is the per-tick input: the latest price and the freshly
// fetched free balance.
type Snapshot struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Time     time.Time
}

// ExecutionResult is what the executor reports back for a confirmed
// order. AvgPrice may be zero (dry run); callers fall back to the tick
// price.
type ExecutionResult struct {
	ExecutedQty decimal.Decimal
	AvgPrice    decimal.Decimal
}

// HarvestReceipt records the accounting of one confirmed sell and, for
// harvests, the inputs the re-entry planner needs.
type HarvestReceipt struct {
	SoldQty     decimal.Decimal
	FillPrice   decimal.Decimal
	Proceeds    decimal.Decimal
	Realized    decimal.Decimal
	Cumulative  decimal.Decimal
	EntryBefore decimal.Decimal
}

// Engine is the stateful decision core for a single symbol. It must not
// be shared between control loops; all methods assume the caller is the
// one synchronous tick loop that owns it.
type Engine struct {
	cfg     Config
	filters market.SymbolFilters

	pos   Position
	vol   Volatility
	state State

	// lastHarvest 仅在收割确认后、下一个tick之前有效，供再入场规划使用
	lastHarvest *HarvestReceipt
}

// New anchors a fresh engine on the current holdings at the current price.
func New(cfg Config, filters market.SymbolFilters, qty, price decimal.Decimal) *Engine {
	return &Engine{
		cfg:     cfg,
		filters: filters,
		pos:     newPosition(qty, price),
		state:   StateActive,
	}
}

// State returns the engine lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// Position returns a copy of the current position state.
func (e *Engine) Position() Position {
	return e.pos
}

// ATRAvailable reports whether ATR-dependent behavior is active.
func (e *Engine) ATRAvailable() bool {
	return e.cfg.UseATRStop && e.vol.Available()
}

// ATR returns the current volatility estimate.
func (e *Engine) ATR() decimal.Decimal {
	return e.vol.ATR()
}

// ShouldRefreshATR 判断本tick是否需要重算ATR
func (e *Engine) ShouldRefreshATR(now time.Time) bool {
	if !e.cfg.UseATRStop {
		return false
	}
	return e.vol.ShouldRefresh(now, e.cfg.ATRRefreshInterval)
}

// UpdateATR recomputes the ATR from fresh bars. ErrInsufficientData (or
// any other failure upstream) leaves the previous estimate in place.
func (e *Engine) UpdateATR(bars []market.Kline, now time.Time) error {
	return e.vol.Update(bars, e.cfg.ATRPeriod, now)
}

// NoteATRAttempt marks a failed refresh attempt (e.g. the kline fetch
// itself failed) so the next retry waits for the schedule.
func (e *Engine) NoteATRAttempt(now time.Time) {
	e.vol.noteAttempt(now)
}

// Tick evaluates the trigger chain for one price/balance snapshot and
// returns at most one sell action. Trigger priority is fixed: ATR
// trailing stop, portfolio stop, profit harvest. A trigger whose
// normalized quantity fails the lot/notional checks degrades to no
// action for this tick instead of erroring.
func (e *Engine) Tick(snap Snapshot) Action {
	// 新tick开始后，上一次收割的再入场窗口即关闭
	e.lastHarvest = nil

	if e.state == StateStopped || snap.Quantity.Sign() <= 0 {
		return Action{Type: ActionNone}
	}

	e.updateTrailingStop(snap.Price)

	currentValue := snap.Quantity.Mul(snap.Price)

	// 1. ATR追踪止损
	if e.ATRAvailable() {
		if stop, ok := e.pos.Stop(); ok && snap.Price.LessThanOrEqual(stop) {
			if qty, ok := e.sellableQty(snap.Quantity, snap.Price); ok {
				return Action{
					Type:   ActionATRStopSell,
					Qty:    qty,
					Reason: fmt.Sprintf("价格 %s 跌破追踪止损 %s", snap.Price, stop),
				}
			}
			// 碎仓：不足最小订单价值时视为未触发，避免清算粉尘
		}
	}

	// 2. 组合止损（与ATR无关）
	stopValue := e.pos.BaselineValue.Mul(decimal.NewFromInt(1).Sub(e.cfg.StopLossPct))
	if currentValue.LessThanOrEqual(stopValue) {
		if qty, ok := e.sellableQty(snap.Quantity, snap.Price); ok {
			return Action{
				Type:   ActionPortfolioStopSell,
				Qty:    qty,
				Reason: fmt.Sprintf("市值 %s 跌破组合止损线 %s", currentValue, stopValue),
			}
		}
	}

	// 3. 收割利润：只卖出利润切片，剩余仓位继续以新基线复利
	targetValue := e.pos.BaselineValue.Mul(decimal.NewFromInt(1).Add(e.effectiveTargetPct(snap.Price)))
	if currentValue.GreaterThanOrEqual(targetValue) {
		profitQty := currentValue.Sub(e.pos.BaselineValue).Div(snap.Price)
		if qty, ok := e.sellableQty(profitQty, snap.Price); ok {
			return Action{
				Type:   ActionProfitHarvestSell,
				Qty:    qty,
				Reason: fmt.Sprintf("市值 %s 达到目标 %s", currentValue, targetValue),
			}
		}
	}

	return Action{Type: ActionNone}
}

// updateTrailingStop ratchets the stop toward price − multiplier×ATR.
// The stop only ever moves up.
func (e *Engine) updateTrailingStop(price decimal.Decimal) {
	if !e.ATRAvailable() {
		return
	}
	candidate := price.Sub(e.cfg.ATRMultiplier.Mul(e.vol.ATR()))
	e.pos.ratchet(candidate)
}

// effectiveTargetPct widens the fixed harvest target in volatile regimes:
// max(fixed, multiplier×ATR/price/2) when ATR is available.
func (e *Engine) effectiveTargetPct(price decimal.Decimal) decimal.Decimal {
	if !e.ATRAvailable() || price.Sign() <= 0 {
		return e.cfg.TargetPct
	}
	atrPct := e.cfg.ATRMultiplier.Mul(e.vol.ATR()).Div(price)
	dynamic := atrPct.Div(decimal.NewFromInt(2))
	if dynamic.GreaterThan(e.cfg.TargetPct) {
		return dynamic
	}
	return e.cfg.TargetPct
}

// sellableQty normalizes a desired sell size against the venue filters.
// ok is false when the rounded quantity is zero, under the minimum lot
// or under the minimum notional.
func (e *Engine) sellableQty(desired, price decimal.Decimal) (decimal.Decimal, bool) {
	qty := FloorToStep(desired, e.filters.StepSize)
	if qty.Sign() <= 0 {
		return decimal.Zero, false
	}
	if e.filters.MinQty.Sign() > 0 && qty.LessThan(e.filters.MinQty) {
		return decimal.Zero, false
	}
	if !MeetsNotional(qty, price, e.filters.MinNotional) {
		return decimal.Zero, false
	}
	return qty, true
}

// fillPrice picks the execution average when the venue reported one,
// falling back to the tick price (dry-run fills carry no average).
func fillPrice(res ExecutionResult, tickPrice decimal.Decimal) decimal.Decimal {
	if res.AvgPrice.Sign() > 0 {
		return res.AvgPrice
	}
	return tickPrice
}

// ApplyHarvest books a confirmed profit-harvest fill: realizes the
// slice's P&L against its entry cost, rebases baseline/entry onto the
// post-settlement balance and re-arms the stop from the new entry. The
// returned receipt also opens the re-entry window.
func (e *Engine) ApplyHarvest(res ExecutionResult, price, settledQty decimal.Decimal) HarvestReceipt {
	soldQty := res.ExecutedQty
	fill := fillPrice(res, price)
	proceeds := soldQty.Mul(fill)
	realized := proceeds.Sub(soldQty.Mul(e.pos.EntryPrice))

	receipt := HarvestReceipt{
		SoldQty:     soldQty,
		FillPrice:   fill,
		Proceeds:    proceeds,
		Realized:    realized,
		EntryBefore: e.pos.EntryPrice,
	}

	e.pos.CumulativeRealized = e.pos.CumulativeRealized.Add(realized)
	receipt.Cumulative = e.pos.CumulativeRealized

	e.pos.rebase(settledQty, price)
	e.rearmStop()

	e.lastHarvest = &receipt
	return receipt
}

// ApplyStop books a confirmed full liquidation and moves the engine to
// its terminal state.
func (e *Engine) ApplyStop(res ExecutionResult, price decimal.Decimal) HarvestReceipt {
	soldQty := res.ExecutedQty
	fill := fillPrice(res, price)
	proceeds := soldQty.Mul(fill)
	realized := proceeds.Sub(soldQty.Mul(e.pos.EntryPrice))

	e.pos.CumulativeRealized = e.pos.CumulativeRealized.Add(realized)
	e.pos.Quantity = e.pos.Quantity.Sub(soldQty)
	e.state = StateStopped

	return HarvestReceipt{
		SoldQty:     soldQty,
		FillPrice:   fill,
		Proceeds:    proceeds,
		Realized:    realized,
		Cumulative:  e.pos.CumulativeRealized,
		EntryBefore: e.pos.EntryPrice,
	}
}

// ApplyReentry rebases onto the post-settlement balance after a
// confirmed buy-back and closes the re-entry window.
func (e *Engine) ApplyReentry(price, settledQty decimal.Decimal) {
	e.pos.rebase(settledQty, price)
	e.rearmStop()
	e.lastHarvest = nil
}

// rearmStop recomputes the stop from the freshly rebased entry price.
// This is the one deliberate exception to the ratchet: after a harvest
// or re-entry the stop anchors to the new cost basis.
func (e *Engine) rearmStop() {
	if !e.ATRAvailable() {
		return
	}
	stop := e.pos.EntryPrice.Sub(e.cfg.ATRMultiplier.Mul(e.vol.ATR()))
	e.pos.StopPrice = &stop
}
