package engine

import "github.com/shopspring/decimal"

// Position is the engine's view of the tracked holding. It is owned by
// exactly one engine instance and mutated only after a confirmed
// execution (Apply* methods) or by the stop-price ratchet.
type Position struct {
	// Quantity 最近一次确认成交后的持仓数量
	Quantity decimal.Decimal
	// BaselineValue 上次建仓/收割后锚定的计价货币价值
	BaselineValue decimal.Decimal
	// EntryPrice 当前批次的成本价
	EntryPrice decimal.Decimal
	// StopPrice ATR 追踪止损价；nil 表示尚未设置。只允许上移（棘轮）
	StopPrice *decimal.Decimal
	// CumulativeRealized 本次运行累计已实现盈亏
	CumulativeRealized decimal.Decimal
}

// newPosition anchors the baseline at the current holdings' value.
func newPosition(qty, price decimal.Decimal) Position {
	return Position{
		Quantity:      qty,
		BaselineValue: qty.Mul(price),
		EntryPrice:    price,
	}
}

// ratchet raises the stop price to candidate when it improves on the
// stored stop. The stop never moves down.
func (p *Position) ratchet(candidate decimal.Decimal) bool {
	if p.StopPrice == nil || candidate.GreaterThan(*p.StopPrice) {
		c := candidate
		p.StopPrice = &c
		return true
	}
	return false
}

// rebase re-anchors baseline and entry at the post-settlement holdings.
func (p *Position) rebase(qty, price decimal.Decimal) {
	p.Quantity = qty
	p.BaselineValue = qty.Mul(price)
	p.EntryPrice = price
}

// Stop returns the stop price and whether one is set. Value receiver:
// callers read it off the copy returned by Engine.Position.
func (p Position) Stop() (decimal.Decimal, bool) {
	if p.StopPrice == nil {
		return decimal.Zero, false
	}
	return *p.StopPrice, true
}
