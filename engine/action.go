// Package engine implements the position risk/harvest decision core:
// a per-tick state machine that ratchets an ATR trailing stop, fires
// stop/harvest triggers in strict priority and plans post-harvest
// re-entry. It holds no network code; collaborators feed it snapshots
// and confirmed execution results.
package engine

import "github.com/shopspring/decimal"

// ActionType enumerates everything the engine can ask the executor to do.
type ActionType int

const (
	ActionNone ActionType = iota
	ActionATRStopSell
	ActionPortfolioStopSell
	ActionProfitHarvestSell
	ActionReentryMarketBuy
	ActionReentryLadderBuy
)

// LadderRung is one limit order of a ladder re-entry.
type LadderRung struct {
	Qty        decimal.Decimal
	LimitPrice decimal.Decimal
}

// Action is the single decision an engine tick can emit. Sell actions
// carry Qty, a market re-entry carries QuoteQty, a ladder carries Rungs.
// Reason is a human readable explanation for logs and notifications.
type Action struct {
	Type     ActionType
	Qty      decimal.Decimal
	QuoteQty decimal.Decimal
	Rungs    []LadderRung
	Reason   string
}

// IsSell reports whether the action liquidates part or all of the position.
func (a Action) IsSell() bool {
	switch a.Type {
	case ActionATRStopSell, ActionPortfolioStopSell, ActionProfitHarvestSell:
		return true
	}
	return false
}

// IsStop reports whether the action is a full stop-loss liquidation.
func (a Action) IsStop() bool {
	return a.Type == ActionATRStopSell || a.Type == ActionPortfolioStopSell
}

func (t ActionType) String() string {
	switch t {
	case ActionNone:
		return "none"
	case ActionATRStopSell:
		return "atr_stop_sell"
	case ActionPortfolioStopSell:
		return "portfolio_stop_sell"
	case ActionProfitHarvestSell:
		return "profit_harvest_sell"
	case ActionReentryMarketBuy:
		return "reentry_market_buy"
	case ActionReentryLadderBuy:
		return "reentry_ladder_buy"
	default:
		return "unknown"
	}
}
