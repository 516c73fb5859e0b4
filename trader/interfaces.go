// Package trader owns the control loop: it feeds market snapshots into
// the decision engine, dispatches the resulting actions to an executor
// and keeps humans informed. Collaborators are interfaces so the loop
// and backtester run against fakes.
package trader

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"harvester/engine"
	"harvester/market"
)

// ErrOrderRejected marks a venue-side order rejection (bad filter, no
// balance). The position is untouched and the loop keeps running.
var ErrOrderRejected = errors.New("订单被交易所拒绝")

// MarketProvider supplies the read-side market data the loop consumes.
type MarketProvider interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	RecentBars(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error)
	AccountBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	SymbolFilters(ctx context.Context, symbol string) (market.SymbolFilters, error)
}

// OrderExecutor places orders. Implementations: live venue and dry run.
type OrderExecutor interface {
	MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (engine.ExecutionResult, error)
	MarketBuyByQuote(ctx context.Context, symbol string, quote decimal.Decimal) (engine.ExecutionResult, error)
	LimitBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) (string, error)
}

// Notifier pushes human-readable event messages. A notifier failure is
// logged and swallowed; it never aborts a tick.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
