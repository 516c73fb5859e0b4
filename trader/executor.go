package trader

import (
	"context"
	"errors"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"harvester/engine"
	"harvester/logger"
)

// BinanceExecutor places real orders on the venue. Every order carries a
// fresh client order ID so retried submissions stay distinguishable in
// the venue's order history.
type BinanceExecutor struct {
	client *binance.Client
}

// NewBinanceExecutor wraps an authenticated venue client.
func NewBinanceExecutor(client *binance.Client) *BinanceExecutor {
	return &BinanceExecutor{client: client}
}

func clientOrderID() string {
	return "hrv-" + uuid.NewString()[:18]
}

// wrapOrderErr folds venue API errors into ErrOrderRejected so the loop
// can tell a rejection from a transport failure.
func wrapOrderErr(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", ErrOrderRejected, apiErr)
	}
	return err
}

func toResult(res *binance.CreateOrderResponse) (engine.ExecutionResult, error) {
	executed, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return engine.ExecutionResult{}, fmt.Errorf("解析成交数量失败: %w", err)
	}
	quote, err := decimal.NewFromString(res.CummulativeQuoteQuantity)
	if err != nil {
		return engine.ExecutionResult{}, fmt.Errorf("解析成交金额失败: %w", err)
	}
	out := engine.ExecutionResult{ExecutedQty: executed}
	if executed.Sign() > 0 {
		out.AvgPrice = quote.Div(executed)
	}
	return out, nil
}

// MarketSell submits a market sell and returns the confirmed fill.
func (e *BinanceExecutor) MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (engine.ExecutionResult, error) {
	res, err := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		NewClientOrderID(clientOrderID()).
		Do(ctx)
	if err != nil {
		return engine.ExecutionResult{}, wrapOrderErr(err)
	}
	logger.Infof("  ✅ 市价卖出已成交 %s: qty=%s quote=%s", symbol, res.ExecutedQuantity, res.CummulativeQuoteQuantity)
	return toResult(res)
}

// MarketBuyByQuote submits a market buy sized by quote amount.
func (e *BinanceExecutor) MarketBuyByQuote(ctx context.Context, symbol string, quote decimal.Decimal) (engine.ExecutionResult, error) {
	res, err := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(quote.String()).
		NewClientOrderID(clientOrderID()).
		Do(ctx)
	if err != nil {
		return engine.ExecutionResult{}, wrapOrderErr(err)
	}
	logger.Infof("  ✅ 市价买入已成交 %s: qty=%s quote=%s", symbol, res.ExecutedQuantity, res.CummulativeQuoteQuantity)
	return toResult(res)
}

// LimitBuy places a GTC limit buy and returns the venue order ID. Limit
// rungs rest on the book; fills are not tracked by this system.
func (e *BinanceExecutor) LimitBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) (string, error) {
	res, err := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(qty.String()).
		Price(price.String()).
		NewClientOrderID(clientOrderID()).
		Do(ctx)
	if err != nil {
		return "", wrapOrderErr(err)
	}
	logger.Infof("  ✅ 限价买单已挂出 %s: qty=%s price=%s id=%d", symbol, qty, price, res.OrderID)
	return fmt.Sprintf("%d", res.OrderID), nil
}

// DryRunExecutor simulates fills without touching the venue: sells and
// quote buys fill in full at the price the caller will fall back to
// (AvgPrice stays zero), limit buys return a synthetic ID.
type DryRunExecutor struct{}

// MarketSell pretends the full quantity filled.
func (DryRunExecutor) MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (engine.ExecutionResult, error) {
	logger.Infof("  🧪 [DRY RUN] 市价卖出 %s qty=%s", symbol, qty)
	return engine.ExecutionResult{ExecutedQty: qty}, nil
}

// MarketBuyByQuote pretends the quote amount was spent; the loop derives
// the filled quantity from the settlement balance re-fetch.
func (DryRunExecutor) MarketBuyByQuote(ctx context.Context, symbol string, quote decimal.Decimal) (engine.ExecutionResult, error) {
	logger.Infof("  🧪 [DRY RUN] 市价买入 %s quote=%s", symbol, quote)
	return engine.ExecutionResult{}, nil
}

// LimitBuy pretends the rung was accepted.
func (DryRunExecutor) LimitBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) (string, error) {
	logger.Infof("  🧪 [DRY RUN] 限价买单 %s qty=%s price=%s", symbol, qty, price)
	return "dry-" + uuid.NewString()[:8], nil
}
