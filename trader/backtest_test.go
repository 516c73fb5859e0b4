package trader

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/engine"
	"harvester/market"
)

func flatBar(i int, close string) market.Kline {
	c := dec(close)
	return market.Kline{
		OpenTime:  int64(i) * 300_000,
		CloseTime: int64(i+1)*300_000 - 1,
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    dec("1"),
	}
}

func backtestConfig() engine.Config {
	return engine.Config{
		TargetPct:            dec("0.005"),
		StopLossPct:          dec("0.10"),
		ATRPeriod:            14,
		ATRMultiplier:        dec("1.5"),
		UseATRStop:           false,
		ATRRefreshInterval:   5 * time.Minute,
		ReentryMode:          engine.ReentryNone,
		ReentryFraction:      dec("0.5"),
		ReentryDropThreshold: dec("0.02"),
		LadderOrders:         5,
		LadderSpacing:        dec("0.15"),
	}
}

func TestBacktestHarvest(t *testing.T) {
	// 15 根预热 + 1 根上涨 1%：触发一次收割
	bars := make([]market.Kline, 0, 17)
	for i := 0; i < 16; i++ {
		bars = append(bars, flatBar(i, "10000"))
	}
	bars = append(bars, flatBar(16, "10100"))

	result, err := Backtest(backtestConfig(), testFilters(), bars, BacktestParams{
		InitialQty: dec("1"),
		Slippage:   decimal.Zero,
		FeeRate:    decimal.Zero,
	})
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, "profit_harvest_sell", trade.Kind)
	assert.True(t, trade.Realized.GreaterThan(decimal.Zero))
	assert.True(t, result.CumulativeRealized.Equal(trade.Realized))
	assert.False(t, result.Stopped)
	assert.True(t, result.FinalQty.LessThan(dec("1")))
}

func TestBacktestStopEndsReplay(t *testing.T) {
	bars := make([]market.Kline, 0, 20)
	for i := 0; i < 16; i++ {
		bars = append(bars, flatBar(i, "10000"))
	}
	// 跌穿组合止损线后的K线不应再产生交易
	bars = append(bars, flatBar(16, "8900"), flatBar(17, "9500"), flatBar(18, "10100"))

	result, err := Backtest(backtestConfig(), testFilters(), bars, BacktestParams{
		InitialQty: dec("1"),
		Slippage:   decimal.Zero,
		FeeRate:    decimal.Zero,
	})
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, "portfolio_stop_sell", result.Trades[0].Kind)
	assert.True(t, result.Stopped)
	assert.True(t, result.CumulativeRealized.LessThan(decimal.Zero))
	assert.True(t, result.FinalQty.IsZero())
}

func TestBacktestFeesReduceRealized(t *testing.T) {
	bars := make([]market.Kline, 0, 17)
	for i := 0; i < 16; i++ {
		bars = append(bars, flatBar(i, "10000"))
	}
	bars = append(bars, flatBar(16, "10100"))

	gross, err := Backtest(backtestConfig(), testFilters(), bars, BacktestParams{
		InitialQty: dec("1"), Slippage: decimal.Zero, FeeRate: decimal.Zero,
	})
	require.NoError(t, err)

	net, err := Backtest(backtestConfig(), testFilters(), bars, BacktestParams{
		InitialQty: dec("1"), Slippage: dec("0.0005"), FeeRate: dec("0.001"),
	})
	require.NoError(t, err)

	assert.True(t, net.CumulativeRealized.LessThan(gross.CumulativeRealized))
}

func TestBacktestInputValidation(t *testing.T) {
	_, err := Backtest(backtestConfig(), testFilters(), []market.Kline{flatBar(0, "10000")}, BacktestParams{
		InitialQty: dec("1"),
	})
	assert.Error(t, err)

	bars := make([]market.Kline, 0, 20)
	for i := 0; i < 20; i++ {
		bars = append(bars, flatBar(i, "10000"))
	}
	_, err = Backtest(backtestConfig(), testFilters(), bars, BacktestParams{InitialQty: decimal.Zero})
	assert.Error(t, err)
}
