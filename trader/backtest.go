package trader

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"harvester/engine"
	"harvester/logger"
	"harvester/market"
)

// BacktestParams tunes the execution model of the replay: fills take a
// slippage haircut on price and a fee haircut on proceeds.
type BacktestParams struct {
	InitialQty decimal.Decimal
	Slippage   decimal.Decimal
	FeeRate    decimal.Decimal
}

// BacktestTrade is one simulated execution.
type BacktestTrade struct {
	Bar      int
	Time     time.Time
	Kind     string
	Qty      decimal.Decimal
	Price    decimal.Decimal
	Realized decimal.Decimal
}

// BacktestResult summarizes a replay.
type BacktestResult struct {
	Trades             []BacktestTrade
	CumulativeRealized decimal.Decimal
	FinalQty           decimal.Decimal
	FinalValue         decimal.Decimal
	Stopped            bool
}

// Backtest replays close prices through the decision engine, bar by
// bar. The ATR warms up on the first cfg.ATRPeriod+1 bars; ticks start
// after the warm-up. Ladder rungs rest like real limit orders and fill
// when a later bar trades through their price; ladder fills grow the
// balance without rebasing the baseline, matching the live system.
func Backtest(cfg engine.Config, filters market.SymbolFilters, bars []market.Kline, p BacktestParams) (BacktestResult, error) {
	warmup := cfg.ATRPeriod + 1
	if len(bars) <= warmup {
		return BacktestResult{}, fmt.Errorf("回测需要至少 %d 根K线，实际 %d 根", warmup+1, len(bars))
	}
	if p.InitialQty.Sign() <= 0 {
		return BacktestResult{}, fmt.Errorf("回测初始持仓必须为正数")
	}

	one := decimal.NewFromInt(1)
	sellHaircut := one.Sub(p.Slippage).Mul(one.Sub(p.FeeRate))

	eng := engine.New(cfg, filters, p.InitialQty, bars[warmup-1].Close)
	qty := p.InitialQty
	var (
		result  BacktestResult
		resting []engine.LadderRung
	)

	for i := warmup; i < len(bars); i++ {
		bar := bars[i]
		barTime := time.UnixMilli(bar.CloseTime).UTC()

		// 挂单成交：价格触及限价即按限价买入
		if len(resting) > 0 {
			kept := resting[:0]
			for _, rung := range resting {
				if bar.Low.LessThanOrEqual(rung.LimitPrice) {
					qty = qty.Add(rung.Qty)
					result.Trades = append(result.Trades, BacktestTrade{
						Bar: i, Time: barTime, Kind: "ladder_fill",
						Qty: rung.Qty, Price: rung.LimitPrice,
					})
				} else {
					kept = append(kept, rung)
				}
			}
			resting = kept
		}

		if err := eng.UpdateATR(bars[:i+1], barTime); err != nil {
			logger.Debugf("  ⚠️ 回测ATR计算失败 bar=%d: %v", i, err)
		}

		action := eng.Tick(engine.Snapshot{Price: bar.Close, Quantity: qty, Time: barTime})
		if action.Type == engine.ActionNone {
			continue
		}

		fill := bar.Close.Mul(sellHaircut)
		res := engine.ExecutionResult{ExecutedQty: action.Qty, AvgPrice: fill}
		qty = qty.Sub(action.Qty)

		if action.IsStop() {
			receipt := eng.ApplyStop(res, bar.Close)
			result.Trades = append(result.Trades, BacktestTrade{
				Bar: i, Time: barTime, Kind: action.Type.String(),
				Qty: receipt.SoldQty, Price: receipt.FillPrice, Realized: receipt.Realized,
			})
			result.Stopped = true
			break
		}

		receipt := eng.ApplyHarvest(res, bar.Close, qty)
		result.Trades = append(result.Trades, BacktestTrade{
			Bar: i, Time: barTime, Kind: action.Type.String(),
			Qty: receipt.SoldQty, Price: receipt.FillPrice, Realized: receipt.Realized,
		})

		reentry := eng.PlanReentry(bar.Close)
		switch reentry.Type {
		case engine.ActionReentryMarketBuy:
			buyPrice := bar.Close.Mul(one.Add(p.Slippage))
			bought := engine.FloorToStep(reentry.QuoteQty.Div(buyPrice).Mul(one.Sub(p.FeeRate)), filters.StepSize)
			if bought.Sign() > 0 {
				qty = qty.Add(bought)
				eng.ApplyReentry(bar.Close, qty)
				result.Trades = append(result.Trades, BacktestTrade{
					Bar: i, Time: barTime, Kind: reentry.Type.String(),
					Qty: bought, Price: buyPrice,
				})
			}
		case engine.ActionReentryLadderBuy:
			resting = append(resting, reentry.Rungs...)
		}
	}

	pos := eng.Position()
	result.CumulativeRealized = pos.CumulativeRealized
	result.FinalQty = qty
	result.FinalValue = qty.Mul(bars[len(bars)-1].Close)
	return result, nil
}
