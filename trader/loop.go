package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"harvester/config"
	"harvester/engine"
	"harvester/journal"
	"harvester/logger"
	"harvester/market"
	"harvester/retry"
	"harvester/web"
)

// Status is the snapshot published to the status server after every tick.
type Status struct {
	Symbol             string           `json:"symbol"`
	State              string           `json:"state"`
	Price              decimal.Decimal  `json:"price"`
	Value              decimal.Decimal  `json:"value"`
	Baseline           decimal.Decimal  `json:"baseline"`
	StopPrice          *decimal.Decimal `json:"stop_price,omitempty"`
	ATR                decimal.Decimal  `json:"atr"`
	ATRAvailable       bool             `json:"atr_available"`
	CumulativeRealized decimal.Decimal  `json:"cumulative_realized"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Loop drives one symbol: fetch snapshot, ask the engine, dispatch the
// action, book the result. Strictly synchronous; cancellation is only
// honored between ticks, never in the middle of an action.
type Loop struct {
	cfg     *config.Config
	mkt     MarketProvider
	exec    OrderExecutor
	notify  Notifier
	jnl     *journal.Journal
	srv     *web.Server
	filters market.SymbolFilters
	eng     *engine.Engine

	// sleep 可注入，测试时替换为瞬时返回
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewLoop assembles a loop; jnl and srv may be nil.
func NewLoop(cfg *config.Config, mkt MarketProvider, exec OrderExecutor, notify Notifier, jnl *journal.Journal, srv *web.Server) *Loop {
	return &Loop{
		cfg:    cfg,
		mkt:    mkt,
		exec:   exec,
		notify: notify,
		jnl:    jnl,
		srv:    srv,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (l *Loop) retryCount() int { return l.cfg.MaxRetries }

// Run initializes the position from the live account and polls until
// cancellation, a stop-loss liquidation or an unexpected failure.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.initialize(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			logger.Infof("👋 收到退出信号，循环结束")
			return nil
		default:
		}

		stopped, err := l.tick(ctx)
		if err != nil {
			l.tryNotify(ctx, fmt.Sprintf("🚨 Harvester %s halted on unexpected error: %v", l.cfg.Symbol, err))
			return err
		}
		if stopped {
			return nil
		}

		if err := l.sleep(ctx, l.cfg.CheckInterval); err != nil {
			return nil
		}
	}
}

func (l *Loop) initialize(ctx context.Context) error {
	filters, err := retry.Do(ctx, "获取交易规则", l.retryCount(), l.cfg.BackoffBase,
		func(ctx context.Context) (market.SymbolFilters, error) {
			return l.mkt.SymbolFilters(ctx, l.cfg.Symbol)
		})
	if err != nil {
		return fmt.Errorf("初始化失败: %w", err)
	}
	if filters.MinNotional.Sign() <= 0 {
		// 交易所未提供最小订单价值过滤器：用配置兜底，保住碎仓保护
		filters.MinNotional = l.cfg.MinNotionalFallback
		logger.Warnf("  ⚠️ %s 未返回最小订单价值过滤器，使用兜底值 %s", l.cfg.Symbol, filters.MinNotional)
	}
	l.filters = filters

	price, err := retry.Do(ctx, "获取最新价格", l.retryCount(), l.cfg.BackoffBase,
		func(ctx context.Context) (decimal.Decimal, error) {
			return l.mkt.CurrentPrice(ctx, l.cfg.Symbol)
		})
	if err != nil {
		return fmt.Errorf("初始化失败: %w", err)
	}

	qty, err := retry.Do(ctx, "获取账户余额", l.retryCount(), l.cfg.BackoffBase,
		func(ctx context.Context) (decimal.Decimal, error) {
			return l.mkt.AccountBalance(ctx, filters.BaseAsset)
		})
	if err != nil {
		return fmt.Errorf("初始化失败: %w", err)
	}
	if qty.Sign() <= 0 {
		return fmt.Errorf("账户无 %s 持仓，无法启动", filters.BaseAsset)
	}

	l.eng = engine.New(l.cfg.EngineConfig(), filters, qty, price)
	l.refreshATR(ctx)

	pos := l.eng.Position()
	logger.Infof("🚀 启动 %s: 持仓=%s 价格=%s 基线=%s", l.cfg.Symbol, pos.Quantity, price, pos.BaselineValue)
	l.tryNotify(ctx, fmt.Sprintf(
		"🚀 Harvester started for %s\nQty: %s\nPrice: %s\nBaseline: %s\nTarget: +%s%% | Stop: -%s%%",
		l.cfg.Symbol, pos.Quantity, price, pos.BaselineValue,
		l.cfg.TargetPct.Mul(decimal.NewFromInt(100)), l.cfg.StopLossPct.Mul(decimal.NewFromInt(100))))
	return nil
}

// tick runs one evaluate/dispatch cycle. A data-fetch failure skips the
// tick; only errors after an order was dispatched propagate as fatal.
func (l *Loop) tick(ctx context.Context) (stopped bool, err error) {
	now := l.now()

	price, ferr := retry.Do(ctx, "获取最新价格", l.retryCount(), l.cfg.BackoffBase,
		func(ctx context.Context) (decimal.Decimal, error) {
			return l.mkt.CurrentPrice(ctx, l.cfg.Symbol)
		})
	if ferr != nil {
		logger.Errorf("  ❌ 本tick跳过: %v", ferr)
		return false, nil
	}

	qty, ferr := retry.Do(ctx, "获取账户余额", l.retryCount(), l.cfg.BackoffBase,
		func(ctx context.Context) (decimal.Decimal, error) {
			return l.mkt.AccountBalance(ctx, l.filters.BaseAsset)
		})
	if ferr != nil {
		logger.Errorf("  ❌ 本tick跳过: %v", ferr)
		return false, nil
	}

	if l.eng.ShouldRefreshATR(now) {
		l.refreshATR(ctx)
	}

	action := l.eng.Tick(engine.Snapshot{Price: price, Quantity: qty, Time: now})
	l.publishStatus(price, qty)

	if action.Type == engine.ActionNone {
		return false, nil
	}
	return l.dispatch(ctx, action, price)
}

// refreshATR recomputes the volatility estimate; any failure keeps the
// previous value and is only logged.
func (l *Loop) refreshATR(ctx context.Context) {
	if !l.cfg.UseATRStop {
		return
	}
	limit := l.cfg.ATRPeriod + 2
	bars, err := retry.Do(ctx, "获取K线", l.retryCount(), l.cfg.BackoffBase,
		func(ctx context.Context) ([]market.Kline, error) {
			return l.mkt.RecentBars(ctx, l.cfg.Symbol, l.cfg.KlineInterval, limit)
		})
	if err != nil {
		l.eng.NoteATRAttempt(l.now())
		logger.Warnf("  ⚠️ ATR刷新失败，沿用旧值: %v", err)
		return
	}
	if err := l.eng.UpdateATR(bars, l.now()); err != nil {
		logger.Warnf("  ⚠️ ATR计算失败: %v", err)
		return
	}
	logger.Debugf("  📐 ATR已刷新: %s", l.eng.ATR())
}

// dispatch executes one sell action end to end: intent notification,
// order, settlement wait, balance re-fetch, engine bookkeeping, outcome
// notification, journal row. Harvest then evaluates re-entry.
func (l *Loop) dispatch(ctx context.Context, action engine.Action, price decimal.Decimal) (stopped bool, err error) {
	logger.Infof("🎯 触发 %s: %s", action.Type, action.Reason)
	l.tryNotify(ctx, fmt.Sprintf("🎯 %s %s\nQty: %s\nPrice: %s", action.Type, l.cfg.Symbol, action.Qty, price))

	res, err := l.exec.MarketSell(ctx, l.cfg.Symbol, action.Qty)
	if err != nil {
		if errors.Is(err, ErrOrderRejected) {
			logger.Errorf("  ❌ 卖单被拒绝，仓位不变: %v", err)
			l.tryNotify(ctx, fmt.Sprintf("❌ Sell rejected for %s: %v", l.cfg.Symbol, err))
			return false, nil
		}
		return false, fmt.Errorf("卖单执行失败: %w", err)
	}
	if res.ExecutedQty.Sign() <= 0 {
		// 干跑模式不返回成交均价/数量，按计划数量入账
		res.ExecutedQty = action.Qty
	}

	settledQty := l.settle(ctx, l.eng.Position().Quantity.Sub(res.ExecutedQty))

	if action.IsStop() {
		receipt := l.eng.ApplyStop(res, price)
		logger.Infof("🛑 止损完成: 卖出=%s 实现盈亏=%s 累计=%s", receipt.SoldQty, receipt.Realized, receipt.Cumulative)
		l.tryNotify(ctx, fmt.Sprintf(
			"🛑 Stop-loss executed for %s\nSold: %s @ %s\nRealized: %s\nCumulative: %s\nTrading stopped.",
			l.cfg.Symbol, receipt.SoldQty, receipt.FillPrice, receipt.Realized, receipt.Cumulative))
		l.record(ctx, action.Type.String(), receipt)
		return true, nil
	}

	receipt := l.eng.ApplyHarvest(res, price, settledQty)
	logger.Infof("🌾 收割完成: 卖出=%s 所得=%s 实现盈亏=%s 新基线=%s",
		receipt.SoldQty, receipt.Proceeds, receipt.Realized, l.eng.Position().BaselineValue)
	l.tryNotify(ctx, fmt.Sprintf(
		"🌾 Profit harvested for %s\nSold: %s @ %s\nProceeds: %s\nRealized: %s\nCumulative: %s\nNew baseline: %s",
		l.cfg.Symbol, receipt.SoldQty, receipt.FillPrice, receipt.Proceeds,
		receipt.Realized, receipt.Cumulative, l.eng.Position().BaselineValue))
	l.record(ctx, action.Type.String(), receipt)

	l.maybeReenter(ctx, price)
	return false, nil
}

// settle waits the fixed settlement delay then re-reads the balance.
// When the re-fetch fails the computed fallback keeps the books moving.
func (l *Loop) settle(ctx context.Context, fallback decimal.Decimal) decimal.Decimal {
	_ = l.sleep(ctx, l.cfg.SettlementDelay)
	qty, err := retry.Do(ctx, "获取结算后余额", l.retryCount(), l.cfg.BackoffBase,
		func(ctx context.Context) (decimal.Decimal, error) {
			return l.mkt.AccountBalance(ctx, l.filters.BaseAsset)
		})
	if err != nil {
		logger.Warnf("  ⚠️ 结算后余额获取失败，使用推算值 %s: %v", fallback, err)
		return fallback
	}
	return qty
}

// maybeReenter plans and executes a buy-back inside the post-harvest
// window. Re-entry failures never abort the loop.
func (l *Loop) maybeReenter(ctx context.Context, sellPrice decimal.Decimal) {
	price, err := retry.Do(ctx, "获取再入场价格", l.retryCount(), l.cfg.BackoffBase,
		func(ctx context.Context) (decimal.Decimal, error) {
			return l.mkt.CurrentPrice(ctx, l.cfg.Symbol)
		})
	if err != nil {
		logger.Warnf("  ⚠️ 再入场价格获取失败，使用卖出价: %v", err)
		price = sellPrice
	}

	action := l.eng.PlanReentry(price)
	switch action.Type {
	case engine.ActionReentryMarketBuy:
		logger.Infof("🔄 再入场(市价): %s", action.Reason)
		l.tryNotify(ctx, fmt.Sprintf("🔄 Re-entry buy for %s\nQuote: %s", l.cfg.Symbol, action.QuoteQty))
		res, err := l.exec.MarketBuyByQuote(ctx, l.cfg.Symbol, action.QuoteQty)
		if err != nil {
			logger.Errorf("  ❌ 再入场买单失败: %v", err)
			l.tryNotify(ctx, fmt.Sprintf("❌ Re-entry buy failed for %s: %v", l.cfg.Symbol, err))
			return
		}
		settledQty := l.settle(ctx, l.eng.Position().Quantity.Add(res.ExecutedQty))
		l.eng.ApplyReentry(price, settledQty)
		boughtQty := res.ExecutedQty
		if boughtQty.Sign() <= 0 && price.Sign() > 0 {
			boughtQty = action.QuoteQty.Div(price)
		}
		l.record(ctx, action.Type.String(), engine.HarvestReceipt{
			SoldQty:   boughtQty,
			FillPrice: price,
			Proceeds:  action.QuoteQty.Neg(),
		})
		l.tryNotify(ctx, fmt.Sprintf("✅ Re-entry filled for %s\nNew baseline: %s", l.cfg.Symbol, l.eng.Position().BaselineValue))

	case engine.ActionReentryLadderBuy:
		logger.Infof("🔄 再入场(阶梯): %s", action.Reason)
		placed := 0
		for _, rung := range action.Rungs {
			if _, err := l.exec.LimitBuy(ctx, l.cfg.Symbol, rung.Qty, rung.LimitPrice); err != nil {
				logger.Errorf("  ❌ 阶梯买单失败 qty=%s price=%s: %v", rung.Qty, rung.LimitPrice, err)
				continue
			}
			placed++
		}
		l.tryNotify(ctx, fmt.Sprintf("🪜 Ladder re-entry for %s: %d/%d limit orders placed",
			l.cfg.Symbol, placed, len(action.Rungs)))
	}
}

// record appends one journal row; journal failures are logged only.
func (l *Loop) record(ctx context.Context, kind string, r engine.HarvestReceipt) {
	if l.jnl == nil {
		return
	}
	err := l.jnl.RecordTrade(ctx, journal.Trade{
		Time:       l.now(),
		Symbol:     l.cfg.Symbol,
		Kind:       kind,
		Qty:        r.SoldQty,
		Price:      r.FillPrice,
		Proceeds:   r.Proceeds,
		Realized:   r.Realized,
		Cumulative: r.Cumulative,
	})
	if err != nil {
		logger.Warnf("  ⚠️ %v", err)
	}
}

func (l *Loop) publishStatus(price, qty decimal.Decimal) {
	if l.srv == nil {
		return
	}
	pos := l.eng.Position()
	l.srv.Publish(Status{
		Symbol:             l.cfg.Symbol,
		State:              l.eng.State().String(),
		Price:              price,
		Value:              qty.Mul(price),
		Baseline:           pos.BaselineValue,
		StopPrice:          pos.StopPrice,
		ATR:                l.eng.ATR(),
		ATRAvailable:       l.eng.ATRAvailable(),
		CumulativeRealized: pos.CumulativeRealized,
		UpdatedAt:          l.now(),
	})
}

func (l *Loop) tryNotify(ctx context.Context, text string) {
	if l.notify == nil {
		return
	}
	if err := l.notify.Notify(ctx, text); err != nil {
		logger.Warnf("  ⚠️ 通知发送失败: %v", err)
	}
}
