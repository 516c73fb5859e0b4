package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/config"
	"harvester/engine"
	"harvester/market"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testFilters() market.SymbolFilters {
	return market.SymbolFilters{
		BaseAsset:   "BTC",
		QuoteAsset:  "USDT",
		StepSize:    dec("0.000001"),
		MinQty:      dec("0.000001"),
		TickSize:    dec("0.01"),
		MinNotional: dec("1"),
	}
}

func testLoopConfig() *config.Config {
	return &config.Config{
		Symbol:               "BTCUSDT",
		CheckInterval:        time.Millisecond,
		TargetPct:            dec("0.005"),
		StopLossPct:          dec("0.10"),
		UseATRStop:           false,
		ATRPeriod:            14,
		ATRMultiplier:        dec("1.5"),
		ATRRefreshInterval:   5 * time.Minute,
		KlineInterval:        "5m",
		ReentryMode:          engine.ReentryNone,
		ReentryFraction:      dec("0.5"),
		ReentryDropThreshold: dec("0.02"),
		LadderOrders:         5,
		LadderSpacing:        dec("0.15"),
		MinNotionalFallback:  dec("1"),
		MaxRetries:           1,
		BackoffBase:          time.Millisecond,
		SettlementDelay:      0,
	}
}

// fakeMarket replays scripted prices/balances; past the script it keeps
// returning the last value.
type fakeMarket struct {
	filters  market.SymbolFilters
	prices   []decimal.Decimal
	pi       int
	balances []decimal.Decimal
	bi       int
	bars      []market.Kline
	barsErr   error
	barsCalls int

	priceErr error
	balErrAt int // balance call index that fails, -1 disables
	balCalls int
}

func newFakeMarket(prices, balances []string) *fakeMarket {
	m := &fakeMarket{filters: testFilters(), balErrAt: -1}
	for _, p := range prices {
		m.prices = append(m.prices, dec(p))
	}
	for _, b := range balances {
		m.balances = append(m.balances, dec(b))
	}
	return m
}

func (m *fakeMarket) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if m.priceErr != nil {
		return decimal.Zero, m.priceErr
	}
	if m.pi < len(m.prices)-1 {
		m.pi++
		return m.prices[m.pi-1], nil
	}
	return m.prices[len(m.prices)-1], nil
}

func (m *fakeMarket) AccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	defer func() { m.balCalls++ }()
	if m.balCalls == m.balErrAt {
		return decimal.Zero, errors.New("balance endpoint down")
	}
	if m.bi < len(m.balances)-1 {
		m.bi++
		return m.balances[m.bi-1], nil
	}
	return m.balances[len(m.balances)-1], nil
}

func (m *fakeMarket) RecentBars(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error) {
	m.barsCalls++
	if m.barsErr != nil {
		return nil, m.barsErr
	}
	return m.bars, nil
}

func (m *fakeMarket) SymbolFilters(ctx context.Context, symbol string) (market.SymbolFilters, error) {
	return m.filters, nil
}

type limitOrder struct {
	qty   decimal.Decimal
	price decimal.Decimal
}

type fakeExec struct {
	sells   []decimal.Decimal
	buys    []decimal.Decimal
	limits  []limitOrder
	sellErr error
}

func (e *fakeExec) MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (engine.ExecutionResult, error) {
	if e.sellErr != nil {
		return engine.ExecutionResult{}, e.sellErr
	}
	e.sells = append(e.sells, qty)
	return engine.ExecutionResult{ExecutedQty: qty}, nil
}

func (e *fakeExec) MarketBuyByQuote(ctx context.Context, symbol string, quote decimal.Decimal) (engine.ExecutionResult, error) {
	e.buys = append(e.buys, quote)
	return engine.ExecutionResult{}, nil
}

func (e *fakeExec) LimitBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) (string, error) {
	e.limits = append(e.limits, limitOrder{qty: qty, price: price})
	return "1", nil
}

type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) Notify(ctx context.Context, text string) error {
	n.messages = append(n.messages, text)
	return nil
}

func (n *fakeNotifier) contains(substr string) bool {
	for _, m := range n.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func newTestLoop(cfg *config.Config, mkt *fakeMarket, exec *fakeExec, n *fakeNotifier) *Loop {
	l := NewLoop(cfg, mkt, exec, n, nil, nil)
	l.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return l
}

func TestTickHarvestFlow(t *testing.T) {
	ctx := context.Background()
	// init: price 10000, balance 1; tick: 10060/1; settle: 0.994036; 再入场价: 10060
	mkt := newFakeMarket(
		[]string{"10000", "10060", "10060"},
		[]string{"1", "1", "0.994036"},
	)
	exec := &fakeExec{}
	notify := &fakeNotifier{}
	loop := newTestLoop(testLoopConfig(), mkt, exec, notify)

	require.NoError(t, loop.initialize(ctx))

	stopped, err := loop.tick(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)

	require.Len(t, exec.sells, 1)
	assert.True(t, exec.sells[0].Equal(dec("0.005964")), "got %s", exec.sells[0])

	pos := loop.eng.Position()
	assert.True(t, pos.BaselineValue.Equal(dec("0.994036").Mul(dec("10060"))))
	assert.Equal(t, engine.StateActive, loop.eng.State())
	assert.True(t, notify.contains("Profit harvested"), "messages: %v", notify.messages)
}

func TestTickStopFlow(t *testing.T) {
	ctx := context.Background()
	mkt := newFakeMarket(
		[]string{"10000", "9000"},
		[]string{"1", "1", "0"},
	)
	exec := &fakeExec{}
	notify := &fakeNotifier{}
	loop := newTestLoop(testLoopConfig(), mkt, exec, notify)

	require.NoError(t, loop.initialize(ctx))

	stopped, err := loop.tick(ctx)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, engine.StateStopped, loop.eng.State())

	require.Len(t, exec.sells, 1)
	assert.True(t, exec.sells[0].Equal(dec("1")))
	assert.True(t, notify.contains("Stop-loss executed"), "messages: %v", notify.messages)
}

func TestTickSkipsOnDataFailure(t *testing.T) {
	ctx := context.Background()
	mkt := newFakeMarket([]string{"10000"}, []string{"1"})
	exec := &fakeExec{}
	loop := newTestLoop(testLoopConfig(), mkt, exec, &fakeNotifier{})

	require.NoError(t, loop.initialize(ctx))

	mkt.priceErr = errors.New("rest endpoint down")
	stopped, err := loop.tick(ctx)
	assert.NoError(t, err, "collaborator failure skips the tick, never fails the loop")
	assert.False(t, stopped)
	assert.Empty(t, exec.sells)
}

func TestTickOrderRejectionKeepsPosition(t *testing.T) {
	ctx := context.Background()
	mkt := newFakeMarket([]string{"10000", "9000"}, []string{"1"})
	exec := &fakeExec{sellErr: fmt.Errorf("%w: insufficient balance", ErrOrderRejected)}
	notify := &fakeNotifier{}
	loop := newTestLoop(testLoopConfig(), mkt, exec, notify)

	require.NoError(t, loop.initialize(ctx))
	before := loop.eng.Position()

	stopped, err := loop.tick(ctx)
	assert.NoError(t, err)
	assert.False(t, stopped)
	assert.Equal(t, engine.StateActive, loop.eng.State())

	after := loop.eng.Position()
	assert.True(t, after.BaselineValue.Equal(before.BaselineValue))
	assert.True(t, after.Quantity.Equal(before.Quantity))
	assert.True(t, notify.contains("Sell rejected"), "messages: %v", notify.messages)
}

func TestTickUnexpectedExecutorErrorIsFatal(t *testing.T) {
	ctx := context.Background()
	mkt := newFakeMarket([]string{"10000", "9000"}, []string{"1"})
	exec := &fakeExec{sellErr: errors.New("connection reset")}
	loop := newTestLoop(testLoopConfig(), mkt, exec, &fakeNotifier{})

	require.NoError(t, loop.initialize(ctx))

	_, err := loop.tick(ctx)
	assert.Error(t, err)
}

func TestSettleFallsBackToComputedBalance(t *testing.T) {
	ctx := context.Background()
	mkt := newFakeMarket(
		[]string{"10000", "10060", "10060"},
		[]string{"1", "1"},
	)
	mkt.balErrAt = 2 // 结算后的余额查询失败
	exec := &fakeExec{}
	loop := newTestLoop(testLoopConfig(), mkt, exec, &fakeNotifier{})

	require.NoError(t, loop.initialize(ctx))

	stopped, err := loop.tick(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)

	// 推算余额 = 1 − 卖出数量
	want := dec("1").Sub(dec("0.005964"))
	pos := loop.eng.Position()
	assert.True(t, pos.Quantity.Equal(want), "got %s want %s", pos.Quantity, want)
}

func TestFailedATRRefreshWaitsForSchedule(t *testing.T) {
	ctx := context.Background()
	cfg := testLoopConfig()
	cfg.UseATRStop = true

	mkt := newFakeMarket([]string{"10000"}, []string{"1"})
	mkt.barsErr = errors.New("kline endpoint down")
	loop := newTestLoop(cfg, mkt, &fakeExec{}, &fakeNotifier{})

	require.NoError(t, loop.initialize(ctx))
	assert.Equal(t, 1, mkt.barsCalls)

	// 失败的刷新也要等到下一个排期，不按tick节奏重试
	for i := 0; i < 3; i++ {
		_, err := loop.tick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, mkt.barsCalls)
}

func TestInitializeAppliesNotionalFallback(t *testing.T) {
	ctx := context.Background()
	// 交易所未返回最小订单价值过滤器：兜底值必须接管碎仓保护
	mkt := newFakeMarket([]string{"100", "100.6"}, []string{"1"})
	mkt.filters.MinNotional = decimal.Zero
	exec := &fakeExec{}
	loop := newTestLoop(testLoopConfig(), mkt, exec, &fakeNotifier{})

	require.NoError(t, loop.initialize(ctx))
	assert.True(t, loop.filters.MinNotional.Equal(dec("1")))

	// 利润切片市值约 0.6 < 兜底值 1：不得卖出
	stopped, err := loop.tick(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Empty(t, exec.sells)
}

func TestTickReentryAfterHarvest(t *testing.T) {
	ctx := context.Background()
	cfg := testLoopConfig()
	cfg.ReentryMode = engine.ReentryFixedFraction

	// 收割后价格闪崩到 9700（低于收割前入场价的 98%）：触发市价买回
	mkt := newFakeMarket(
		[]string{"10000", "10060", "9700"},
		[]string{"1", "1", "0.994036", "1.000036"},
	)
	exec := &fakeExec{}
	notify := &fakeNotifier{}
	loop := newTestLoop(cfg, mkt, exec, notify)

	require.NoError(t, loop.initialize(ctx))

	stopped, err := loop.tick(ctx)
	require.NoError(t, err)
	assert.False(t, stopped)

	require.Len(t, exec.sells, 1)
	require.Len(t, exec.buys, 1, "messages: %v", notify.messages)
	// 买回金额 = 收割所得 × 0.5，向下取整到 0.01
	proceeds := dec("0.005964").Mul(dec("10060"))
	wantQuote := proceeds.Mul(dec("0.5")).Div(dec("0.01")).Floor().Mul(dec("0.01"))
	assert.True(t, exec.buys[0].Equal(wantQuote), "got %s want %s", exec.buys[0], wantQuote)

	// 买回确认后基线重锚到结算余额×当前价
	pos := loop.eng.Position()
	assert.True(t, pos.BaselineValue.Equal(dec("1.000036").Mul(dec("9700"))))
	assert.True(t, pos.EntryPrice.Equal(dec("9700")))
}
