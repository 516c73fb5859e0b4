package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRecordAndReadBack(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, j.RecordTrade(ctx, Trade{
		Time: now, Symbol: "BTCUSDT", Kind: "profit_harvest_sell",
		Qty: dec("0.005964"), Price: dec("10060"),
		Proceeds: dec("59.99784"), Realized: dec("0.35784"), Cumulative: dec("0.35784"),
	}))
	require.NoError(t, j.RecordTrade(ctx, Trade{
		Time: now.Add(time.Minute), Symbol: "BTCUSDT", Kind: "reentry_market_buy",
		Qty: dec("0.003"), Price: dec("9700"),
		Proceeds: dec("-29.99"), Realized: dec("0"), Cumulative: dec("0.35784"),
	}))

	trades, err := j.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// 最新在前
	assert.Equal(t, "reentry_market_buy", trades[0].Kind)
	assert.Equal(t, "profit_harvest_sell", trades[1].Kind)
	assert.True(t, trades[1].Qty.Equal(dec("0.005964")))
	assert.True(t, trades[1].Realized.Equal(dec("0.35784")))
	assert.Equal(t, now, trades[1].Time)
}

func TestRecentTradesLimit(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, j.RecordTrade(ctx, Trade{
			Time: time.Now(), Symbol: "BTCUSDT", Kind: "profit_harvest_sell",
			Qty: dec("0.001"), Price: dec("10000"),
			Proceeds: dec("10"), Realized: dec("0.1"), Cumulative: dec("0.5"),
		}))
	}

	trades, err := j.RecentTrades(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, trades, 3)

	trades, err = j.RecentTrades(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 5, "non-positive limit falls back to default")
}

func TestEmptyJournal(t *testing.T) {
	j := openTemp(t)
	trades, err := j.RecentTrades(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}
