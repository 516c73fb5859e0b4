package market

import (
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Normalize("btc"))
	assert.Equal(t, "BTCUSDT", Normalize(" BTCUSDT "))
	assert.Equal(t, "ETHUSDT", Normalize("eth"))
	assert.Equal(t, "SOLUSDT", Normalize("SOLUSDT"))
}

func TestParseKline(t *testing.T) {
	raw := &binance.Kline{
		OpenTime:  1700000000000,
		CloseTime: 1700000299999,
		Open:      "100.5",
		High:      "105.1",
		Low:       "99.8",
		Close:     "104.2",
		Volume:    "1234.56",
	}
	k, err := parseKline(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), k.OpenTime)
	assert.True(t, k.High.Equal(decimal.RequireFromString("105.1")))
	assert.True(t, k.Close.Equal(decimal.RequireFromString("104.2")))

	raw.High = "not-a-number"
	_, err = parseKline(raw)
	assert.Error(t, err)
}

func TestDecimalField(t *testing.T) {
	f := map[string]interface{}{
		"filterType": "LOT_SIZE",
		"stepSize":   "0.000001",
		"minQty":     "0.000001",
		"broken":     42,
	}
	assert.True(t, decimalField(f, "stepSize").Equal(decimal.RequireFromString("0.000001")))
	assert.True(t, decimalField(f, "missing").IsZero())
	assert.True(t, decimalField(f, "broken").IsZero())
}

func TestPriceCacheFreshness(t *testing.T) {
	cache := NewPriceCache("BTCUSDT", false)

	_, ok := cache.Fresh(time.Minute)
	assert.False(t, ok, "empty cache is never fresh")

	cache.store(decimal.RequireFromString("65000.5"))
	price, ok := cache.Fresh(time.Minute)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("65000.5")))

	_, ok = cache.Fresh(0)
	assert.False(t, ok, "zero max age means always stale")
}
