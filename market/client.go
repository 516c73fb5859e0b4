// Package market 提供行情与账户数据访问（Binance 现货）
package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// Client wraps the Binance spot REST API behind the small surface the
// harvester needs: latest price, recent klines, free balance and the
// per-symbol order filters.
type Client struct {
	api *binance.Client
	ws  *PriceCache
}

// NewClient builds a Binance-backed market client. When testnet is true
// all requests go to the Binance spot testnet.
func NewClient(apiKey, apiSecret string, testnet bool) *Client {
	binance.UseTestnet = testnet
	return &Client{api: binance.NewClient(apiKey, apiSecret)}
}

// AttachPriceCache 绑定 WS 价格缓存；缓存新鲜时优先使用，否则回退 REST
func (c *Client) AttachPriceCache(cache *PriceCache) {
	c.ws = cache
}

// API exposes the underlying venue client for the order executor.
func (c *Client) API() *binance.Client {
	return c.api
}

// CurrentPrice 获取最新成交价
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if c.ws != nil {
		if price, ok := c.ws.Fresh(priceCacheMaxAge); ok {
			return price, nil
		}
	}

	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("获取最新价格失败: %w", err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("交易对 %s 无价格数据", symbol)
	}
	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("解析价格 %q 失败: %w", prices[0].Price, err)
	}
	return price, nil
}

// RecentBars 获取最近 limit 根K线（最旧在前）
func (c *Client) RecentBars(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	raw, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取K线失败: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, k := range raw {
		kline, err := parseKline(k)
		if err != nil {
			return nil, fmt.Errorf("解析K线失败: %w", err)
		}
		klines = append(klines, kline)
	}
	return klines, nil
}

func parseKline(k *binance.Kline) (Kline, error) {
	var (
		kline Kline
		err   error
	)
	kline.OpenTime = k.OpenTime
	kline.CloseTime = k.CloseTime
	if kline.Open, err = decimal.NewFromString(k.Open); err != nil {
		return kline, err
	}
	if kline.High, err = decimal.NewFromString(k.High); err != nil {
		return kline, err
	}
	if kline.Low, err = decimal.NewFromString(k.Low); err != nil {
		return kline, err
	}
	if kline.Close, err = decimal.NewFromString(k.Close); err != nil {
		return kline, err
	}
	if kline.Volume, err = decimal.NewFromString(k.Volume); err != nil {
		return kline, err
	}
	return kline, nil
}

// AccountBalance 获取某资产的可用余额
func (c *Client) AccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	account, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("获取账户信息失败: %w", err)
	}
	for _, b := range account.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return decimal.Zero, fmt.Errorf("解析余额 %q 失败: %w", b.Free, err)
		}
		return free, nil
	}
	return decimal.Zero, nil
}

// SymbolFilters 获取交易对的下单约束（LOT_SIZE/PRICE_FILTER/MIN_NOTIONAL）
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	var filters SymbolFilters

	info, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return filters, fmt.Errorf("获取交易规则失败: %w", err)
	}

	var found *binance.Symbol
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			found = &info.Symbols[i]
			break
		}
	}
	if found == nil {
		return filters, fmt.Errorf("交易所不存在交易对 %s", symbol)
	}

	filters.BaseAsset = found.BaseAsset
	filters.QuoteAsset = found.QuoteAsset

	for _, f := range found.Filters {
		filterType, _ := f["filterType"].(string)
		switch filterType {
		case "LOT_SIZE":
			filters.StepSize = decimalField(f, "stepSize")
			filters.MinQty = decimalField(f, "minQty")
		case "PRICE_FILTER":
			filters.TickSize = decimalField(f, "tickSize")
		case "MIN_NOTIONAL", "NOTIONAL":
			filters.MinNotional = decimalField(f, "minNotional")
		}
	}
	return filters, nil
}

func decimalField(f map[string]interface{}, key string) decimal.Decimal {
	s, ok := f[key].(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Normalize 标准化symbol,确保是USDT交易对
func Normalize(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(symbol, "USDT") {
		return symbol
	}
	return symbol + "USDT"
}

const priceCacheMaxAge = 10 * time.Second
