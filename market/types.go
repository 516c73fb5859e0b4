package market

import "github.com/shopspring/decimal"

// Kline 单根K线（OHLC，最旧在前）
type Kline struct {
	OpenTime  int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime int64
}

// SymbolFilters 交易所对某交易对的下单约束
type SymbolFilters struct {
	BaseAsset   string
	QuoteAsset  string
	StepSize    decimal.Decimal // LOT_SIZE 最小数量步进
	MinQty      decimal.Decimal // LOT_SIZE 最小下单数量
	TickSize    decimal.Decimal // PRICE_FILTER 价格步进
	MinNotional decimal.Decimal // MIN_NOTIONAL / NOTIONAL 最小订单价值
}
