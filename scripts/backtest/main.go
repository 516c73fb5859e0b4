// 命令行工具：用历史K线回放收割策略，评估参数表现
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"harvester/config"
	"harvester/market"
	"harvester/trader"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "交易对（例如 BTCUSDT）")
	interval := flag.String("interval", "5m", "K线周期")
	bars := flag.Int("bars", 500, "回放K线数量")
	qty := flag.String("qty", "1", "初始持仓数量")
	slippage := flag.String("slippage", "0.0005", "滑点比例")
	fee := flag.String("fee", "0.001", "手续费比例")
	testnet := flag.Bool("testnet", false, "使用测试网")
	flag.Parse()

	_ = godotenv.Load()

	// 回测不提交订单，不强制要求 API 密钥
	os.Setenv("DRY_RUN", "true")
	cfg, err := config.Load()
	exitOnErr("配置加载失败", err)

	normalized := market.Normalize(*symbol)
	client := market.NewClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"), *testnet)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	filters, err := client.SymbolFilters(ctx, normalized)
	exitOnErr("获取交易规则失败", err)

	klines, err := client.RecentBars(ctx, normalized, *interval, *bars)
	exitOnErr("获取K线失败", err)

	params := trader.BacktestParams{
		InitialQty: mustDecimal(*qty),
		Slippage:   mustDecimal(*slippage),
		FeeRate:    mustDecimal(*fee),
	}
	result, err := trader.Backtest(cfg.EngineConfig(), filters, klines, params)
	exitOnErr("回测失败", err)

	fmt.Printf("=== %s %s 回测 (%d 根K线) ===\n", normalized, *interval, len(klines))
	for _, t := range result.Trades {
		fmt.Printf("%-20s %-22s qty=%-14s price=%-14s realized=%s\n",
			t.Time.Format("2006-01-02 15:04"), t.Kind, t.Qty, t.Price, t.Realized)
	}
	fmt.Printf("\n成交笔数: %d\n", len(result.Trades))
	fmt.Printf("累计已实现盈亏: %s\n", result.CumulativeRealized)
	fmt.Printf("期末持仓: %s (市值 %s)\n", result.FinalQty, result.FinalValue)
	if result.Stopped {
		fmt.Println("⚠️ 回放期间触发止损，策略已终止")
	}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("无效数字 %q: %v", s, err)
	}
	return d
}

func exitOnErr(msg string, err error) {
	if err != nil {
		log.Fatalf("%s: %v", msg, err)
	}
}
