// 命令行工具：拉取最近K线并输出ATR报告，便于在启动前检查参数
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"harvester/engine"
	"harvester/market"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "交易对（例如 BTCUSDT）")
	interval := flag.String("interval", "5m", "K线周期")
	period := flag.Int("period", 14, "ATR 周期")
	bars := flag.Int("bars", 30, "拉取K线数量")
	testnet := flag.Bool("testnet", false, "使用测试网")
	outPath := flag.String("out", "", "输出 txt 文件路径（留空打印到终端）")
	flag.Parse()

	_ = godotenv.Load()

	normalized := market.Normalize(*symbol)
	client := market.NewClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"), *testnet)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	klines, err := client.RecentBars(ctx, normalized, *interval, *bars)
	exitOnErr("获取K线失败", err)

	report := buildReport(normalized, *interval, *period, klines)
	if *outPath == "" {
		fmt.Print(report)
		return
	}
	if err := os.WriteFile(*outPath, []byte(report), 0o644); err != nil {
		log.Fatalf("写入报告失败: %v", err)
	}
	fmt.Printf("报告已写入 %s\n", *outPath)
}

func buildReport(symbol, interval string, period int, klines []market.Kline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s %s K线报告 (%s) ===\n\n", symbol, interval, time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "%-24s %-12s %-12s %-12s %-12s\n", "收盘时间", "开盘", "最高", "最低", "收盘")
	for _, k := range klines {
		ts := time.UnixMilli(k.CloseTime).UTC().Format("2006-01-02 15:04")
		fmt.Fprintf(&b, "%-24s %-12s %-12s %-12s %-12s\n", ts, k.Open, k.High, k.Low, k.Close)
	}

	b.WriteString("\n")
	atr, err := engine.ComputeATR(klines, period)
	if err != nil {
		fmt.Fprintf(&b, "ATR(%d): 不可用 (%v)\n", period, err)
	} else {
		fmt.Fprintf(&b, "ATR(%d): %s\n", period, atr)
		if last := klines[len(klines)-1].Close; last.Sign() > 0 {
			fmt.Fprintf(&b, "ATR/价格: %s%%\n", atr.Div(last).Mul(decimalHundred).StringFixed(4))
		}
	}
	return b.String()
}

var decimalHundred = decimal.NewFromInt(100)

func exitOnErr(msg string, err error) {
	if err != nil {
		log.Fatalf("%s: %v", msg, err)
	}
}
