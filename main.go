package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"harvester/config"
	"harvester/journal"
	"harvester/logger"
	"harvester/market"
	"harvester/trader"
	"harvester/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("配置加载失败: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)
	cfg.Symbol = market.Normalize(cfg.Symbol)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mkt := market.NewClient(cfg.APIKey, cfg.APISecret, cfg.Testnet)
	if cfg.UseWSPrice {
		cache := market.NewPriceCache(cfg.Symbol, cfg.Testnet)
		cache.Start(ctx)
		mkt.AttachPriceCache(cache)
	}

	var exec trader.OrderExecutor = trader.NewBinanceExecutor(mkt.API())
	if cfg.DryRun {
		logger.Infof("🧪 干跑模式：不会提交真实订单")
		exec = trader.DryRunExecutor{}
	}

	var notify trader.Notifier = trader.ConsoleNotifier{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := trader.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			logger.Warnf("⚠️ Telegram 初始化失败，降级为控制台通知: %v", err)
		} else {
			notify = tg
		}
	}

	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		jnl, err = journal.Open(cfg.JournalPath)
		if err != nil {
			logger.Fatalf("交易日志初始化失败: %v", err)
		}
		defer jnl.Close()
	}

	var srv *web.Server
	if cfg.StatusAddr != "" {
		srv = web.NewServer(cfg.StatusAddr, jnl)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Errorf("状态服务异常退出: %v", err)
			}
		}()
	}

	loop := trader.NewLoop(cfg, mkt, exec, notify, jnl, srv)
	if err := loop.Run(ctx); err != nil {
		logger.Fatalf("循环异常终止: %v", err)
	}
	logger.Infof("✅ 进程退出")
}
