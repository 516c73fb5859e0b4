package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"harvester/logger"
)

const (
	wsBaseURL        = "wss://stream.binance.com:9443/ws"
	wsTestnetBaseURL = "wss://stream.testnet.binance.vision/ws"

	wsReadTimeout    = 90 * time.Second
	wsReconnectDelay = 5 * time.Second
)

// PriceCache keeps the latest trade price for one symbol, fed by the
// Binance trade stream. Readers fall back to REST when the cache is
// stale, so a broken stream degrades rather than breaks the loop.
type PriceCache struct {
	symbol  string
	testnet bool

	mu        sync.RWMutex
	price     decimal.Decimal
	updatedAt time.Time
}

// NewPriceCache 创建指定交易对的实时价格缓存
func NewPriceCache(symbol string, testnet bool) *PriceCache {
	return &PriceCache{symbol: Normalize(symbol), testnet: testnet}
}

// Fresh returns the cached price when it is younger than maxAge.
func (p *PriceCache) Fresh(maxAge time.Duration) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.updatedAt.IsZero() || time.Since(p.updatedAt) > maxAge {
		return decimal.Zero, false
	}
	return p.price, true
}

func (p *PriceCache) store(price decimal.Decimal) {
	p.mu.Lock()
	p.price = price
	p.updatedAt = time.Now()
	p.mu.Unlock()
}

// Start 启动后台读取 goroutine，断线自动重连，ctx 取消后退出
func (p *PriceCache) Start(ctx context.Context) {
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := p.readLoop(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("⚠️  [行情WS] %s 连接中断: %v，%s 后重连", p.symbol, err, wsReconnectDelay)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wsReconnectDelay):
			}
		}
	}()
}

func (p *PriceCache) readLoop(ctx context.Context) error {
	base := wsBaseURL
	if p.testnet {
		base = wsTestnetBaseURL
	}
	url := fmt.Sprintf("%s/%s@trade", base, strings.ToLower(p.symbol))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	defer conn.Close()

	logger.Infof("📡 [行情WS] 已连接 %s 实时成交流", p.symbol)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event struct {
			Price string `json:"p"`
		}
		if err := json.Unmarshal(message, &event); err != nil || event.Price == "" {
			continue
		}
		price, err := decimal.NewFromString(event.Price)
		if err != nil {
			continue
		}
		p.store(price)
	}
}
