package engine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"harvester/market"
)

// ErrInsufficientData means the kline window is too short for the
// requested ATR period. Callers treat it as "ATR unavailable", never as
// a fatal condition.
var ErrInsufficientData = errors.New("K线数据不足，无法计算ATR")

// ComputeATR returns the average true range over the last period bars:
// the arithmetic mean of per-bar true ranges. It needs period+1 bars
// because the first true range looks back at the previous close.
func ComputeATR(bars []market.Kline, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, errors.New("ATR周期必须为正数")
	}
	if len(bars) < period+1 {
		return decimal.Zero, ErrInsufficientData
	}

	window := bars[len(bars)-(period+1):]
	sum := decimal.Zero
	for i := 1; i < len(window); i++ {
		high := window[i].High
		low := window[i].Low
		prevClose := window[i-1].Close

		tr := high.Sub(low)
		if d := high.Sub(prevClose).Abs(); d.GreaterThan(tr) {
			tr = d
		}
		if d := low.Sub(prevClose).Abs(); d.GreaterThan(tr) {
			tr = d
		}
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), nil
}

// Volatility tracks the current ATR estimate and its refresh schedule.
// A failed refresh keeps the previous value (stale but valid) but still
// counts as an attempt, so retries wait for the next scheduled refresh
// instead of hammering the kline endpoint every tick. ATR is
// unavailable only until the first successful computation.
type Volatility struct {
	atr         decimal.Decimal
	available   bool
	lastRefresh time.Time
}

// Available reports whether an ATR value has ever been computed.
func (v *Volatility) Available() bool {
	return v.available
}

// ATR returns the current estimate; zero until the first refresh succeeds.
func (v *Volatility) ATR() decimal.Decimal {
	return v.atr
}

// ShouldRefresh 判断是否到达下一次 ATR 重算时间
func (v *Volatility) ShouldRefresh(now time.Time, interval time.Duration) bool {
	if v.lastRefresh.IsZero() {
		return true
	}
	return now.Sub(v.lastRefresh) >= interval
}

// noteAttempt 记录一次刷新尝试（无论成败），推进重试排期
func (v *Volatility) noteAttempt(now time.Time) {
	v.lastRefresh = now
}

// Update computes ATR from the supplied bars. On ErrInsufficientData the
// previous value stays in place and the error is returned for logging;
// the attempt still advances the refresh schedule.
func (v *Volatility) Update(bars []market.Kline, period int, now time.Time) error {
	v.noteAttempt(now)
	atr, err := ComputeATR(bars, period)
	if err != nil {
		return err
	}
	v.atr = atr
	v.available = true
	return nil
}
