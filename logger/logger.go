// Package logger 封装 zerolog，提供全局日志函数
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = newLogger(os.Stdout)
)

func newLogger(w io.Writer) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(console).With().Timestamp().Logger()
}

// SetOutput 重定向日志输出（测试或写入文件时使用）
func SetOutput(w io.Writer) {
	mu.Lock()
	log = newLogger(w)
	mu.Unlock()
}

// SetLevel 设置全局日志级别: debug/info/warn/error
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// current copies the logger under the lock; zerolog's level methods
// need an addressable receiver, so callers bind the copy to a local.
func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debugf(format string, args ...interface{}) {
	l := current()
	l.Debug().Msgf(format, args...)
}

func Infof(format string, args ...interface{}) {
	l := current()
	l.Info().Msgf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	l := current()
	l.Warn().Msgf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	l := current()
	l.Error().Msgf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	l := current()
	l.Fatal().Msgf(format, args...)
}
