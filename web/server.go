// Package web exposes the loop's latest snapshot over HTTP for
// dashboards and liveness probes. It is read-only: nothing here can
// change the engine's state.
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"harvester/journal"
	"harvester/logger"
)

// Server serves /health, /status and /trades.
type Server struct {
	addr   string
	jnl    *journal.Journal
	status atomic.Value
}

// NewServer wires the routes. jnl may be nil (journal disabled).
func NewServer(addr string, jnl *journal.Journal) *Server {
	return &Server{addr: addr, jnl: jnl}
}

// Publish replaces the snapshot returned by /status.
func (s *Server) Publish(v any) {
	s.status.Store(v)
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		v := s.status.Load()
		if v == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "尚无状态快照"})
			return
		}
		c.JSON(http.StatusOK, v)
	})

	r.GET("/trades", func(c *gin.Context) {
		if s.jnl == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "交易日志未启用"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		trades, err := s.jnl.RecentTrades(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": trades})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("🌐 状态服务已启动: %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
