package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quoteflow/logger"
	"quoteflow/models"
)

// Server exposes /metrics, /healthz and the last finished job on
// /api/jobs/last.
type Server struct {
	addr       string
	log        *logger.Log
	httpServer *http.Server

	mu      sync.RWMutex
	lastJob *models.SyncJobStats
}

func NewServer(addr string, log *logger.Log) *Server {
	Init()
	return &Server{addr: normalizeAddress(addr), log: log}
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// RecordJob keeps a copy of the stats for the API.
func (s *Server) RecordJob(stats *models.SyncJobStats) {
	if s == nil || stats == nil {
		return
	}
	snap := stats.Snapshot()
	s.mu.Lock()
	s.lastJob = snap
	s.mu.Unlock()
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.httpServer = &http.Server{Addr: s.addr, Handler: s.router()}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("metrics").WithFields(logger.Fields{"address": s.addr}).Info("metrics server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/jobs/last", func(c *gin.Context) {
		s.mu.RLock()
		job := s.lastJob
		s.mu.RUnlock()
		if job == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no job finished yet"})
			return
		}
		c.JSON(http.StatusOK, job)
	})
	return router
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:9102"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil && parsed.Host != "" {
			addr = parsed.Host
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "9102"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "9102")
	}
	return addr
}
