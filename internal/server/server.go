// Package server owns the HTTP listener lifecycle. Route registration stays
// with the record and report services; this package only wires the engine,
// the health endpoint, and graceful shutdown.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports reachability of an optional backing component. The durable
// event log implements it; when the sink is disabled the server simply has
// nothing to ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Engine   *gin.Engine
	Addr     string
	eventLog Pinger
}

// New builds the engine and mounts the health endpoint. eventLog may be nil
// when the service runs without a relational sink.
func New(addr string, eventLog Pinger, mode string) *Server {
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	s := &Server{
		Engine:   r,
		Addr:     addr,
		eventLog: eventLog,
	}

	r.GET("/health", s.healthHandler)

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	eventLog := "disabled"
	if s.eventLog != nil {
		if err := s.eventLog.Ping(ctx); err != nil {
			slog.Error("Health check failed: event log unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "event log unreachable",
			})
			return
		}
		eventLog = "connected"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"event_log": eventLog,
	})
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("Starting HTTP Server...", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping HTTP Server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP Server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
