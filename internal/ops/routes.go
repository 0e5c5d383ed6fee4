// Package ops serves the operations HTTP surface: health, metrics and the
// vote report.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nuclight.org/gatekeeper/internal/metrics"
)

func NewRouter(h *Handler, rec *metrics.Recorder, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if rec != nil {
		r.Use(Instrument(rec))
	}

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	votes := r.Group("/votes")
	{
		votes.GET("", h.OpenVotes)
		votes.GET("/closed", h.ClosedVotes)
		votes.POST("/sweep", h.Sweep)
	}
	return r
}

// Instrument records request counts and latencies per route.
func Instrument(rec *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec.InFlight.Inc()
		start := time.Now()
		c.Next()
		rec.InFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		rec.RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		rec.ReqDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Serve runs the HTTP server until ctx is done, then shuts it down.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	logger.Info("ops server stopped")
	return nil
}
