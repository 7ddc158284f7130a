// Package dashboard serves the read-only HTTP status surface: health,
// aggregate stats, order lookup, promotion status and prometheus metrics.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexguard/nexbot/internal/bot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Core     *bot.Core
	Registry prometheus.Gatherer // optional; /metrics is omitted when nil
	Port     int
	Out      io.Writer
	Now      func() time.Time
}

// NewHandler builds the gin engine serving every dashboard route.
func NewHandler(opts StartOpts) (http.Handler, error) {
	if opts.Core == nil {
		return nil, fmt.Errorf("dashboard: core is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	handler, err := NewHandler(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", opts.Port).Msg("dashboard: listening")
	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
