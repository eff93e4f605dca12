// Package dashboard serves a read-only JSON status API over the live
// monitoring and escalation state, plus the audit ledger when one is
// configured.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zulandar/switchboard/internal/escalation"
	"github.com/zulandar/switchboard/internal/monitor"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Monitor *monitor.Monitor
	Engine  *escalation.Engine
	DB      *gorm.DB // optional, enables /api/history
	Addr    string
	Out     io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Monitor == nil {
		return fmt.Errorf("dashboard: monitor is required")
	}
	if opts.Engine == nil {
		return fmt.Errorf("dashboard: engine is required")
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}

	srv := &http.Server{
		Addr:    opts.Addr,
		Handler: newRouter(opts),
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard listening on %s\n", opts.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the Gin router, split out so tests can drive it with
// httptest without binding a port.
func newRouter(opts StartOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}
