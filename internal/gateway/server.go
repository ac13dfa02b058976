// Package gateway is the HTTP front door: the Events API webhook plus
// health and metrics endpoints.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/metrics"
)

const (
	// DefaultWebhookPath is where Slack posts events.
	DefaultWebhookPath = "/slack/events"
	// maxBodyBytes caps a webhook body.
	maxBodyBytes = 1 << 20
	// shutdownTimeout bounds graceful HTTP shutdown.
	shutdownTimeout = 10 * time.Second
)

// Submitter accepts envelopes for background processing.
type Submitter interface {
	Submit(env chat.Envelope) (string, error)
}

// Opts configures the gateway.
type Opts struct {
	Submitter     Submitter
	WebhookPath   string  // default DefaultWebhookPath
	SigningSecret string  // empty disables signature verification
	RateLimit     float64 // webhook requests per second; 0 disables
	Burst         int
	Metrics       *metrics.Metrics
	Logger        *slog.Logger

	Port int       // Start only; default 5000
	Out  io.Writer // Start only; receives the listening banner
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Submitter == nil {
		return nil, fmt.Errorf("gateway: submitter is required")
	}
	if opts.WebhookPath == "" {
		opts.WebhookPath = DefaultWebhookPath
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))

	registerRoutes(router, opts)
	return router, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 5000
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Listening on http://localhost:%d (webhook %s)\n", opts.Port, opts.WebhookPath)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// requestLogger logs one line per request.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
