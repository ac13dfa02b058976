package gateway

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/chat/slack"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/dispatch"
	"github.com/ngozinwogwugwu/multi-agent-llm-group-chat/internal/metrics"
	"golang.org/x/time/rate"
)

const rawBodyKey = "gateway.rawBody"

// Banner is the body of GET /.
const Banner = "group chat responder is running"

// registerRoutes sets up all routes on the gin router.
func registerRoutes(router *gin.Engine, opts Opts) {
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, Banner)
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	chain := []gin.HandlerFunc{readBody(opts.Metrics)}
	if opts.SigningSecret != "" {
		chain = append(chain, verifySignature(opts.SigningSecret, opts.Metrics, opts.Logger))
	}
	if opts.RateLimit > 0 {
		chain = append(chain, rateLimit(rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst), opts.Metrics))
	}
	chain = append(chain, handleWebhook(opts.Submitter, opts.Metrics, opts.Logger))
	router.POST(opts.WebhookPath, chain...)
}

// readBody buffers the request body for the later handlers.
func readBody(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			m.WebhookRequest("malformed")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Set(rawBodyKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

func rawBody(c *gin.Context) []byte {
	b, _ := c.Get(rawBodyKey)
	body, _ := b.([]byte)
	return body
}

// verifySignature rejects requests not signed with the app's signing secret.
func verifySignature(secret string, m *metrics.Metrics, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := slack.VerifyRequest(c.Request.Header, rawBody(c), secret); err != nil {
			log.Warn("rejected unsigned webhook request", "remote", c.ClientIP(), "error", err)
			m.WebhookRequest("unauthorized")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// rateLimit sheds load with a token bucket shared by all callers.
func rateLimit(limiter *rate.Limiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			m.WebhookRequest("rate_limited")
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

// handleWebhook answers handshakes and hands every other envelope to the
// dispatcher. A 200 means received, not processed.
func handleWebhook(sub Submitter, m *metrics.Metrics, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		env, err := chat.ParseEnvelope(rawBody(c))
		if err != nil {
			log.Warn("malformed webhook body", "error", err)
			m.WebhookRequest("malformed")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
			return
		}

		if env.IsHandshake() {
			log.Info("answering url verification challenge")
			m.WebhookRequest("challenge")
			c.JSON(http.StatusOK, gin.H{"challenge": env.Challenge})
			return
		}

		taskID, err := sub.Submit(env)
		if err != nil {
			if !errors.Is(err, dispatch.ErrQueueFull) && !errors.Is(err, dispatch.ErrStopped) {
				log.Error("submit failed", "error", err)
			} else {
				log.Warn("envelope not admitted", "error", err)
			}
			m.WebhookRequest("rejected")
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		log.Debug("envelope accepted", "task_id", taskID, "event_id", env.EventID)
		m.WebhookRequest("accepted")
		c.Status(http.StatusOK)
	}
}
