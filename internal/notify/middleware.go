package notify

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func InjectClientMiddleware(c *Client) gin.HandlerFunc {
	return func(g *gin.Context) {
		if c != nil && g.Request != nil {
			g.Request = g.Request.WithContext(WithClient(g.Request.Context(), c))
		}
		g.Next()
	}
}

// RequireBearerMiddleware gates the API surface behind the platform gateway's
// bearer token. Infra endpoints stay open.
func RequireBearerMiddleware() gin.HandlerFunc {
	disabled := strings.EqualFold(os.Getenv("CB_AUTH_DISABLED"), "true") || os.Getenv("CB_AUTH_DISABLED") == "1"

	return func(c *gin.Context) {
		if disabled {
			c.Next()
			return
		}
		p := c.Request.URL.Path
		if p == "/healthz" || p == "/readyz" || p == "/metrics" {
			c.Next()
			return
		}
		if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/swagger") {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if !strings.HasPrefix(auth, "Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
				return
			}
		}
		c.Next()
	}
}

// WriteAuditMiddleware publishes a best-effort audit event for write-ish API
// calls (ingest, enqueue, status transitions).
func WriteAuditMiddleware(client *Client, logger *zap.Logger) gin.HandlerFunc {
	if client == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		method := strings.ToUpper(c.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}

		status := c.Writer.Status()
		dur := time.Since(start)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := client.PublishEvent(ctx, PublishEventRequest{
			Agent:  agentName,
			Action: "clawback_http_write",
			Level:  levelFromStatus(status),
			Details: map[string]any{
				"method":   method,
				"path":     path,
				"status":   status,
				"duration": dur.String(),
			},
		})
		if err != nil && logger != nil {
			logger.Debug("audit event publish failed", zap.Error(err))
		}
	}
}

func levelFromStatus(status int) string {
	if status >= 500 {
		return "error"
	}
	if status >= 400 {
		return "warn"
	}
	return "info"
}
