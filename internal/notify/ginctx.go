package notify

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

func ClientFromGin(c *gin.Context) *Client {
	if c == nil || c.Request == nil {
		return nil
	}
	return ClientFromContext(c.Request.Context())
}

// PublishBestEffort is the handler-side variant of PublishBestEffortCtx.
func PublishBestEffort(c *gin.Context, action, level string, details map[string]any) {
	client := ClientFromGin(c)
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = client.PublishEvent(ctx, PublishEventRequest{
		Agent:   agentName,
		Action:  action,
		Level:   level,
		Details: details,
	})
}
