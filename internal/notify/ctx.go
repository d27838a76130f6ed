package notify

import (
	"context"
	"time"
)

type ctxKey int

const clientCtxKey ctxKey = 1

const agentName = "clawback-engine"

func WithClient(ctx context.Context, c *Client) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, clientCtxKey, c)
}

func ClientFromContext(ctx context.Context) *Client {
	if ctx == nil {
		return nil
	}
	v := ctx.Value(clientCtxKey)
	c, _ := v.(*Client)
	return c
}

// PublishBestEffortCtx publishes an engine event if a notifier is wired into
// the context, swallowing any failure. Detection work never depends on it.
func PublishBestEffortCtx(ctx context.Context, action, level string, details map[string]any) {
	c := ClientFromContext(ctx)
	if c == nil {
		return
	}
	ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.PublishEvent(ctx2, PublishEventRequest{
		Agent:   agentName,
		Action:  action,
		Level:   level,
		Details: details,
	})
}
