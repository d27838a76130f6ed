package notify

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Clawback Engine

Marketplace event reconciliation and claim detection. Intended to be
accessed via the platform gateway.

## Auth

All /api/* routes require a Bearer token (validated by the gateway).
Health endpoints are public. Set CB_AUTH_DISABLED=true for local runs.

## Notable Routes

- GET  /healthz
- GET  /readyz
- GET  /swagger/index.html
- POST /api/v1/reports/ingest
- GET  /api/v1/ledger/events
- GET  /api/v1/ledger/reconciliation
- POST /api/v1/jobs
- GET  /api/v1/jobs/{merchant_id}/{sync_id}
- GET  /api/v1/findings
- POST /api/v1/findings/{id}/status
- GET  /api/v1/settings/switches
`)
	})
}
