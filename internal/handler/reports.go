package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clawback/internal/ledger"
	"clawback/internal/notify"
	"clawback/internal/service"
)

type ReportHandler struct {
	Service *service.ReportIngestService
	Logger  *zap.Logger
}

func (h *ReportHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/reports")
	group.POST("/ingest", h.ingest)
}

type ingestRequest struct {
	MerchantID   string                  `json:"merchant_id" binding:"required"`
	SourceType   string                  `json:"source_type" binding:"required"`
	SourceReport string                  `json:"source_report"`
	Rows         []ledger.RawSourceEvent `json:"rows"`
}

// @Summary Ingest one source report batch into the unified ledger
// @Tags reports
// @Accept json
// @Produce json
// @Param request body ingestRequest true "report batch"
// @Success 200 {object} service.IngestResult
// @Router /api/v1/reports/ingest [post]
func (h *ReportHandler) ingest(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "ingest service unavailable", nil)
		return
	}
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if len(req.Rows) == 0 {
		Error(c, http.StatusBadRequest, "rows is empty", nil)
		return
	}
	sourceReport := strings.TrimSpace(req.SourceReport)
	if sourceReport == "" {
		sourceReport = "api"
	}

	result, err := h.Service.Ingest(c.Request.Context(), service.IngestRequest{
		MerchantID:   strings.TrimSpace(req.MerchantID),
		SourceType:   strings.TrimSpace(strings.ToLower(req.SourceType)),
		SourceReport: sourceReport,
		Rows:         req.Rows,
	})
	if err != nil {
		Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
		return
	}

	notify.PublishBestEffort(c, "clawback_report_ingested", "info", map[string]any{
		"merchant_id": req.MerchantID,
		"source_type": req.SourceType,
		"accepted":    result.Accepted,
		"unique":      result.Unique,
		"duplicates":  result.Duplicates,
		"degraded":    result.Degraded,
	})
	Ok(c, result, nil)
}
