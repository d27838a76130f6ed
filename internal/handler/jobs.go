package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"clawback/internal/jobs"
	"clawback/internal/models"
	"clawback/internal/notify"
	"clawback/internal/repository"
)

type JobHandler struct {
	Service *jobs.Service
}

func (h *JobHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/jobs")
	group.POST("", h.enqueue)
	group.GET("", h.listJobs)
	group.GET("/:merchant_id/:sync_id", h.getJob)
}

type enqueueRequest struct {
	MerchantID string `json:"merchant_id" binding:"required"`
	SyncID     string `json:"sync_id" binding:"required"`
	Sandbox    bool   `json:"sandbox"`
}

// @Summary Enqueue a detection run for a synced dataset
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body enqueueRequest true "job identity"
// @Success 200 {object} apiResponse
// @Router /api/v1/jobs [post]
func (h *JobHandler) enqueue(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "job service unavailable", nil)
		return
	}
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	payload := models.JobPayload{
		MerchantID: strings.TrimSpace(req.MerchantID),
		SyncID:     strings.TrimSpace(req.SyncID),
		Sandbox:    req.Sandbox,
	}
	result, err := h.Service.Enqueue(c.Request.Context(), payload)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if result.Created {
		notify.PublishBestEffort(c, "clawback_job_enqueued", "info", map[string]any{
			"merchant_id": payload.MerchantID,
			"sync_id":     payload.SyncID,
			"mode":        result.Mode,
		})
	}
	Ok(c, map[string]any{
		"merchant_id": payload.MerchantID,
		"sync_id":     payload.SyncID,
		"created":     result.Created,
		"status":      result.Status,
		"mode":        result.Mode,
	}, nil)
}

// @Summary List detection jobs
// @Tags jobs
// @Produce json
// @Param merchant_id query string false "merchant"
// @Param status query string false "pending|processing|completed|failed"
// @Success 200 {object} apiResponse
// @Router /api/v1/jobs [get]
func (h *JobHandler) listJobs(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "job service unavailable", nil)
		return
	}
	items, err := h.Service.List(c.Request.Context(), repository.ListDetectionJobsParams{
		MerchantID: strQueryPtr(c, "merchant_id"),
		Status:     strQueryPtr(c, "status"),
		Limit:      intQuery(c, "limit", 50),
		Offset:     intQuery(c, "offset", 0),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

// @Summary Get one detection job by its identity
// @Tags jobs
// @Produce json
// @Param merchant_id path string true "merchant"
// @Param sync_id path string true "sync run"
// @Success 200 {object} apiResponse
// @Router /api/v1/jobs/{merchant_id}/{sync_id} [get]
func (h *JobHandler) getJob(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "job service unavailable", nil)
		return
	}
	merchantID := strings.TrimSpace(c.Param("merchant_id"))
	syncID := strings.TrimSpace(c.Param("sync_id"))
	if merchantID == "" || syncID == "" {
		Error(c, http.StatusBadRequest, "merchant_id and sync_id are required", nil)
		return
	}
	item, err := h.Service.Get(c.Request.Context(), merchantID, syncID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "job not found", nil)
		return
	}
	Ok(c, item, nil)
}
