package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"clawback/internal/finding"
	"clawback/internal/models"
	"clawback/internal/repository"
)

type FindingHandler struct {
	Repo    repository.Repository
	Manager *finding.Manager
}

func (h *FindingHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/findings")
	group.GET("", h.listFindings)
	group.GET("/:id", h.getFinding)
	group.POST("/:id/status", h.updateStatus)
}

// findingView decorates a stored finding with the derived days-remaining.
type findingView struct {
	models.DetectionFinding
	DaysRemaining int `json:"days_remaining"`
}

func toView(item models.DetectionFinding, now time.Time) findingView {
	return findingView{
		DetectionFinding: item,
		DaysRemaining:    finding.DaysRemaining(item.DeadlineDate, now),
	}
}

// @Summary List detection findings
// @Tags findings
// @Produce json
// @Param merchant_id query string false "merchant"
// @Param sync_id query string false "sync run"
// @Param anomaly_type query string false "anomaly type"
// @Param severity query string false "critical|high|medium|low"
// @Param status query string false "pending|reviewed|disputed|resolved|expired"
// @Param min_confidence query number false "confidence floor"
// @Param min_value query number false "estimated value floor"
// @Success 200 {object} apiResponse
// @Router /api/v1/findings [get]
func (h *FindingHandler) listFindings(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	order := strings.TrimSpace(strings.ToLower(c.Query("order")))
	orderBy := parseOrder(c.Query("sort_by"), map[string]string{
		"estimated_value":  "estimated_value",
		"confidence_score": "confidence_score",
		"deadline_date":    "deadline_date",
		"discovery_date":   "discovery_date",
		"created_at":       "created_at",
	})
	if orderBy == "" {
		orderBy = "discovery_date"
	}

	params := repository.ListFindingsParams{
		MerchantID:    strQueryPtr(c, "merchant_id"),
		SyncID:        strQueryPtr(c, "sync_id"),
		AnomalyType:   strQueryPtr(c, "anomaly_type"),
		Severity:      strQueryPtr(c, "severity"),
		Status:        strQueryPtr(c, "status"),
		MinConfidence: float64QueryPtr(c, "min_confidence"),
		MinValue:      decimalQueryPtr(c, "min_value"),
		Limit:         intQuery(c, "limit", 50),
		Offset:        intQuery(c, "offset", 0),
		OrderBy:       orderBy,
		Asc:           boolPtr(order == "asc"),
	}
	items, err := h.Repo.ListFindings(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountFindings(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	now := time.Now().UTC()
	views := make([]findingView, 0, len(items))
	for _, item := range items {
		views = append(views, toView(item, now))
	}
	Ok(c, views, paginationMeta(params.Limit, params.Offset, total))
}

// @Summary Get one finding with evidence and days remaining
// @Tags findings
// @Produce json
// @Param id path int true "finding id"
// @Success 200 {object} apiResponse
// @Router /api/v1/findings/{id} [get]
func (h *FindingHandler) getFinding(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetFindingByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "finding not found", nil)
		return
	}
	Ok(c, toView(*item, time.Now().UTC()), nil)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// @Summary Transition a finding's review status
// @Tags findings
// @Accept json
// @Produce json
// @Param id path int true "finding id"
// @Param request body statusRequest true "target status"
// @Success 200 {object} apiResponse
// @Router /api/v1/findings/{id}/status [post]
func (h *FindingHandler) updateStatus(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusInternalServerError, "finding manager unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	status := strings.TrimSpace(strings.ToLower(req.Status))
	if err := h.Manager.Transition(c.Request.Context(), id, status); err != nil {
		if strings.Contains(err.Error(), "not found") {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		if strings.Contains(err.Error(), "invalid status transition") {
			Error(c, http.StatusConflict, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"id": id, "status": status}, nil)
}
