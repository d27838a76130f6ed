package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"clawback/internal/reconcile"
	"clawback/internal/repository"
)

type LedgerHandler struct {
	Repo     repository.Repository
	Reporter *reconcile.Reporter
}

func (h *LedgerHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/ledger")
	group.GET("/events", h.listEvents)
	group.GET("/events/:event_id", h.getEvent)
	group.GET("/reconciliation", h.reconciliation)
}

// @Summary List unified ledger events
// @Tags ledger
// @Produce json
// @Param merchant_id query string true "merchant"
// @Param source_type query string false "order|refund|adjustment|fee|reimbursement|inventory|return"
// @Param order_id query string false "filter by order"
// @Param sku query string false "filter by SKU"
// @Param start query string false "RFC3339 or YYYY-MM-DD"
// @Param end query string false "RFC3339 or YYYY-MM-DD"
// @Success 200 {object} apiResponse
// @Router /api/v1/ledger/events [get]
func (h *LedgerHandler) listEvents(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	merchantID := strings.TrimSpace(c.Query("merchant_id"))
	if merchantID == "" {
		Error(c, http.StatusBadRequest, "merchant_id is required", nil)
		return
	}
	order := strings.TrimSpace(strings.ToLower(c.Query("order")))
	orderBy := parseOrder(c.Query("sort_by"), map[string]string{
		"event_date": "event_date",
		"amount":     "amount",
		"created_at": "created_at",
	})
	if orderBy == "" {
		orderBy = "event_date"
	}

	params := repository.ListLedgerEventsParams{
		MerchantID: merchantID,
		SourceType: strQueryPtr(c, "source_type"),
		OrderID:    strQueryPtr(c, "order_id"),
		SKU:        strQueryPtr(c, "sku"),
		Start:      timeQueryPtr(c, "start"),
		End:        timeQueryPtr(c, "end"),
		Limit:      intQuery(c, "limit", 50),
		Offset:     intQuery(c, "offset", 0),
		OrderBy:    orderBy,
		Asc:        boolPtr(order == "asc"),
	}
	items, err := h.Repo.ListLedgerEvents(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountLedgerEvents(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(params.Limit, params.Offset, total))
}

// @Summary Get one ledger event with its merge lineage
// @Tags ledger
// @Produce json
// @Param event_id path string true "event id"
// @Success 200 {object} apiResponse
// @Router /api/v1/ledger/events/{event_id} [get]
func (h *LedgerHandler) getEvent(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	eventID := strings.TrimSpace(c.Param("event_id"))
	if eventID == "" {
		Error(c, http.StatusBadRequest, "invalid event id", nil)
		return
	}
	item, err := h.Repo.GetLedgerEventByID(c.Request.Context(), eventID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "event not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Generate a reconciliation report for a period
// @Tags ledger
// @Produce json
// @Param merchant_id query string true "merchant"
// @Param start query string true "RFC3339 or YYYY-MM-DD"
// @Param end query string true "RFC3339 or YYYY-MM-DD"
// @Success 200 {object} reconcile.Report
// @Router /api/v1/ledger/reconciliation [get]
func (h *LedgerHandler) reconciliation(c *gin.Context) {
	if h.Reporter == nil {
		Error(c, http.StatusInternalServerError, "reporter unavailable", nil)
		return
	}
	merchantID := strings.TrimSpace(c.Query("merchant_id"))
	if merchantID == "" {
		Error(c, http.StatusBadRequest, "merchant_id is required", nil)
		return
	}
	start := timeQueryPtr(c, "start")
	end := timeQueryPtr(c, "end")
	if start == nil || end == nil || !end.After(*start) {
		Error(c, http.StatusBadRequest, "start and end must form a valid range", nil)
		return
	}
	if end.Sub(*start) > 366*24*time.Hour {
		Error(c, http.StatusBadRequest, "range exceeds one year", nil)
		return
	}
	report, err := h.Reporter.Reconcile(c.Request.Context(), merchantID, *start, *end)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}
