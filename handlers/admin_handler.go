package handlers

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"lawsim-backend/models"
	"lawsim-backend/repository"

	"github.com/gin-gonic/gin"
)

// AdminHandler handles HTTP requests for operational metrics
type AdminHandler struct {
	metricsRepo *repository.MetricsRepository
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(metricsRepo *repository.MetricsRepository) *AdminHandler {
	return &AdminHandler{metricsRepo: metricsRepo}
}

// parseDays reads the optional days query parameter; 0 means no window.
func parseDays(c *gin.Context) (int, bool) {
	raw := c.Query("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "days must be a non-negative integer")
		return 0, false
	}
	return days, true
}

// GetMetricsSummary handles GET /api/admin/metrics
func (h *AdminHandler) GetMetricsSummary(c *gin.Context) {
	days, ok := parseDays(c)
	if !ok {
		return
	}

	summary, err := h.metricsRepo.GetSummary(c.Request.Context(), c.Query("endpoint"), days)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "METRICS_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    summary,
	})
}

// GetPaperKPIs handles GET /api/admin/metrics/kpi
func (h *AdminHandler) GetPaperKPIs(c *gin.Context) {
	days, ok := parseDays(c)
	if !ok {
		return
	}

	kpi, err := h.metricsRepo.GetPaperKPIs(c.Request.Context(), days)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "METRICS_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    kpi,
	})
}

// ExportMetrics handles GET /api/admin/metrics/export. Default output is
// JSON rows; format=csv streams a CSV download instead.
func (h *AdminHandler) ExportMetrics(c *gin.Context) {
	days, ok := parseDays(c)
	if !ok {
		return
	}

	rows, err := h.metricsRepo.FetchRows(c.Request.Context(), c.Query("endpoint"), days)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "METRICS_FAILED", err.Error())
		return
	}

	if c.Query("format") == "csv" {
		h.writeCSV(c, rows)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"count": len(rows),
			"rows":  rows,
		},
	})
}

func (h *AdminHandler) writeCSV(c *gin.Context, rows []models.APIMetric) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="api_metrics.csv"`)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"id", "endpoint", "ok", "status_code", "latency_ms", "request_id", "meta_json", "created_at"})
	for _, row := range rows {
		metaJSON, _ := json.Marshal(row.Meta)
		requestID := ""
		if row.RequestID != nil {
			requestID = *row.RequestID
		}
		_ = w.Write([]string{
			strconv.FormatInt(row.ID, 10),
			row.Endpoint,
			strconv.FormatBool(row.OK),
			strconv.Itoa(row.StatusCode),
			strconv.FormatFloat(row.LatencyMs, 'f', 3, 64),
			requestID,
			string(metaJSON),
			row.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
}
