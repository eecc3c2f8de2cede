package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"lawsim-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// metricMetaKey is the gin context key handlers use to attach per-call
// metadata (citation counts, rejection flags) to the recorded metric.
const metricMetaKey = "metric_meta"

// errorJSON writes the standard error envelope.
func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// setMetricMeta attaches metadata to the metric recorded for this call.
func setMetricMeta(c *gin.Context, meta map[string]any) {
	c.Set(metricMetaKey, meta)
}

// CORSMiddleware allows browser clients from any origin
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// MetricsRecorder persists one recorded API call.
type MetricsRecorder interface {
	Insert(ctx context.Context, metric *models.APIMetric) error
}

// RequestMetrics records one api_metrics row per call on the wrapped
// route. The insert runs in the background and must never affect the
// caller; failures are only logged.
func RequestMetrics(recorder MetricsRecorder, endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Writer.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		c.Next()
		latency := float64(time.Since(start).Microseconds()) / 1000.0

		var meta map[string]any
		if v, ok := c.Get(metricMetaKey); ok {
			meta, _ = v.(map[string]any)
		}

		status := c.Writer.Status()
		metric := &models.APIMetric{
			Endpoint:   endpoint,
			OK:         status < 400,
			StatusCode: status,
			LatencyMs:  latency,
			RequestID:  &requestID,
			Meta:       meta,
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := recorder.Insert(ctx, metric); err != nil {
				log.Printf("Warning: failed to record metric for %s: %v", endpoint, err)
			}
		}()
	}
}

// AdminAuth guards admin routes with a bcrypt-hashed token. The expected
// hash comes from configuration; the caller presents the plain token in
// X-Admin-Token or as a bearer token.
func AdminAuth(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			errorJSON(c, http.StatusServiceUnavailable, "ADMIN_DISABLED", "Admin access is not configured")
			c.Abort()
			return
		}

		token := c.GetHeader("X-Admin-Token")
		if token == "" {
			auth := c.GetHeader("Authorization")
			token = strings.TrimPrefix(auth, "Bearer ")
			if token == auth {
				token = ""
			}
		}
		if token == "" {
			errorJSON(c, http.StatusUnauthorized, "UNAUTHORIZED", "Admin token required")
			c.Abort()
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
			errorJSON(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid admin token")
			c.Abort()
			return
		}
		c.Next()
	}
}
