package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lawsim-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func adminRouter(t *testing.T, tokenHash string) *gin.Engine {
	t.Helper()
	router := gin.New()
	router.GET("/api/admin/ping", AdminAuth(tokenHash), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return router
}

func TestAdminAuthNotConfigured(t *testing.T) {
	router := adminRouter(t, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminAuthRejectsMissingOrWrongToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	router := adminRouter(t, string(hash))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuthAcceptsToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	router := adminRouter(t, string(hash))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
	req.Header.Set("X-Admin-Token", "correct-horse")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Bearer form works too.
	req = httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer correct-horse")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

// blockingRecorder holds every insert until the test releases it.
type blockingRecorder struct {
	release chan struct{}
	metrics chan *models.APIMetric
}

func (r *blockingRecorder) Insert(_ context.Context, metric *models.APIMetric) error {
	<-r.release
	r.metrics <- metric
	return nil
}

func TestRequestMetricsRecordsInBackground(t *testing.T) {
	rec := &blockingRecorder{release: make(chan struct{}), metrics: make(chan *models.APIMetric, 1)}
	router := gin.New()
	router.GET("/ping", RequestMetrics(rec, "ping"), func(c *gin.Context) {
		setMetricMeta(c, map[string]any{"k": "v"})
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	// The response completes while the insert is still blocked.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	close(rec.release)
	select {
	case metric := <-rec.metrics:
		assert.Equal(t, "ping", metric.Endpoint)
		assert.True(t, metric.OK)
		assert.Equal(t, http.StatusOK, metric.StatusCode)
		assert.Equal(t, "v", metric.Meta["k"])
		require.NotNil(t, metric.RequestID)
		assert.Equal(t, w.Header().Get("X-Request-ID"), *metric.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("no metric recorded")
	}
}

func TestCORSPreflights(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware())
	router.POST("/api/chat", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
