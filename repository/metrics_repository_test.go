package repository

import (
	"testing"

	"lawsim-backend/models"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	assert.Equal(t, 0.0, percentile(nil, 50))
	assert.Equal(t, 7.0, percentile([]float64{7}, 90))

	values := []float64{10, 20, 30, 40}
	assert.InDelta(t, 25.0, percentile(values, 50), 1e-9)
	assert.InDelta(t, 37.0, percentile(values, 90), 1e-9)

	// Input order must not matter.
	assert.InDelta(t, 25.0, percentile([]float64{40, 10, 30, 20}, 50), 1e-9)
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, ratio(5, 0))
	assert.InDelta(t, 0.5, ratio(1, 2), 1e-9)
}

func TestLatencyStats(t *testing.T) {
	stats := latencyStats(nil)
	assert.Equal(t, 0, stats.SampleSize)

	rows := []models.APIMetric{
		{LatencyMs: 100},
		{LatencyMs: 200},
		{LatencyMs: 300},
	}
	stats = latencyStats(rows)
	assert.Equal(t, 3, stats.SampleSize)
	assert.InDelta(t, 200.0, stats.P50Ms, 1e-9)
	assert.InDelta(t, 200.0, stats.AvgMs, 1e-9)
}

func TestIsNoEvidenceRejectPrefersExplicitFlag(t *testing.T) {
	// Explicit flag wins even when the heuristic disagrees.
	assert.False(t, isNoEvidenceReject(map[string]any{
		"no_evidence_reject": false,
		"citations":          float64(0),
		"answer_emotion":     "serious",
	}))
	assert.True(t, isNoEvidenceReject(map[string]any{
		"no_evidence_reject": true,
		"citations":          float64(3),
	}))

	// Heuristic fallback for rows without the flag.
	assert.True(t, isNoEvidenceReject(map[string]any{
		"citations":      float64(0),
		"answer_emotion": "serious",
	}))
	assert.False(t, isNoEvidenceReject(map[string]any{
		"citations":      float64(2),
		"answer_emotion": "serious",
	}))
}

func TestMetricsFilter(t *testing.T) {
	where, args := metricsFilter("", 0)
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = metricsFilter("chat", 7)
	assert.Equal(t, "WHERE endpoint = $1 AND created_at >= NOW() - make_interval(days => $2)", where)
	assert.Equal(t, []interface{}{"chat", 7}, args)
}

func TestFormatVector(t *testing.T) {
	assert.Equal(t, "[]", formatVector(nil))
	assert.Equal(t, "[1.000000,-0.500000]", formatVector([]float64{1, -0.5}))
}
