package models

import "time"

// APIMetric is one recorded API call.
type APIMetric struct {
	ID         int64          `json:"id"`
	Endpoint   string         `json:"endpoint"`
	OK         bool           `json:"ok"`
	StatusCode int            `json:"status_code"`
	LatencyMs  float64        `json:"latency_ms"`
	RequestID  *string        `json:"request_id,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EndpointSummary aggregates recorded calls for a single endpoint.
type EndpointSummary struct {
	Endpoint     string  `json:"endpoint"`
	Total        int     `json:"total"`
	OK           int     `json:"ok"`
	Fail         int     `json:"fail"`
	OKRate       float64 `json:"ok_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// MetricsSummary aggregates recorded calls overall and per endpoint.
type MetricsSummary struct {
	Total        int               `json:"total"`
	OK           int               `json:"ok"`
	Fail         int               `json:"fail"`
	OKRate       float64           `json:"ok_rate"`
	AvgLatencyMs float64           `json:"avg_latency_ms"`
	ByEndpoint   []EndpointSummary `json:"by_endpoint"`
}

// LatencyStats summarizes latency for a set of calls.
type LatencyStats struct {
	SampleSize int     `json:"sample_size"`
	P50Ms      float64 `json:"p50_ms"`
	P90Ms      float64 `json:"p90_ms"`
	AvgMs      float64 `json:"avg_ms"`
}

// PaperKPI is the evaluation aggregate reported for grounding quality:
// how often answers with evidence carried citations, and how often
// no-evidence turns were explicitly rejected instead of answered.
type PaperKPI struct {
	Days                 *int         `json:"days"`
	ChatTotal            int          `json:"chat_total"`
	ChatWithEvidence     int          `json:"chat_with_evidence"`
	CitationHitRate      float64      `json:"citation_hit_rate"`
	ChatNoEvidence       int          `json:"chat_no_evidence"`
	NoEvidenceRejectRate float64      `json:"no_evidence_reject_rate"`
	ChatLatency          LatencyStats `json:"chat_latency"`
	CaseStepLatency      LatencyStats `json:"case_step_latency"`
}
