package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"lawsim-backend/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MetricsRepository records per-call API metrics and computes plain-SQL
// aggregates over them.
type MetricsRepository struct {
	db *pgxpool.Pool
}

// NewMetricsRepository creates a new metrics repository
func NewMetricsRepository(db *pgxpool.Pool) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// Insert records one API call.
func (r *MetricsRepository) Insert(ctx context.Context, metric *models.APIMetric) error {
	metaJSON, err := json.Marshal(metric.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode metric meta: %w", err)
	}

	query := `
		INSERT INTO api_metrics (endpoint, ok, status_code, latency_ms, request_id, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.Exec(
		ctx, query,
		metric.Endpoint,
		metric.OK,
		metric.StatusCode,
		metric.LatencyMs,
		metric.RequestID,
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	return nil
}

func metricsFilter(endpoint string, days int) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if endpoint != "" {
		args = append(args, endpoint)
		clauses = append(clauses, fmt.Sprintf("endpoint = $%d", len(args)))
	}
	if days > 0 {
		args = append(args, days)
		clauses = append(clauses, fmt.Sprintf("created_at >= NOW() - make_interval(days => $%d)", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	where := "WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

// GetSummary aggregates recorded calls, optionally filtered by endpoint
// and a trailing window of days.
func (r *MetricsRepository) GetSummary(ctx context.Context, endpoint string, days int) (*models.MetricsSummary, error) {
	where, args := metricsFilter(endpoint, days)

	var total, okCount int
	var avgLatency float64
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN ok THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(latency_ms), 0.0)
		FROM api_metrics
		%s`, where), args...).Scan(&total, &okCount, &avgLatency)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate metrics: %w", err)
	}

	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT
			endpoint,
			COUNT(*),
			COALESCE(SUM(CASE WHEN ok THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(latency_ms), 0.0)
		FROM api_metrics
		%s
		GROUP BY endpoint
		ORDER BY endpoint ASC`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate metrics by endpoint: %w", err)
	}
	defer rows.Close()

	summary := &models.MetricsSummary{
		Total:        total,
		OK:           okCount,
		Fail:         total - okCount,
		OKRate:       ratio(okCount, total),
		AvgLatencyMs: avgLatency,
		ByEndpoint:   []models.EndpointSummary{},
	}

	for rows.Next() {
		var ep models.EndpointSummary
		if err := rows.Scan(&ep.Endpoint, &ep.Total, &ep.OK, &ep.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint summary: %w", err)
		}
		ep.Fail = ep.Total - ep.OK
		ep.OKRate = ratio(ep.OK, ep.Total)
		summary.ByEndpoint = append(summary.ByEndpoint, ep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating endpoint summaries: %w", err)
	}

	return summary, nil
}

// FetchRows returns raw metric rows, oldest first.
func (r *MetricsRepository) FetchRows(ctx context.Context, endpoint string, days int) ([]models.APIMetric, error) {
	where, args := metricsFilter(endpoint, days)

	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT id, endpoint, ok, status_code, latency_ms, request_id, meta_json, created_at
		FROM api_metrics
		%s
		ORDER BY id ASC`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var out []models.APIMetric
	for rows.Next() {
		var m models.APIMetric
		var metaJSON []byte
		err := rows.Scan(&m.ID, &m.Endpoint, &m.OK, &m.StatusCode, &m.LatencyMs, &m.RequestID, &metaJSON, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		if len(metaJSON) > 0 {
			// Undecodable meta is dropped, not fatal.
			_ = json.Unmarshal(metaJSON, &m.Meta)
		}
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metrics: %w", err)
	}

	return out, nil
}

// GetPaperKPIs computes the grounding-quality aggregates used for
// evaluation: citation hit rate on evidence-backed answers and the
// rejection rate on no-evidence turns.
func (r *MetricsRepository) GetPaperKPIs(ctx context.Context, days int) (*models.PaperKPI, error) {
	rows, err := r.FetchRows(ctx, "", days)
	if err != nil {
		return nil, err
	}

	var chatRows, caseStepRows []models.APIMetric
	for _, row := range rows {
		if !row.OK {
			continue
		}
		switch row.Endpoint {
		case "chat":
			chatRows = append(chatRows, row)
		case "case_step":
			caseStepRows = append(caseStepRows, row)
		}
	}

	var withEvidence, citationHits, noEvidence, noEvidenceRejects int
	for _, row := range chatRows {
		if metaInt(row.Meta, "evidence") > 0 {
			withEvidence++
			if metaInt(row.Meta, "citations") > 0 {
				citationHits++
			}
			continue
		}
		noEvidence++
		if isNoEvidenceReject(row.Meta) {
			noEvidenceRejects++
		}
	}

	kpi := &models.PaperKPI{
		ChatTotal:            len(chatRows),
		ChatWithEvidence:     withEvidence,
		CitationHitRate:      ratio(citationHits, withEvidence),
		ChatNoEvidence:       noEvidence,
		NoEvidenceRejectRate: ratio(noEvidenceRejects, noEvidence),
		ChatLatency:          latencyStats(chatRows),
		CaseStepLatency:      latencyStats(caseStepRows),
	}
	if days > 0 {
		kpi.Days = &days
	}
	return kpi, nil
}

// isNoEvidenceReject prefers the explicit flag recorded by the grounding
// guard; the citation/emotion heuristic remains as a fallback for rows
// recorded before the flag existed.
func isNoEvidenceReject(meta map[string]any) bool {
	if v, ok := meta["no_evidence_reject"].(bool); ok {
		return v
	}
	emotion, _ := meta["answer_emotion"].(string)
	return metaInt(meta, "citations") == 0 && emotion == string(models.EmotionSerious)
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func latencyStats(rows []models.APIMetric) models.LatencyStats {
	if len(rows) == 0 {
		return models.LatencyStats{}
	}
	values := make([]float64, 0, len(rows))
	sum := 0.0
	for _, row := range rows {
		values = append(values, row.LatencyMs)
		sum += row.LatencyMs
	}
	return models.LatencyStats{
		SampleSize: len(values),
		P50Ms:      percentile(values, 50),
		P90Ms:      percentile(values, 90),
		AvgMs:      sum / float64(len(values)),
	}
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := float64(len(sorted)-1) * (p / 100.0)
	low := int(rank)
	high := low + 1
	if high > len(sorted)-1 {
		high = len(sorted) - 1
	}
	weight := rank - float64(low)
	return sorted[low]*(1-weight) + sorted[high]*weight
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0.0
	}
	return float64(numerator) / float64(denominator)
}
