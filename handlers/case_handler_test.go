package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCaseUnknownID(t *testing.T) {
	env := newTestEnv(&fixedRetriever{})

	w, envelope := env.do(t, http.MethodPost, "/api/case/start", gin.H{"case_id": "no_such_case"})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "CASE_NOT_FOUND", errorCode(t, envelope))
}

func TestStartCaseMissingBody(t *testing.T) {
	env := newTestEnv(&fixedRetriever{})

	w, envelope := env.do(t, http.MethodPost, "/api/case/start", gin.H{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, envelope))
}

func TestStartCaseReturnsOpeningTurn(t *testing.T) {
	env := newTestEnv(&fixedRetriever{})

	w, envelope := env.do(t, http.MethodPost, "/api/case/start", gin.H{"case_id": "rent_deposit_dispute"})

	require.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, envelope)
	assert.Equal(t, "rent_deposit_dispute", data["case_id"])
	assert.Equal(t, "fact_confirm", data["state"])
	assert.NotEmpty(t, data["missing_slots"])
	assert.NotEmpty(t, data["next_question"])
}

func TestStepCaseUnknownSession(t *testing.T) {
	env := newTestEnv(&fixedRetriever{})

	w, envelope := env.do(t, http.MethodPost, "/api/case/step", gin.H{
		"session_id": "ghost",
		"user_input": "有合同",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, envelope))
}

func TestStepCaseBlankInput(t *testing.T) {
	env := newTestEnv(&fixedRetriever{})
	sessionID := startSession(t, env, "rent_deposit_dispute")

	w, envelope := env.do(t, http.MethodPost, "/api/case/step", gin.H{
		"session_id": sessionID,
		"user_input": "   ",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, envelope))
}

func TestStepCaseAdvancesWithCitations(t *testing.T) {
	env := newTestEnv(&fixedRetriever{results: retrievedFixture()})
	sessionID := startSession(t, env, "rent_deposit_dispute")

	w, envelope := env.do(t, http.MethodPost, "/api/case/step", gin.H{
		"session_id": sessionID,
		"user_input": "签了合同，无损坏，已经搬走，押金2000元",
	})

	require.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, envelope)
	assert.Equal(t, "dispute_identify", data["state"])

	citations, ok := data["citations"].([]any)
	require.True(t, ok)
	assert.Len(t, citations, 3)
}

func TestStepCaseRepromptMetricIsNotRejection(t *testing.T) {
	env := newTestEnv(&fixedRetriever{})
	sessionID := startSession(t, env, "rent_deposit_dispute")
	env.waitMetric(t) // case_start row

	w, _ := env.do(t, http.MethodPost, "/api/case/step", gin.H{
		"session_id": sessionID,
		"user_input": "我不太清楚",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// A fact re-prompt has no citations and a serious tone, but it never
	// attempted a conclusion, so it must not count as a rejection.
	metric := env.waitMetric(t)
	assert.Equal(t, "case_step", metric.Endpoint)
	assert.Equal(t, "fact_confirm", metric.Meta["state"])
	assert.Equal(t, 0, metric.Meta["citations"])
	assert.Equal(t, false, metric.Meta["no_evidence_reject"])
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(&fixedRetriever{})
	sessionID := startSession(t, env, "rent_deposit_dispute")

	w, envelope := env.do(t, http.MethodDelete, "/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, envelope)
	assert.Equal(t, true, data["deleted"])

	// The deleted session is gone for subsequent steps.
	w, envelope = env.do(t, http.MethodPost, "/api/case/step", gin.H{
		"session_id": sessionID,
		"user_input": "有合同",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, envelope))
}
