package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMissingMessage(t *testing.T) {
	env := newTestEnv(&fixedRetriever{})

	w, envelope := env.do(t, http.MethodPost, "/api/chat", gin.H{"session_id": "s1"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, envelope))
}

func TestChatAnswersWithCitations(t *testing.T) {
	env := newTestEnv(&fixedRetriever{results: retrievedFixture()})

	w, envelope := env.do(t, http.MethodPost, "/api/chat", gin.H{
		"session_id": "s1",
		"message":    "房东不退押金怎么办",
	})

	require.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, envelope)
	assert.Equal(t, "s1", data["session_id"])
	assert.NotEmpty(t, data["text"])

	citations, ok := data["citations"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, citations)
	first, ok := citations[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mf_1", first["chunk_id"])
}

func TestChatNoEvidenceRefuses(t *testing.T) {
	env := newTestEnv(&fixedRetriever{})

	w, envelope := env.do(t, http.MethodPost, "/api/chat", gin.H{
		"message": "一个知识库里没有的问题",
	})

	// Dialogue still succeeds; the answer itself is the refusal.
	require.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, envelope)
	assert.Equal(t, "serious", data["emotion"])

	citations, ok := data["citations"].([]any)
	require.True(t, ok)
	assert.Empty(t, citations)

	// The refusal is recorded as an explicit rejection.
	metric := env.waitMetric(t)
	assert.Equal(t, "chat", metric.Endpoint)
	assert.Equal(t, true, metric.Meta["no_evidence_reject"])
}

func TestChatAnsweredTurnMetricIsNotRejection(t *testing.T) {
	env := newTestEnv(&fixedRetriever{results: retrievedFixture()})

	w, _ := env.do(t, http.MethodPost, "/api/chat", gin.H{"message": "押金能退吗"})
	require.Equal(t, http.StatusOK, w.Code)

	metric := env.waitMetric(t)
	assert.Equal(t, false, metric.Meta["no_evidence_reject"])
	assert.Equal(t, 3, metric.Meta["citations"])
}
