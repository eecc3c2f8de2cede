package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"lawsim-backend/models"
	"lawsim-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.CaseSession
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: make(map[string]*models.CaseSession)}
}

func (m *memorySessionStore) Get(_ context.Context, sessionID string) (*models.CaseSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (m *memorySessionStore) Save(_ context.Context, session *models.CaseSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.SessionID] = &copied
	return nil
}

func (m *memorySessionStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

type fixedRetriever struct {
	results []models.RetrievedChunk
}

func (f *fixedRetriever) Search(_ context.Context, _ string, _ int) ([]models.RetrievedChunk, error) {
	return f.results, nil
}

func retrievedFixture() []models.RetrievedChunk {
	law := "中华人民共和国民法典"
	article := "第七百一十条"
	return []models.RetrievedChunk{
		{ChunkID: "mf_1", Text: "承租人按照约定的方法使用租赁物的，不承担赔偿责任。", LawName: &law, ArticleNo: &article},
		{ChunkID: "mf_2", Text: "出租人应当履行租赁物的维修义务。", LawName: &law},
		{ChunkID: "mf_3", Text: "租赁期限届满，承租人应当返还租赁物。", LawName: &law},
	}
}

// captureRecorder collects metric rows the middleware writes in the
// background.
type captureRecorder struct {
	metrics chan *models.APIMetric
}

func newCaptureRecorder() *captureRecorder {
	return &captureRecorder{metrics: make(chan *models.APIMetric, 16)}
}

func (r *captureRecorder) Insert(_ context.Context, metric *models.APIMetric) error {
	r.metrics <- metric
	return nil
}

type testEnv struct {
	router   *gin.Engine
	sessions *memorySessionStore
	recorder *captureRecorder
}

func newTestEnv(retriever service.Retriever) *testEnv {
	catalog := service.NewCaseTemplateCatalog()
	sessions := newMemorySessionStore()
	recorder := newCaptureRecorder()

	caseService := service.NewCaseService(
		service.CaseWithCatalog(catalog),
		service.CaseWithSlotExtractor(service.NewSlotExtractor(catalog)),
		service.CaseWithRetriever(retriever),
		service.CaseWithSessionStore(sessions),
	)
	chatService := service.NewChatService(
		service.ChatWithRetriever(retriever),
		service.ChatWithLLM(&service.MockLLM{}),
	)

	caseHandler := NewCaseHandler(caseService, nil, sessions)
	chatHandler := NewChatHandler(chatService, nil)

	router := gin.New()
	api := router.Group("/api")
	api.POST("/case/start", RequestMetrics(recorder, "case_start"), caseHandler.StartCase)
	api.POST("/case/step", RequestMetrics(recorder, "case_step"), caseHandler.StepCase)
	api.DELETE("/sessions/:id", caseHandler.DeleteSession)
	api.POST("/chat", RequestMetrics(recorder, "chat"), chatHandler.Chat)

	return &testEnv{router: router, sessions: sessions, recorder: recorder}
}

// waitMetric blocks for the next background metric insert.
func (e *testEnv) waitMetric(t *testing.T) *models.APIMetric {
	t.Helper()
	select {
	case metric := <-e.recorder.metrics:
		return metric
	case <-time.After(2 * time.Second):
		t.Fatal("no metric recorded")
		return nil
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	return w, decoded
}

func errorCode(t *testing.T, envelope map[string]any) string {
	t.Helper()
	errObj, ok := envelope["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", envelope)
	code, _ := errObj["code"].(string)
	return code
}

func dataField(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok, "expected data envelope, got %v", envelope)
	return data
}

func startSession(t *testing.T, env *testEnv, caseID string) string {
	t.Helper()
	w, envelope := env.do(t, http.MethodPost, "/api/case/start", gin.H{"case_id": caseID})
	require.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, envelope)
	sessionID, _ := data["session_id"].(string)
	require.NotEmpty(t, sessionID)
	return sessionID
}
