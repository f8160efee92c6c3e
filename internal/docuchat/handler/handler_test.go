package handler

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docuchat/internal/docuchat/model"
	"github.com/kart-io/docuchat/internal/docuchat/session"
	"github.com/kart-io/docuchat/internal/pkg/docload"
	"github.com/kart-io/docuchat/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockService 可编程的服务实现。
type mockService struct {
	uploadResult *model.UploadResult
	uploadErr    error
	queryResult  *model.QueryResult
	queryErr     error

	gotSessionID string
	gotQuestion  string
	gotFiles     []docload.File
}

func (m *mockService) UploadAndIndex(_ context.Context, sessionID string, files []docload.File) (*model.UploadResult, error) {
	m.gotSessionID = sessionID
	m.gotFiles = files
	return m.uploadResult, m.uploadErr
}

func (m *mockService) Query(_ context.Context, sessionID, question string) (*model.QueryResult, error) {
	m.gotSessionID = sessionID
	m.gotQuestion = question
	return m.queryResult, m.queryErr
}

func (m *mockService) Health(_ context.Context) *model.HealthStatus {
	return &model.HealthStatus{Status: "ok", ProvidersAvailable: []string{"together"}}
}

func (m *mockService) SweepSessions(_ context.Context) *model.SweepResult {
	return &model.SweepResult{Removed: 2}
}

func newTestRouter(t *testing.T, svc *mockService, maxUploadBytes int64) *gin.Engine {
	t.Helper()
	sessions := session.NewStore(time.Hour)
	t.Cleanup(sessions.Stop)

	h := NewHandler(svc, sessions, maxUploadBytes)
	r := gin.New()
	r.POST("/v1/upload", h.Upload)
	r.POST("/v1/query", h.Query)
	r.GET("/healthz", h.Health)
	r.POST("/v1/sessions/sweep", h.SweepSessions)
	r.GET("/metrics", h.Metrics)
	return r
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, content := range files {
		fw, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestUploadHappyPath(t *testing.T) {
	svc := &mockService{
		uploadResult: &model.UploadResult{SessionID: "s1", DocumentsLoaded: 2, ChunksIndexed: 5},
	}
	r := newTestRouter(t, svc, 1<<20)

	body, contentType := multipartBody(t, map[string]string{
		"a.txt": "hello world",
		"b.csv": "name,price\nLaptop,999\n",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(SessionHeader, "explicit-session")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "explicit-session", svc.gotSessionID)
	require.Len(t, svc.gotFiles, 2)
	assert.Contains(t, rec.Body.String(), `"documents_loaded":2`)

	// 服务层拿到的是客户端文件名，不是落盘的临时路径
	names := []string{svc.gotFiles[0].Name, svc.gotFiles[1].Name}
	assert.ElementsMatch(t, []string{"a.txt", "b.csv"}, names)
	for _, f := range svc.gotFiles {
		assert.NotContains(t, f.Name, "/")
		assert.NotEqual(t, f.Name, f.Path)
	}
}

func TestUploadNoFiles(t *testing.T) {
	r := newTestRouter(t, &mockService{}, 1<<20)

	body, contentType := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadOversizeFile(t *testing.T) {
	r := newTestRouter(t, &mockService{}, 8) // 8 字节上限

	body, contentType := multipartBody(t, map[string]string{
		"big.txt": "this content is larger than eight bytes",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadUnsupportedTypeOnly(t *testing.T) {
	r := newTestRouter(t, &mockService{}, 1<<20)

	body, contentType := multipartBody(t, map[string]string{
		"image.png": "not really an image",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unsupported file type")
}

func TestUploadServiceError(t *testing.T) {
	svc := &mockService{uploadErr: errors.ErrIndexBuildFailed}
	r := newTestRouter(t, svc, 1<<20)

	body, contentType := multipartBody(t, map[string]string{"a.txt": "content"})
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestQueryHappyPath(t *testing.T) {
	svc := &mockService{
		queryResult: &model.QueryResult{
			Answer:   "the laptop costs 999",
			Provider: "together",
			Sources:  []model.ChunkSource{{Source: "b.csv", Excerpt: "Laptop,999", Score: 0.92}},
		},
	}
	r := newTestRouter(t, svc, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/v1/query",
		strings.NewReader(`{"question":"how much is the laptop?","session_id":"s1"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", svc.gotSessionID)
	assert.Equal(t, "how much is the laptop?", svc.gotQuestion)
	assert.Contains(t, rec.Body.String(), "the laptop costs 999")
}

func TestQueryMissingQuestion(t *testing.T) {
	r := newTestRouter(t, &mockService{}, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuerySessionFromHeader(t *testing.T) {
	svc := &mockService{queryResult: &model.QueryResult{Answer: "a"}}
	r := newTestRouter(t, svc, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/v1/query",
		strings.NewReader(`{"question":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SessionHeader, "header-session")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "header-session", svc.gotSessionID)
}

func TestQuerySessionDerivedFromClient(t *testing.T) {
	svc := &mockService{queryResult: &model.QueryResult{Answer: "a"}}
	r := newTestRouter(t, svc, 1<<20)

	send := func() string {
		req := httptest.NewRequest(http.MethodPost, "/v1/query",
			strings.NewReader(`{"question":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.1.2.3:5555"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return svc.gotSessionID
	}

	// 同一客户端多次请求派生出同一个会话
	first := send()
	second := send()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestQueryErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"no index", errors.ErrNoIndex, http.StatusConflict},
		{"empty query", errors.ErrEmptyQuery, http.StatusBadRequest},
		{"all providers failed", errors.ErrAllProvidersFailed, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, &mockService{queryErr: tt.err}, 1<<20)

			req := httptest.NewRequest(http.MethodPost, "/v1/query",
				strings.NewReader(`{"question":"q","session_id":"s"}`))
			req.Header.Set("Content-Type", "application/json")

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t, &mockService{}, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), "together")
}

func TestSweepEndpoint(t *testing.T) {
	r := newTestRouter(t, &mockService{}, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/sweep", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":2`)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t, &mockService{}, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docuchat_queries_total")
}
