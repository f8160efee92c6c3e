package biz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docuchat/internal/docuchat/metrics"
	"github.com/kart-io/docuchat/internal/docuchat/session"
	"github.com/kart-io/docuchat/internal/pkg/docload"
	"github.com/kart-io/docuchat/pkg/errors"
	"github.com/kart-io/docuchat/pkg/llm"
)

// stubEmbedder 生成确定性的 4 维向量，失败开关用于测试全有或全无。
type stubEmbedder struct {
	fail      bool
	callCount int
}

func embedText(text string) []float32 {
	var sum float32
	for _, r := range text {
		sum += float32(r % 13)
	}
	return []float32{sum + 1, float32(len(text) + 1), 1, 0.5}
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.callCount++
	if s.fail {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (s *stubEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubEmbedder) Name() string { return "stub-embed" }

// stubChat 可编程的 Chat 供应商。
type stubChat struct {
	name      string
	answer    string
	err       error
	callCount int
}

func (s *stubChat) Chat(_ context.Context, _ []llm.Message) (string, error) {
	return s.answer, s.err
}

func (s *stubChat) Generate(_ context.Context, _ string, _ string) (*llm.GenerateResponse, error) {
	s.callCount++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.GenerateResponse{
		Content:    s.answer,
		TokenUsage: &llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (s *stubChat) Name() string { return s.name }

func writeTempFile(t *testing.T, name, content string) docload.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return docload.File{Name: name, Path: path, Type: filepath.Ext(name)}
}

func newTestService(t *testing.T, embed llm.EmbeddingProvider, chats ...*stubChat) (*DocuChatService, *session.Store) {
	t.Helper()

	var entries []llm.ChainEntry
	for _, c := range chats {
		entries = append(entries, llm.ChainEntry{Name: c.name, Chat: c, Embed: embed})
	}
	chain := llm.NewChain(entries, nil)

	sessions := session.NewStore(time.Hour)
	t.Cleanup(sessions.Stop)

	svc := NewService(sessions, docload.NewLoader(0), chain, embed, nil, &ServiceConfig{
		IndexerConfig:  &IndexerConfig{ChunkSize: 100, ChunkOverlap: 10},
		AnswererConfig: &AnswererConfig{TopK: 2, PromptTemplate: "Context:\n{{context}}\nQuestion: {{question}}"},
	})
	return svc, sessions
}

func TestUploadAndIndex(t *testing.T) {
	embed := &stubEmbedder{}
	svc, sessions := newTestService(t, embed, &stubChat{name: "primary", answer: "42"})

	files := []docload.File{
		writeTempFile(t, "a.txt", "The answer to everything is 42."),
		writeTempFile(t, "b.csv", "name,price\nLaptop,999\nMouse,25\n"),
	}

	result, err := svc.UploadAndIndex(context.Background(), "sess-1", files)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", result.SessionID)
	// 1 个文本文件 + 2 行 CSV
	assert.Equal(t, 3, result.DocumentsLoaded)
	assert.GreaterOrEqual(t, result.ChunksIndexed, 3)

	sess, ok := sessions.Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, result.ChunksIndexed, sess.Answerer.ChunkCount())
}

func TestUploadNoDocuments(t *testing.T) {
	svc, _ := newTestService(t, &stubEmbedder{}, &stubChat{name: "primary", answer: "x"})

	// 不支持的类型被跳过，批次为空
	files := []docload.File{writeTempFile(t, "image.png", "not really an image")}

	_, err := svc.UploadAndIndex(context.Background(), "sess-1", files)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNoDocuments.Code))
}

func TestUploadAllFilesFailToParse(t *testing.T) {
	svc, _ := newTestService(t, &stubEmbedder{}, &stubChat{name: "primary", answer: "x"})

	// 受支持的类型但内容损坏，与空批次区分开
	files := []docload.File{writeTempFile(t, "broken.pdf", "this is not a pdf")}

	_, err := svc.UploadAndIndex(context.Background(), "sess-1", files)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrDocumentLoadFailed.Code))
}

func TestUploadBuildFailureKeepsPreviousIndex(t *testing.T) {
	embed := &stubEmbedder{}
	primary := &stubChat{name: "primary", answer: "from old index"}
	svc, _ := newTestService(t, embed, primary)

	good := []docload.File{writeTempFile(t, "good.txt", "stable knowledge base content")}
	_, err := svc.UploadAndIndex(context.Background(), "sess-1", good)
	require.NoError(t, err)

	// 第二次上传向量化失败，必须保留旧索引
	embed.fail = true
	_, err = svc.UploadAndIndex(context.Background(), "sess-1", good)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrIndexBuildFailed.Code))

	embed.fail = false
	result, err := svc.Query(context.Background(), "sess-1", "what is stable?")
	require.NoError(t, err)
	assert.Equal(t, "from old index", result.Answer)
}

func TestQueryValidation(t *testing.T) {
	svc, _ := newTestService(t, &stubEmbedder{}, &stubChat{name: "primary", answer: "x"})

	_, err := svc.Query(context.Background(), "sess-1", "   ")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrEmptyQuery.Code))

	// 未上传过文档的会话
	_, err = svc.Query(context.Background(), "fresh-session", "anything?")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNoIndex.Code))
}

func TestQueryHappyPath(t *testing.T) {
	embed := &stubEmbedder{}
	primary := &stubChat{name: "together", answer: "The laptop costs 999."}
	svc, _ := newTestService(t, embed, primary)

	files := []docload.File{writeTempFile(t, "products.csv", "name,price\nLaptop,999\nMouse,25\n")}
	_, err := svc.UploadAndIndex(context.Background(), "sess-1", files)
	require.NoError(t, err)

	result, err := svc.Query(context.Background(), "sess-1", "how much is the laptop?")
	require.NoError(t, err)
	assert.Equal(t, "The laptop costs 999.", result.Answer)
	assert.Equal(t, "together", result.Provider)
	require.NotEmpty(t, result.Sources)
	assert.Equal(t, "products.csv", result.Sources[0].Source)
	assert.NotEmpty(t, result.Sources[0].Excerpt)
	assert.Contains(t, result.Sources[0].Location, "row")
}

func TestQueryProviderFallback(t *testing.T) {
	metrics.Get().Reset()

	embed := &stubEmbedder{}
	primary := &stubChat{name: "together", err: fmt.Errorf("status code 503")}
	fallback := &stubChat{name: "gemini", answer: "fallback answer"}
	svc, _ := newTestService(t, embed, primary, fallback)

	files := []docload.File{writeTempFile(t, "doc.txt", "some indexed content")}
	_, err := svc.UploadAndIndex(context.Background(), "sess-1", files)
	require.NoError(t, err)

	result, err := svc.Query(context.Background(), "sess-1", "question?")
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", result.Answer)
	assert.Equal(t, "gemini", result.Provider)
	assert.Equal(t, 1, primary.callCount)
	assert.Equal(t, 1, fallback.callCount)

	// 降级回答计入指标
	llmStats := metrics.Get().Stats()["llm"].(map[string]any)
	assert.Equal(t, uint64(1), llmStats["fallbacks"])
}

func TestQueryFirstProviderNoFallbackMetric(t *testing.T) {
	metrics.Get().Reset()

	embed := &stubEmbedder{}
	primary := &stubChat{name: "together", answer: "direct answer"}
	svc, _ := newTestService(t, embed, primary, &stubChat{name: "gemini", answer: "unused"})

	files := []docload.File{writeTempFile(t, "doc.txt", "some indexed content")}
	_, err := svc.UploadAndIndex(context.Background(), "sess-1", files)
	require.NoError(t, err)

	_, err = svc.Query(context.Background(), "sess-1", "question?")
	require.NoError(t, err)

	llmStats := metrics.Get().Stats()["llm"].(map[string]any)
	assert.Equal(t, uint64(0), llmStats["fallbacks"])
}

func TestQueryAllProvidersFailed(t *testing.T) {
	embed := &stubEmbedder{}
	primary := &stubChat{name: "together", err: fmt.Errorf("status code 500")}
	secondary := &stubChat{name: "gemini", err: fmt.Errorf("status code 502")}
	svc, _ := newTestService(t, embed, primary, secondary)

	files := []docload.File{writeTempFile(t, "doc.txt", "content to index")}
	_, err := svc.UploadAndIndex(context.Background(), "sess-1", files)
	require.NoError(t, err)

	_, err = svc.Query(context.Background(), "sess-1", "question?")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAllProvidersFailed.Code))
	// 错误信息必须带上按序尝试过的供应商名单
	assert.Contains(t, err.Error(), "together")
	assert.Contains(t, err.Error(), "gemini")
}

func TestHealth(t *testing.T) {
	svc, sessions := newTestService(t, &stubEmbedder{},
		&stubChat{name: "together", answer: "x"},
		&stubChat{name: "ollama", answer: "y"},
	)

	health := svc.Health(context.Background())
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.ActiveSessions)
	assert.Equal(t, []string{"together", "ollama"}, health.ProvidersAvailable)
	assert.NotNil(t, health.Metrics)

	sessions.Put("sess-1", nil)
	health = svc.Health(context.Background())
	assert.Equal(t, 1, health.ActiveSessions)
}

func TestHealthDegradedWithEmptyChain(t *testing.T) {
	svc, _ := newTestService(t, &stubEmbedder{})

	health := svc.Health(context.Background())
	assert.Equal(t, "degraded", health.Status)
	assert.Empty(t, health.ProvidersAvailable)
}

func TestSweepSessions(t *testing.T) {
	embed := &stubEmbedder{}
	svc, sessions := newTestService(t, embed, &stubChat{name: "primary", answer: "x"})

	sessions.Put("sess-1", nil)
	result := svc.SweepSessions(context.Background())
	// TTL 一小时，刚创建的会话不应被清理
	assert.Equal(t, 0, result.Removed)
	assert.Equal(t, 1, sessions.Len())
}
