// Package biz implements the per-session retrieval pipeline: document
// loading, chunking, embedding, index construction, and retrieval-grounded
// answer generation through an ordered provider chain.
package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/docuchat/internal/docuchat/metrics"
	"github.com/kart-io/docuchat/internal/docuchat/model"
	"github.com/kart-io/docuchat/internal/docuchat/session"
	"github.com/kart-io/docuchat/internal/pkg/docload"
	"github.com/kart-io/docuchat/pkg/errors"
	"github.com/kart-io/docuchat/pkg/llm"
)

// Service 定义文档问答服务接口。
type Service interface {
	// UploadAndIndex 加载文件、构建向量索引并绑定到会话。
	UploadAndIndex(ctx context.Context, sessionID string, files []docload.File) (*model.UploadResult, error)
	// Query 在会话范围内回答问题。
	Query(ctx context.Context, sessionID, question string) (*model.QueryResult, error)
	// Health 返回服务健康状态。
	Health(ctx context.Context) *model.HealthStatus
	// SweepSessions 同步执行一次会话过期清理。
	SweepSessions(ctx context.Context) *model.SweepResult
}

// ServiceConfig 服务配置。
type ServiceConfig struct {
	IndexerConfig    *IndexerConfig
	AnswererConfig   *AnswererConfig
	QueryCacheConfig *QueryCacheConfig
}

// DocuChatService 组合加载、索引、检索和会话管理提供完整的问答服务。
type DocuChatService struct {
	sessions      *session.Store
	loader        *docload.Loader
	indexer       *Indexer
	chain         *llm.Chain
	embedProvider llm.EmbeddingProvider
	cache         *QueryCache
	config        *ServiceConfig
	metrics       *metrics.Metrics
	startTime     time.Time
}

// NewService 创建问答服务实例。
// embedProvider 是进程级固定的嵌入供应商，索引与查询必须使用同一个。
func NewService(
	sessions *session.Store,
	loader *docload.Loader,
	chain *llm.Chain,
	embedProvider llm.EmbeddingProvider,
	cache *QueryCache,
	config *ServiceConfig,
) *DocuChatService {
	s := &DocuChatService{
		sessions:      sessions,
		loader:        loader,
		indexer:       NewIndexer(embedProvider, config.IndexerConfig),
		chain:         chain,
		embedProvider: embedProvider,
		cache:         cache,
		config:        config,
		metrics:       metrics.Get(),
		startTime:     time.Now(),
	}
	sessions.OnExpired(s.metrics.RecordSessionsExpired)
	return s
}

// UploadAndIndex 执行上传管线：加载 → 切块 → 向量化 → 建索引 → 注册会话。
// 构建失败时不触碰会话的既有索引，正在进行的查询不受影响。
func (s *DocuChatService) UploadAndIndex(ctx context.Context, sessionID string, files []docload.File) (*model.UploadResult, error) {
	if s.embedProvider == nil {
		return nil, errors.ErrNoProviderConfigured
	}

	docs, failed := s.loader.Load(files)
	if len(docs) == 0 {
		// 有文件但全部解析失败与空上传是不同的错误
		if failed > 0 {
			s.metrics.RecordUpload(0, 0, errors.ErrDocumentLoadFailed)
			return nil, errors.ErrDocumentLoadFailed
		}
		s.metrics.RecordUpload(0, 0, errors.ErrNoDocuments)
		return nil, errors.ErrNoDocuments
	}

	// 向量化和索引构建都在锁外执行
	index, err := s.indexer.BuildIndex(ctx, docs)
	if err != nil {
		s.metrics.RecordUpload(0, 0, err)
		logger.Errorw("index build failed, previous session state untouched",
			"session_id", sessionID,
			"documents", len(docs),
			"error", err.Error(),
		)
		return nil, errors.ErrIndexBuildFailed.WithCause(err)
	}

	answerer, err := NewRetrievalAnswerer(index, s.embedProvider, s.chain, s.config.AnswererConfig)
	if err != nil {
		s.metrics.RecordUpload(0, 0, err)
		return nil, errors.ErrIndexBuildFailed.WithCause(err)
	}

	_, existed := s.sessions.Get(sessionID)
	s.sessions.Put(sessionID, answerer)
	if !existed {
		s.metrics.RecordSessionCreated()
	}

	// 旧索引的缓存答案必须随索引一起失效
	s.cache.Invalidate(ctx, sessionID)

	s.metrics.RecordUpload(len(docs), index.Len(), nil)
	logger.Infow("session index registered",
		"session_id", sessionID,
		"documents", len(docs),
		"chunks", index.Len(),
	)

	return &model.UploadResult{
		SessionID:       sessionID,
		DocumentsLoaded: len(docs),
		ChunksIndexed:   index.Len(),
	}, nil
}

// Query 在会话范围内回答问题。
func (s *DocuChatService) Query(ctx context.Context, sessionID, question string) (*model.QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		s.metrics.RecordQuery(false, errors.ErrEmptyQuery)
		return nil, errors.ErrEmptyQuery
	}

	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		s.metrics.RecordQuery(false, errors.ErrNoIndex)
		return nil, errors.ErrNoIndex
	}

	if cached := s.cache.Get(ctx, sessionID, question); cached != nil {
		cached.Cached = true
		s.metrics.RecordQuery(true, nil)
		return cached, nil
	}

	result, err := sess.Answerer.Answer(ctx, question)
	if err != nil {
		s.metrics.RecordQuery(false, err)
		return nil, errors.FromError(err)
	}

	s.cache.Set(ctx, sessionID, question, result)
	s.metrics.RecordQuery(false, nil)
	return result, nil
}

// Health 返回服务健康状态。没有任何可用供应商时标记为 degraded。
func (s *DocuChatService) Health(_ context.Context) *model.HealthStatus {
	status := "ok"
	if s.chain.Empty() {
		status = "degraded"
	}

	return &model.HealthStatus{
		Status:             status,
		ActiveSessions:     s.sessions.Len(),
		ProvidersAvailable: s.chain.Names(),
		ProvidersSkipped:   s.chain.Skipped(),
		UptimeSeconds:      time.Since(s.startTime).Seconds(),
		Metrics:            s.metrics.Stats(),
	}
}

// SweepSessions 同步执行一次会话过期清理。
func (s *DocuChatService) SweepSessions(_ context.Context) *model.SweepResult {
	return &model.SweepResult{Removed: s.sessions.Sweep()}
}

// 确保 DocuChatService 实现了 Service 接口。
var _ Service = (*DocuChatService)(nil)
