package biz

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/docuchat/internal/docuchat/metrics"
	"github.com/kart-io/docuchat/internal/docuchat/model"
	"github.com/kart-io/docuchat/internal/docuchat/store"
	"github.com/kart-io/docuchat/internal/pkg/textutil"
	"github.com/kart-io/docuchat/pkg/errors"
	"github.com/kart-io/docuchat/pkg/llm"
)

// excerptRunes 返回给调用方的片段摘录长度。
const excerptRunes = 200

// AnswererConfig 回答器配置。
type AnswererConfig struct {
	// TopK 每次检索的块数。
	TopK int
	// PromptTemplate 提示词模板，包含 {{context}} 和 {{question}} 占位符。
	PromptTemplate string
}

// RetrievalAnswerer 绑定一个会话的索引，负责检索加生成。
// 索引构建后不可变，因此可以被并发查询安全共享。
type RetrievalAnswerer struct {
	index         *store.Index
	embedProvider llm.EmbeddingProvider
	chain         *llm.Chain
	config        *AnswererConfig
	metrics       *metrics.Metrics
}

// NewRetrievalAnswerer 创建回答器。index 必须是已成功构建的索引，
// 禁止针对空索引构建回答器。
func NewRetrievalAnswerer(
	index *store.Index,
	embedProvider llm.EmbeddingProvider,
	chain *llm.Chain,
	config *AnswererConfig,
) (*RetrievalAnswerer, error) {
	if index == nil || index.Len() == 0 {
		return nil, fmt.Errorf("cannot create answerer without a built index")
	}
	return &RetrievalAnswerer{
		index:         index,
		embedProvider: embedProvider,
		chain:         chain,
		config:        config,
		metrics:       metrics.Get(),
	}, nil
}

// ChunkCount 返回索引中的块数。
func (a *RetrievalAnswerer) ChunkCount() int {
	return a.index.Len()
}

// Answer 回答一个问题：向量化 → 检索 top-k → 组装上下文 → 调用供应商链。
// 内部错误在这里翻译为对外错误码，不向调用方泄漏原始堆栈。
func (a *RetrievalAnswerer) Answer(ctx context.Context, question string) (*model.QueryResult, error) {
	retrievalStart := time.Now()
	queryEmbedding, err := a.embedProvider.EmbedSingle(ctx, question)
	if err != nil {
		a.metrics.RecordRetrieval(0, err)
		logger.Errorw("failed to embed question", "error", err.Error())
		return nil, errors.ErrEmbeddingFailed.WithCause(err)
	}

	results := a.index.Search(queryEmbedding, a.config.TopK)
	a.metrics.RecordRetrieval(time.Since(retrievalStart), nil)

	prompt := a.buildPrompt(question, results)

	llmStart := time.Now()
	resp, providerName, err := a.chain.Generate(ctx, prompt, "")
	llmDuration := time.Since(llmStart)

	promptTokens, completionTokens := 0, 0
	if resp != nil && resp.TokenUsage != nil {
		promptTokens = resp.TokenUsage.PromptTokens
		completionTokens = resp.TokenUsage.CompletionTokens
	}
	a.metrics.RecordLLMCall(llmDuration, promptTokens, completionTokens, err)

	if err != nil {
		return nil, translateChainError(err)
	}

	// 回答不是来自首选供应商时记一次降级
	if names := a.chain.Names(); len(names) > 0 && providerName != names[0] {
		a.metrics.RecordFallback()
	}

	sources := make([]model.ChunkSource, len(results))
	for i, res := range results {
		sources[i] = model.ChunkSource{
			Source:   res.Chunk.Source,
			Location: res.Chunk.Location,
			Excerpt:  textutil.TruncateString(res.Chunk.Content, excerptRunes),
			Score:    res.Score,
		}
	}

	return &model.QueryResult{
		Answer:   resp.Content,
		Provider: providerName,
		Sources:  sources,
	}, nil
}

// buildPrompt 将检索结果渲染进提示词模板。
func (a *RetrievalAnswerer) buildPrompt(question string, results []*store.SearchResult) string {
	var contextBuilder strings.Builder
	for i, res := range results {
		ref := res.Chunk.Source
		if res.Chunk.Location != "" {
			ref += ", " + res.Chunk.Location
		}
		contextBuilder.WriteString(fmt.Sprintf("[%d] From %s:\n%s\n\n", i+1, ref, res.Chunk.Content))
	}

	prompt := strings.ReplaceAll(a.config.PromptTemplate, "{{context}}", contextBuilder.String())
	return strings.ReplaceAll(prompt, "{{question}}", question)
}

// translateChainError 将供应商链错误翻译为对外错误码。
func translateChainError(err error) error {
	var allFailed *llm.AllFailedError
	if stderrors.As(err, &allFailed) {
		return errors.ErrAllProvidersFailed.
			WithMessagef("All answer providers failed (attempted: %s)",
				strings.Join(allFailed.Attempted, ", ")).
			WithCause(allFailed.LastErr)
	}
	if stderrors.Is(err, llm.ErrChainEmpty) {
		return errors.ErrNoProviderConfigured
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.ErrProviderTimeout.WithCause(err)
	}
	return errors.ErrAllProvidersFailed.WithCause(err)
}
