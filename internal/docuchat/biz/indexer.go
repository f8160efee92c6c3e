package biz

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/docuchat/internal/docuchat/store"
	"github.com/kart-io/docuchat/internal/pkg/docload"
	"github.com/kart-io/docuchat/internal/pkg/textutil"
	"github.com/kart-io/docuchat/pkg/llm"
)

// IndexerConfig 索引器配置。
type IndexerConfig struct {
	// ChunkSize 文本块大小（按 rune 计）。
	ChunkSize int
	// ChunkOverlap 相邻块的重叠大小（按 rune 计）。
	ChunkOverlap int
}

// Indexer 将加载好的文档切块、向量化并构建会话索引。
type Indexer struct {
	embedProvider llm.EmbeddingProvider
	config        *IndexerConfig
}

// NewIndexer 创建索引器实例。
func NewIndexer(embedProvider llm.EmbeddingProvider, config *IndexerConfig) *Indexer {
	return &Indexer{
		embedProvider: embedProvider,
		config:        config,
	}
}

// BuildIndex 从文档构建向量索引，返回索引和块数。
// 构建是全有或全无的：任何一个块向量化失败都放弃整个索引，
// 不会注册半成品。
func (i *Indexer) BuildIndex(ctx context.Context, docs []docload.Document) (*store.Index, error) {
	chunks := i.chunkDocuments(docs)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks produced from %d documents", len(docs))
	}

	texts := make([]string, len(chunks))
	for idx, chunk := range chunks {
		texts[idx] = chunk.Content
	}

	embeddings, err := i.embedProvider.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedding count %d does not match chunk count %d",
			len(embeddings), len(chunks))
	}

	for idx, chunk := range chunks {
		chunk.Embedding = embeddings[idx]
	}

	index, err := store.NewIndex(chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	logger.Infow("index built",
		"documents", len(docs),
		"chunks", index.Len(),
		"dimension", index.Dimension(),
		"embedder", i.embedProvider.Name(),
	)
	return index, nil
}

// chunkDocuments 将每个文档切成带来源元数据的块。
func (i *Indexer) chunkDocuments(docs []docload.Document) []*store.Chunk {
	var chunks []*store.Chunk

	for _, doc := range docs {
		source := doc.Metadata[docload.MetaSource]
		location := documentLocation(doc)

		for idx, content := range textutil.SplitIntoChunks(doc.Content, i.config.ChunkSize, i.config.ChunkOverlap) {
			chunks = append(chunks, &store.Chunk{
				ID:       textutil.HashString(fmt.Sprintf("%s|%s|%d", source, location, idx)),
				Source:   source,
				Location: location,
				Content:  content,
			})
		}
	}

	return chunks
}

func documentLocation(doc docload.Document) string {
	if row, ok := doc.Metadata[docload.MetaRow]; ok {
		return "row " + row
	}
	if page, ok := doc.Metadata[docload.MetaPage]; ok {
		return "page " + page
	}
	return ""
}
