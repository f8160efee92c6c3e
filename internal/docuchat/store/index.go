// Package store provides the in-memory vector index backing one session.
//
// 索引在上传时一次性构建，构建后不可变；重新上传会整体替换索引，
// 没有增量更新。并发查询因此无需加锁。
package store

import (
	"fmt"
	"sort"

	"github.com/kart-io/docuchat/internal/pkg/textutil"
)

// Chunk is one indexed fragment of an uploaded document.
type Chunk struct {
	// ID 块的唯一标识。
	ID string
	// Source 来源文件名。
	Source string
	// Location 在来源中的位置（行号或页码），可为空。
	Location string
	// Content 块文本内容。
	Content string
	// Embedding 块的向量表示。
	Embedding []float32
}

// SearchResult is a chunk matched by a similarity query.
type SearchResult struct {
	Chunk *Chunk
	// Score 余弦相似度，越大越相关。
	Score float64
}

// Index is an immutable brute-force cosine similarity index.
type Index struct {
	chunks    []*Chunk
	dimension int
}

// NewIndex builds an index from chunks that already carry embeddings.
// Construction is all-or-nothing: any chunk with a missing or
// mismatched embedding fails the whole build.
func NewIndex(chunks []*Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("cannot build index from zero chunks")
	}

	dim := len(chunks[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("chunk %q has no embedding", chunks[0].ID)
	}
	for _, c := range chunks {
		if len(c.Embedding) != dim {
			return nil, fmt.Errorf("chunk %q embedding dimension %d, want %d",
				c.ID, len(c.Embedding), dim)
		}
	}

	return &Index{chunks: chunks, dimension: dim}, nil
}

// Len returns the number of indexed chunks.
func (i *Index) Len() int {
	return len(i.chunks)
}

// Dimension returns the embedding dimension of the index.
func (i *Index) Dimension() int {
	return i.dimension
}

// Search returns up to k chunks most similar to the query vector,
// ordered by descending cosine similarity.
func (i *Index) Search(query []float32, k int) []*SearchResult {
	if k <= 0 || len(query) != i.dimension {
		return nil
	}

	results := make([]*SearchResult, 0, len(i.chunks))
	for _, c := range i.chunks {
		results = append(results, &SearchResult{
			Chunk: c,
			Score: textutil.CosineSimilarity(query, c.Embedding),
		})
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
