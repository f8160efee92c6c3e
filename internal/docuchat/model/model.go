// Package model defines the shared response types of the document Q&A service.
package model

// ChunkSource 表示答案引用的一个文档片段。
type ChunkSource struct {
	// Source 片段来源文件名。
	Source string `json:"source"`
	// Location 片段在来源中的位置（CSV 行号或 PDF 页码），可为空。
	Location string `json:"location,omitempty"`
	// Excerpt 片段内容摘录。
	Excerpt string `json:"excerpt"`
	// Score 与问题的余弦相似度。
	Score float64 `json:"score"`
}

// QueryResult 表示一次问答的结果。
type QueryResult struct {
	// Answer 生成的回答文本。
	Answer string `json:"answer"`
	// Provider 实际生成回答的供应商名称。
	Provider string `json:"provider"`
	// Sources 回答引用的文档片段。
	Sources []ChunkSource `json:"sources"`
	// Cached 是否来自查询缓存。
	Cached bool `json:"cached,omitempty"`
}

// UploadResult 表示一次上传索引的结果。
type UploadResult struct {
	// SessionID 本次上传绑定的会话。
	SessionID string `json:"session_id"`
	// DocumentsLoaded 成功加载的文档单元数（CSV 行 / PDF 页 / 文本文件）。
	DocumentsLoaded int `json:"documents_loaded"`
	// ChunksIndexed 建入索引的文本块数。
	ChunksIndexed int `json:"chunks_indexed"`
}

// HealthStatus 表示服务健康状态。
type HealthStatus struct {
	Status             string         `json:"status"`
	ActiveSessions     int            `json:"active_sessions"`
	ProvidersAvailable []string       `json:"providers_available"`
	ProvidersSkipped   []string       `json:"providers_skipped,omitempty"`
	UptimeSeconds      float64        `json:"uptime_seconds"`
	Metrics            map[string]any `json:"metrics,omitempty"`
}

// SweepResult 表示一次手动会话清理的结果。
type SweepResult struct {
	Removed int `json:"removed"`
}
