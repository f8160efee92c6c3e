// Package docuchat provides retrieval pipeline configuration options.
package docuchat

import (
	"fmt"
	"strings"

	"github.com/kart-io/docuchat/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// DefaultPromptTemplate is the default prompt for retrieval-grounded answers.
const DefaultPromptTemplate = `You are a helpful assistant that answers questions based on the provided context.
Use the following context to answer the question. If you cannot find the answer in the context, say so.

Context:
{{context}}

Question: {{question}}

Answer:`

// Options contains retrieval pipeline configuration.
type Options struct {
	// ChunkSize is the maximum chunk size in runes.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the overlap between adjacent chunks in runes.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK is the number of chunks retrieved per query.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// MaxUploadBytes 单个上传文件的大小上限。
	MaxUploadBytes int64 `json:"max-upload-bytes" mapstructure:"max-upload-bytes"`

	// PromptTemplate 回答生成使用的提示词模板。
	// 必须包含 {{context}} 和 {{question}} 占位符。
	PromptTemplate string `json:"prompt-template" mapstructure:"prompt-template"`

	// CacheTTL 查询结果缓存时长（秒）, 0 表示关闭缓存。
	CacheTTL int `json:"cache-ttl" mapstructure:"cache-ttl"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		ChunkSize:      500,
		ChunkOverlap:   50,
		TopK:           3,
		MaxUploadBytes: 16 << 20, // 16 MiB
		PromptTemplate: DefaultPromptTemplate,
		CacheTTL:       300,
	}
}

// AddFlags adds flags for retrieval options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.IntVar(&o.ChunkSize, p+"chunk-size", o.ChunkSize, "Maximum chunk size in runes.")
	fs.IntVar(&o.ChunkOverlap, p+"chunk-overlap", o.ChunkOverlap, "Overlap between adjacent chunks in runes.")
	fs.IntVar(&o.TopK, p+"top-k", o.TopK, "Number of chunks retrieved per query.")
	fs.Int64Var(&o.MaxUploadBytes, p+"max-upload-bytes", o.MaxUploadBytes, "Maximum size of a single uploaded file.")
	fs.StringVar(&o.PromptTemplate, p+"prompt-template", o.PromptTemplate, "Prompt template with {{context}} and {{question}} placeholders.")
	fs.IntVar(&o.CacheTTL, p+"cache-ttl", o.CacheTTL, "Query result cache TTL in seconds (0 disables caching).")
}

// Validate validates the retrieval options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("chunk-overlap cannot be negative"))
	}
	if o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk-overlap must be smaller than chunk-size"))
	}
	if o.TopK < 1 || o.TopK > 10 {
		errs = append(errs, fmt.Errorf("top-k must be between 1 and 10"))
	}
	if !strings.Contains(o.PromptTemplate, "{{context}}") || !strings.Contains(o.PromptTemplate, "{{question}}") {
		errs = append(errs, fmt.Errorf("prompt-template must contain {{context}} and {{question}} placeholders"))
	}
	return errs
}

// Complete completes the retrieval options with defaults.
func (o *Options) Complete() error {
	if o.PromptTemplate == "" {
		o.PromptTemplate = DefaultPromptTemplate
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 16 << 20
	}
	return nil
}
