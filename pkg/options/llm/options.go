// Package llm provides LLM provider configuration options.
package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/docuchat/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// ProviderOptions 定义单个 LLM 供应商配置。
type ProviderOptions struct {
	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥（云端供应商需要）。
	APIKey string `json:"-" mapstructure:"api-key"`

	// EmbedModel 向量化模型名称。
	EmbedModel string `json:"embed-model" mapstructure:"embed-model"`

	// ChatModel 对话模型名称。
	ChatModel string `json:"chat-model" mapstructure:"chat-model"`

	// Timeout 单次请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`
}

// NewProviderOptions 创建空的供应商配置。
// 云端供应商未填 APIKey 时视为未配置，回答链会直接跳过。
func NewProviderOptions() *ProviderOptions {
	return &ProviderOptions{
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":    o.BaseURL,
		"api_key":     o.APIKey,
		"embed_model": o.EmbedModel,
		"chat_model":  o.ChatModel,
		"timeout":     o.Timeout,
		"max_retries": o.MaxRetries,
	}
}

// AddFlags adds flags for one provider to the specified FlagSet.
// The provider name is part of the flag prefix, e.g. "llm.together.api-key".
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "Provider API base URL.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "Provider API key.")
	fs.StringVar(&o.EmbedModel, p+"embed-model", o.EmbedModel, "Embedding model name.")
	fs.StringVar(&o.ChatModel, p+"chat-model", o.ChatModel, "Chat model name.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Request timeout.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Maximum number of retries.")
}

// Validate validates the provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if o.MaxRetries < 0 || o.MaxRetries > 3 {
		errs = append(errs, fmt.Errorf("max-retries must be between 0 and 3"))
	}
	return errs
}

// Complete completes the provider options with defaults.
func (o *ProviderOptions) Complete() error {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	return nil
}

var _ options.IOptions = (*ChainOptions)(nil)

// ChainOptions 定义按优先级排列的供应商链配置。
type ChainOptions struct {
	// Order 供应商优先级顺序，靠前的优先调用。
	Order []string `json:"order" mapstructure:"order"`

	// Together Together AI 配置。
	Together *ProviderOptions `json:"together" mapstructure:"together"`

	// Gemini Google Gemini 配置。
	Gemini *ProviderOptions `json:"gemini" mapstructure:"gemini"`

	// OpenAI OpenAI 兼容配置。
	OpenAI *ProviderOptions `json:"openai" mapstructure:"openai"`

	// Ollama 本地 Ollama 配置。
	Ollama *ProviderOptions `json:"ollama" mapstructure:"ollama"`
}

// NewChainOptions 创建默认供应商链配置。
func NewChainOptions() *ChainOptions {
	together := NewProviderOptions()
	together.BaseURL = "https://api.together.xyz/v1"
	together.EmbedModel = "togethercomputer/m2-bert-80M-32k-retrieval"
	together.ChatModel = "meta-llama/Llama-3.3-70B-Instruct-Turbo"

	gemini := NewProviderOptions()
	gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	gemini.EmbedModel = "text-embedding-004"
	gemini.ChatModel = "gemini-2.0-flash"

	openai := NewProviderOptions()
	openai.BaseURL = "https://api.openai.com/v1"
	openai.EmbedModel = "text-embedding-3-small"
	openai.ChatModel = "gpt-4o-mini"

	ollama := NewProviderOptions()
	ollama.BaseURL = "http://localhost:11434"
	ollama.EmbedModel = "nomic-embed-text"
	ollama.ChatModel = "llama3.1:8b"
	ollama.Timeout = 120 * time.Second

	return &ChainOptions{
		Order:    []string{"together", "gemini", "ollama"},
		Together: together,
		Gemini:   gemini,
		OpenAI:   openai,
		Ollama:   ollama,
	}
}

// Get 返回指定名称的供应商配置，未知名称返回 nil。
func (o *ChainOptions) Get(name string) *ProviderOptions {
	switch strings.ToLower(name) {
	case "together":
		return o.Together
	case "gemini":
		return o.Gemini
	case "openai":
		return o.OpenAI
	case "ollama":
		return o.Ollama
	default:
		return nil
	}
}

// AddFlags adds flags for the provider chain to the specified FlagSet.
func (o *ChainOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringSliceVar(&o.Order, p+"llm.order", o.Order, "Provider priority order.")
	o.Together.AddFlags(fs, append(prefixes, "llm.together")...)
	o.Gemini.AddFlags(fs, append(prefixes, "llm.gemini")...)
	o.OpenAI.AddFlags(fs, append(prefixes, "llm.openai")...)
	o.Ollama.AddFlags(fs, append(prefixes, "llm.ollama")...)
}

// Validate validates the chain options.
func (o *ChainOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if len(o.Order) == 0 {
		errs = append(errs, fmt.Errorf("llm.order cannot be empty"))
	}
	for _, name := range o.Order {
		if o.Get(name) == nil {
			errs = append(errs, fmt.Errorf("unknown provider %q in llm.order", name))
		}
	}
	for _, po := range []*ProviderOptions{o.Together, o.Gemini, o.OpenAI, o.Ollama} {
		if po != nil {
			errs = append(errs, po.Validate()...)
		}
	}
	return errs
}

// Complete completes the chain options with defaults.
func (o *ChainOptions) Complete() error {
	defaults := NewChainOptions()
	if o.Together == nil {
		o.Together = defaults.Together
	}
	if o.Gemini == nil {
		o.Gemini = defaults.Gemini
	}
	if o.OpenAI == nil {
		o.OpenAI = defaults.OpenAI
	}
	if o.Ollama == nil {
		o.Ollama = defaults.Ollama
	}
	if len(o.Order) == 0 {
		o.Order = defaults.Order
	}
	for _, po := range []*ProviderOptions{o.Together, o.Gemini, o.OpenAI, o.Ollama} {
		if err := po.Complete(); err != nil {
			return err
		}
	}
	return nil
}
