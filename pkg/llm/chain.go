package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kart-io/logger"
)

// AllFailedError 表示链路中每个已配置的供应商都尝试过且全部失败。
// Attempted 按尝试顺序记录供应商名称。
type AllFailedError struct {
	Attempted []string
	LastErr   error
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all providers failed (attempted: %s): %v",
		strings.Join(e.Attempted, ", "), e.LastErr)
}

func (e *AllFailedError) Unwrap() error {
	return e.LastErr
}

// ErrChainEmpty 表示链路中没有任何已配置的供应商。
var ErrChainEmpty = errors.New("no provider configured in chain")

// ChainEntry 是链路中的一个供应商。Chat 和 Embed 可以是经过
// 韧性包装的实现，Name 保持底层供应商的原始名称。
type ChainEntry struct {
	Name  string
	Chat  ChatProvider
	Embed EmbeddingProvider
}

// Chain 按固定优先级顺序调度一组供应商。
// 回答生成沿链路降级，嵌入始终使用第一个供应商，保证
// 索引和查询使用同一个嵌入模型。
type Chain struct {
	entries []ChainEntry
	skipped []string
}

// NewChain 从已构建的条目创建链路，顺序即优先级。
func NewChain(entries []ChainEntry, skipped []string) *Chain {
	return &Chain{entries: entries, skipped: skipped}
}

// BuildEntries 按名称顺序从注册表构建链路条目。
// 缺少凭证的供应商被跳过并记录，不计为失败；未知名称是硬错误。
func BuildEntries(order []string, configFor func(name string) map[string]any) ([]ChainEntry, []string, error) {
	var entries []ChainEntry
	var skipped []string

	for _, name := range order {
		provider, err := NewProvider(name, configFor(name))
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				logger.Infow("skipping unconfigured provider", "provider", name)
				skipped = append(skipped, name)
				continue
			}
			return nil, nil, fmt.Errorf("build provider %s: %w", name, err)
		}

		entries = append(entries, ChainEntry{
			Name:  name,
			Chat:  provider,
			Embed: provider,
		})
	}

	return entries, skipped, nil
}

// Names 返回链路中已配置供应商的名称，按优先级排列。
func (c *Chain) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.Name
	}
	return names
}

// Skipped 返回因缺少凭证而被跳过的供应商名称。
func (c *Chain) Skipped() []string {
	return c.skipped
}

// Empty 报告链路是否没有任何可用供应商。
func (c *Chain) Empty() bool {
	return len(c.entries) == 0
}

// Embedder 返回链路的嵌入供应商（第一个条目）。
// 进程生命周期内固定，换供应商需要重建全部索引。
func (c *Chain) Embedder() EmbeddingProvider {
	if len(c.entries) == 0 {
		return nil
	}
	return c.entries[0].Embed
}

// Generate 按优先级顺序尝试每个供应商，第一个成功的结果即最终结果。
// 单个供应商失败只记录并降级到下一个；全部失败返回 AllFailedError，
// 其中包含按序尝试过的供应商名单。
func (c *Chain) Generate(ctx context.Context, prompt, systemPrompt string) (*GenerateResponse, string, error) {
	if c.Empty() {
		return nil, "", ErrChainEmpty
	}

	var attempted []string
	var lastErr error

	for _, entry := range c.entries {
		resp, err := entry.Chat.Generate(ctx, prompt, systemPrompt)
		attempted = append(attempted, entry.Name)

		if err == nil {
			return resp, entry.Name, nil
		}

		lastErr = err
		logger.Warnw("provider failed, falling back to next",
			"provider", entry.Name,
			"error", err.Error(),
		)

		// 上下文取消时立即终止，不再尝试后续供应商
		if ctx.Err() != nil {
			break
		}
	}

	return nil, "", &AllFailedError{Attempted: attempted, LastErr: lastErr}
}
