package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider 可编程的测试供应商。
type stubProvider struct {
	name      string
	generate  func(ctx context.Context, prompt, system string) (*GenerateResponse, error)
	embed     func(ctx context.Context, texts []string) ([][]float32, error)
	callCount int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, prompt, system string) (*GenerateResponse, error) {
	s.callCount++
	if s.generate != nil {
		return s.generate(ctx, prompt, system)
	}
	return &GenerateResponse{Content: s.name + " answer"}, nil
}

func (s *stubProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	resp, err := s.Generate(ctx, messages[len(messages)-1].Content, "")
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.embed != nil {
		return s.embed(ctx, texts)
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func (s *stubProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func entryFor(p *stubProvider) ChainEntry {
	return ChainEntry{Name: p.name, Chat: p, Embed: p}
}

func TestChainGenerateFirstProviderWins(t *testing.T) {
	primary := &stubProvider{name: "primary"}
	secondary := &stubProvider{name: "secondary"}

	chain := NewChain([]ChainEntry{entryFor(primary), entryFor(secondary)}, nil)

	resp, providerName, err := chain.Generate(context.Background(), "question", "")
	require.NoError(t, err)

	assert.Equal(t, "primary answer", resp.Content)
	assert.Equal(t, "primary", providerName)
	assert.Equal(t, 0, secondary.callCount, "secondary must not be called when primary succeeds")
}

func TestChainGenerateFallsBack(t *testing.T) {
	primary := &stubProvider{
		name: "primary",
		generate: func(ctx context.Context, prompt, system string) (*GenerateResponse, error) {
			return nil, fmt.Errorf("upstream unavailable")
		},
	}
	secondary := &stubProvider{name: "secondary"}

	chain := NewChain([]ChainEntry{entryFor(primary), entryFor(secondary)}, nil)

	resp, providerName, err := chain.Generate(context.Background(), "question", "")
	require.NoError(t, err)

	assert.Equal(t, "secondary answer", resp.Content)
	assert.Equal(t, "secondary", providerName)
	assert.Equal(t, 1, primary.callCount, "primary must have been attempted first")
}

func TestChainGenerateAllFailed(t *testing.T) {
	fail := func(ctx context.Context, prompt, system string) (*GenerateResponse, error) {
		return nil, fmt.Errorf("boom")
	}
	first := &stubProvider{name: "together", generate: fail}
	second := &stubProvider{name: "gemini", generate: fail}

	chain := NewChain([]ChainEntry{entryFor(first), entryFor(second)}, nil)

	_, _, err := chain.Generate(context.Background(), "question", "")
	require.Error(t, err)

	var allFailed *AllFailedError
	require.ErrorAs(t, err, &allFailed)
	// 失败名单按尝试顺序记录
	assert.Equal(t, []string{"together", "gemini"}, allFailed.Attempted)
	assert.Contains(t, err.Error(), "together")
	assert.Contains(t, err.Error(), "gemini")
}

func TestChainGenerateEmpty(t *testing.T) {
	chain := NewChain(nil, []string{"together", "gemini"})

	_, _, err := chain.Generate(context.Background(), "question", "")
	assert.ErrorIs(t, err, ErrChainEmpty)
	assert.Equal(t, []string{"together", "gemini"}, chain.Skipped())
	assert.True(t, chain.Empty())
	assert.Nil(t, chain.Embedder())
}

func TestChainGenerateStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := &stubProvider{
		name: "primary",
		generate: func(ctx context.Context, prompt, system string) (*GenerateResponse, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	second := &stubProvider{name: "secondary"}

	chain := NewChain([]ChainEntry{entryFor(first), entryFor(second)}, nil)

	_, _, err := chain.Generate(ctx, "question", "")
	require.Error(t, err)
	assert.Equal(t, 0, second.callCount, "cancelled context must not advance the chain")
}

func TestChainEmbedderIsFirstEntry(t *testing.T) {
	primary := &stubProvider{name: "primary"}
	secondary := &stubProvider{name: "secondary"}

	chain := NewChain([]ChainEntry{entryFor(primary), entryFor(secondary)}, nil)

	require.NotNil(t, chain.Embedder())
	assert.Equal(t, "primary", chain.Embedder().Name())
	assert.Equal(t, []string{"primary", "secondary"}, chain.Names())
}

func TestBuildEntriesSkipsUnconfigured(t *testing.T) {
	RegisterProvider("test-needs-key", func(config map[string]any) (Provider, error) {
		if v, ok := config["api_key"].(string); !ok || v == "" {
			return nil, fmt.Errorf("test-needs-key: %w", ErrNotConfigured)
		}
		return &registryStub{}, nil
	})
	RegisterProvider("test-always-ok", func(config map[string]any) (Provider, error) {
		return &registryStub{}, nil
	})

	entries, skipped, err := BuildEntries(
		[]string{"test-needs-key", "test-always-ok"},
		func(name string) map[string]any { return map[string]any{} },
	)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "test-always-ok", entries[0].Name)
	assert.Equal(t, []string{"test-needs-key"}, skipped)
}

func TestBuildEntriesUnknownProviderIsHardError(t *testing.T) {
	_, _, err := BuildEntries([]string{"no-such-provider"},
		func(name string) map[string]any { return nil })

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotConfigured))
}

// registryStub 满足 Provider 接口的最小实现。
type registryStub struct{}

func (r *registryStub) Name() string { return "stub" }
func (r *registryStub) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (r *registryStub) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}
func (r *registryStub) Chat(ctx context.Context, messages []Message) (string, error) {
	return "", nil
}
func (r *registryStub) Generate(ctx context.Context, prompt, system string) (*GenerateResponse, error) {
	return &GenerateResponse{}, nil
}
