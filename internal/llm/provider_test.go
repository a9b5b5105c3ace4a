package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adronaut/strategy-cli/pkg/anthropic"
	"github.com/adronaut/strategy-cli/pkg/openai"
)

type fakeAnthropicClient struct {
	got  anthropic.MessageRequest
	resp *anthropic.MessageResponse
	err  error
}

func (f *fakeAnthropicClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeOpenAIClient struct {
	got  openai.ChatCompletionRequest
	resp *openai.ChatCompletionResponse
	err  error
}

func (f *fakeOpenAIClient) ChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestAnthropicProvider_Generate(t *testing.T) {
	t.Parallel()

	fake := &fakeAnthropicClient{
		resp: &anthropic.MessageResponse{
			Model: "claude-sonnet-4-5-20250929",
			Content: []anthropic.ContentBlock{
				{Type: "text", Text: "part one "},
				{Type: "text", Text: "part two"},
			},
			Usage: anthropic.TokenUsage{
				InputTokens:              100,
				OutputTokens:             40,
				CacheCreationInputTokens: 2000,
				CacheReadInputTokens:     500,
			},
		},
	}
	p := NewAnthropicProvider(fake, "claude-sonnet-4-5-20250929")
	assert.Equal(t, "anthropic", p.Name())

	resp, err := p.Generate(context.Background(), Request{
		System:      "persona",
		Prompt:      "analyze",
		Temperature: 0.2,
		MaxTokens:   2048,
	})
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5-20250929", fake.got.Model)
	assert.Equal(t, int64(2048), fake.got.MaxTokens)
	require.Len(t, fake.got.Messages, 1)
	assert.Equal(t, "user", fake.got.Messages[0].Role)
	assert.Equal(t, "analyze", fake.got.Messages[0].Content)
	require.NotNil(t, fake.got.Temperature)
	assert.Equal(t, 0.2, *fake.got.Temperature)
	require.Len(t, fake.got.System, 1)
	assert.Equal(t, "persona", fake.got.System[0].Text)
	assert.Nil(t, fake.got.System[0].CacheControl)

	assert.Equal(t, "part one part two", resp.Text)
	// Cache tokens count toward input for cost purposes.
	assert.Equal(t, 2600, resp.Usage.InputTokens)
	assert.Equal(t, 40, resp.Usage.OutputTokens)
	assert.Equal(t, 1, resp.Usage.Calls)
}

func TestAnthropicProvider_Generate_CachedSystem(t *testing.T) {
	t.Parallel()

	fake := &fakeAnthropicClient{resp: &anthropic.MessageResponse{}}
	p := NewAnthropicProvider(fake, "claude-sonnet-4-5-20250929")

	_, err := p.Generate(context.Background(), Request{
		System:      "large static catalog",
		Prompt:      "go",
		CacheSystem: true,
	})
	require.NoError(t, err)

	require.Len(t, fake.got.System, 1)
	require.NotNil(t, fake.got.System[0].CacheControl)
	assert.Equal(t, "5m", fake.got.System[0].CacheControl.TTL)
}

func TestAnthropicProvider_Generate_NoSystem(t *testing.T) {
	t.Parallel()

	fake := &fakeAnthropicClient{resp: &anthropic.MessageResponse{}}
	p := NewAnthropicProvider(fake, "claude-sonnet-4-5-20250929")

	_, err := p.Generate(context.Background(), Request{Prompt: "go"})
	require.NoError(t, err)
	assert.Empty(t, fake.got.System)
}

func TestAnthropicProvider_Generate_Error(t *testing.T) {
	t.Parallel()

	fake := &fakeAnthropicClient{err: assert.AnError}
	p := NewAnthropicProvider(fake, "claude-sonnet-4-5-20250929")

	_, err := p.Generate(context.Background(), Request{Prompt: "go"})
	require.Error(t, err)
}

func TestAnthropicProvider_Generate_TruncatedResponse(t *testing.T) {
	t.Parallel()

	fake := &fakeAnthropicClient{
		resp: &anthropic.MessageResponse{
			ID:         "msg_cut",
			Content:    []anthropic.ContentBlock{{Type: "text", Text: `{"patch_json": {"budg`}},
			StopReason: "max_tokens",
		},
	}
	p := NewAnthropicProvider(fake, "claude-sonnet-4-5-20250929")

	// Partial text comes back anyway; downstream JSON parsing reports it.
	resp, err := p.Generate(context.Background(), Request{Prompt: "go", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, `{"patch_json": {"budg`, resp.Text)
}

func TestOpenAIProvider_Generate(t *testing.T) {
	t.Parallel()

	fake := &fakeOpenAIClient{
		resp: &openai.ChatCompletionResponse{
			Model: "gpt-4o-2024-08-06",
			Choices: []openai.Choice{
				{Message: openai.Message{Role: "assistant", Content: "the answer"}},
			},
			Usage: openai.Usage{PromptTokens: 80, CompletionTokens: 20},
		},
	}
	p := NewOpenAIProvider(fake, "gpt-4o")
	assert.Equal(t, "openai", p.Name())

	resp, err := p.Generate(context.Background(), Request{
		System:      "persona",
		Prompt:      "analyze",
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", fake.got.Model)
	require.Len(t, fake.got.Messages, 2)
	assert.Equal(t, "system", fake.got.Messages[0].Role)
	assert.Equal(t, "persona", fake.got.Messages[0].Content)
	assert.Equal(t, "user", fake.got.Messages[1].Role)
	require.NotNil(t, fake.got.Temperature)
	assert.Equal(t, 0.7, *fake.got.Temperature)
	require.NotNil(t, fake.got.MaxTokens)
	assert.Equal(t, 1024, *fake.got.MaxTokens)

	assert.Equal(t, "the answer", resp.Text)
	assert.Equal(t, "gpt-4o-2024-08-06", resp.Model)
	assert.Equal(t, 80, resp.Usage.InputTokens)
	assert.Equal(t, 20, resp.Usage.OutputTokens)
	assert.Equal(t, 1, resp.Usage.Calls)
}

func TestOpenAIProvider_Generate_NoSystem(t *testing.T) {
	t.Parallel()

	fake := &fakeOpenAIClient{
		resp: &openai.ChatCompletionResponse{
			Choices: []openai.Choice{{Message: openai.Message{Content: "ok"}}},
		},
	}
	p := NewOpenAIProvider(fake, "gpt-4o")

	_, err := p.Generate(context.Background(), Request{Prompt: "go"})
	require.NoError(t, err)
	require.Len(t, fake.got.Messages, 1)
	assert.Equal(t, "user", fake.got.Messages[0].Role)
	assert.Nil(t, fake.got.MaxTokens)
}

func TestOpenAIProvider_Generate_EmptyChoices(t *testing.T) {
	t.Parallel()

	fake := &fakeOpenAIClient{resp: &openai.ChatCompletionResponse{}}
	p := NewOpenAIProvider(fake, "gpt-4o")

	_, err := p.Generate(context.Background(), Request{Prompt: "go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestOpenAIProvider_Generate_TruncatedResponse(t *testing.T) {
	t.Parallel()

	fake := &fakeOpenAIClient{
		resp: &openai.ChatCompletionResponse{
			ID: "chatcmpl-cut",
			Choices: []openai.Choice{
				{Message: openai.Message{Content: "partial"}, FinishReason: "length"},
			},
		},
	}
	p := NewOpenAIProvider(fake, "gpt-4o")

	resp, err := p.Generate(context.Background(), Request{Prompt: "go", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "partial", resp.Text)
}
