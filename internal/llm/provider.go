package llm

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/model"
	"github.com/adronaut/strategy-cli/pkg/anthropic"
	"github.com/adronaut/strategy-cli/pkg/openai"
)

// Provider is one generative-model backend. Implementations are
// interchangeable; the pipeline never branches on provider identity.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is a single prompt invocation.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	CacheSystem bool // cache the system block across calls (Anthropic only)
}

// Response carries the raw model text plus usage accounting.
type Response struct {
	Text  string
	Model string
	Usage model.TokenUsage
}

// AnthropicProvider adapts the Anthropic messages API to Provider.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider wraps an Anthropic client for the given model.
func NewAnthropicProvider(client anthropic.Client, modelID string) *AnthropicProvider {
	return &AnthropicProvider{client: client, model: modelID}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	mreq := anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   int64(req.MaxTokens),
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &req.Temperature,
	}
	if req.System != "" {
		if req.CacheSystem {
			mreq.System = anthropic.BuildCachedSystemBlocks(req.System)
		} else {
			mreq.System = []anthropic.SystemBlock{{Text: req.System}}
		}
	}

	resp, err := p.client.CreateMessage(ctx, mreq)
	if err != nil {
		return nil, err
	}

	// A truncated response is returned as-is; prose tasks can still use it
	// and JSON tasks will surface a parse error with the raw text attached.
	if resp.StopReason == "max_tokens" {
		zap.L().Warn("llm: anthropic response truncated",
			zap.String("message_id", resp.ID),
			zap.Int64("max_tokens", mreq.MaxTokens))
	}

	return &Response{
		Text:  resp.Text(),
		Model: resp.Model,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			Calls:        1,
		},
	}, nil
}

// OpenAIProvider adapts the OpenAI chat completions API to Provider.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider wraps an OpenAI client for the given model.
func NewOpenAIProvider(client openai.Client, modelID string) *OpenAIProvider {
	return &OpenAIProvider{client: client, model: modelID}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]openai.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, openai.Message{Role: "user", Content: req.Prompt})

	creq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: &req.Temperature,
	}
	if req.MaxTokens > 0 {
		creq.MaxTokens = &req.MaxTokens
	}

	resp, err := p.client.ChatCompletion(ctx, creq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("llm: openai returned no choices")
	}
	if resp.Choices[0].FinishReason == "length" {
		zap.L().Warn("llm: openai response truncated",
			zap.String("completion_id", resp.ID),
			zap.Int("max_tokens", req.MaxTokens))
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Calls:        1,
		},
	}, nil
}
