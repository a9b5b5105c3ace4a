package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adronaut/strategy-cli/internal/cost"
	"github.com/adronaut/strategy-cli/internal/model"
	"github.com/adronaut/strategy-cli/pkg/openai"
)

// recordingProvider captures every request and replays a canned response.
type recordingProvider struct {
	name  string
	text  string
	model string
	usage model.TokenUsage
	err   error

	calls []Request
}

func (p *recordingProvider) Name() string {
	if p.name == "" {
		return "recording"
	}
	return p.name
}

func (p *recordingProvider) Generate(_ context.Context, req Request) (*Response, error) {
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	m := p.model
	if m == "" {
		m = "stub-model"
	}
	return &Response{Text: p.text, Model: m, Usage: p.usage}, nil
}

func TestTaskTemperature(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.7, TaskInsights.Temperature())
	assert.Equal(t, 0.2, TaskPatch.Temperature())
	assert.Equal(t, 0.2, TaskSanity.Temperature())
	assert.Equal(t, 0.3, TaskFeatures.Temperature())
	assert.Equal(t, 0.3, Task("SOMETHING_ELSE").Temperature())
}

func TestCall_UsesTaskTemperature(t *testing.T) {
	t.Parallel()

	p := &recordingProvider{text: "ok"}
	o := NewOrchestrator(p, nil, 0, nil)

	_, err := o.Call(context.Background(), TaskInsights, "generate insights")
	require.NoError(t, err)

	require.Len(t, p.calls, 1)
	assert.Equal(t, 0.7, p.calls[0].Temperature)
	assert.Equal(t, 4096, p.calls[0].MaxTokens)
	assert.Equal(t, "generate insights", p.calls[0].Prompt)
	assert.Empty(t, p.calls[0].System)
}

func TestCallWithSystem_CachesLargeSystem(t *testing.T) {
	t.Parallel()

	p := &recordingProvider{text: "ok"}
	o := NewOrchestrator(p, nil, 0, nil)

	small := "You are concise."
	big := strings.Repeat("catalog direction guidance\n", 200)
	require.GreaterOrEqual(t, len(big), cacheSystemMinBytes)

	_, err := o.CallWithSystem(context.Background(), TaskPatch, small, "go")
	require.NoError(t, err)
	_, err = o.CallWithSystem(context.Background(), TaskPatch, big, "go")
	require.NoError(t, err)

	require.Len(t, p.calls, 2)
	assert.False(t, p.calls[0].CacheSystem)
	assert.True(t, p.calls[1].CacheSystem)
}

func TestCallWithSystem_NoProvider(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(nil, nil, 0, nil)
	_, err := o.CallWithSystem(context.Background(), TaskBrief, "", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider configured")
}

func TestCallWithSystem_FailoverOnTransient(t *testing.T) {
	t.Parallel()

	primary := &recordingProvider{name: "anthropic", err: &openai.APIError{StatusCode: 503, Body: "unavailable"}}
	fallback := &recordingProvider{name: "openai", text: "fallback answer"}
	o := NewOrchestrator(primary, fallback, 0, nil)

	got, err := o.CallWithSystem(context.Background(), TaskInsights, "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", got)
	assert.Len(t, primary.calls, 1)
	assert.Len(t, fallback.calls, 1)

	// The fallback sees the same request the primary did.
	assert.Equal(t, primary.calls[0], fallback.calls[0])
}

func TestCallWithSystem_NoFailoverOnPermanent(t *testing.T) {
	t.Parallel()

	primary := &recordingProvider{err: errors.New("invalid_request_error: prompt too long")}
	fallback := &recordingProvider{text: "should not be used"}
	o := NewOrchestrator(primary, fallback, 0, nil)

	_, err := o.CallWithSystem(context.Background(), TaskPatch, "", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task PATCH")
	assert.Len(t, primary.calls, 1)
	assert.Empty(t, fallback.calls)
}

func TestCallWithSystem_NoFailoverWithoutFallback(t *testing.T) {
	t.Parallel()

	primary := &recordingProvider{err: &openai.APIError{StatusCode: 429, Body: "throttled"}}
	o := NewOrchestrator(primary, nil, 0, nil)

	_, err := o.CallWithSystem(context.Background(), TaskSanity, "", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Len(t, primary.calls, 1)
}

func TestCallWithSystem_NoFailoverWhenCancelled(t *testing.T) {
	t.Parallel()

	primary := &recordingProvider{err: &openai.APIError{StatusCode: 503, Body: "unavailable"}}
	fallback := &recordingProvider{text: "too late"}
	o := NewOrchestrator(primary, fallback, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.CallWithSystem(ctx, TaskBrief, "", "prompt")
	require.Error(t, err)
	assert.Empty(t, fallback.calls)
}

func TestCallWithSystem_FallbackFailureSurfaces(t *testing.T) {
	t.Parallel()

	primary := &recordingProvider{err: &openai.APIError{StatusCode: 502, Body: "bad gateway"}}
	fallback := &recordingProvider{err: errors.New("fallback exploded")}
	o := NewOrchestrator(primary, fallback, 0, nil)

	_, err := o.CallWithSystem(context.Background(), TaskReflection, "", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback exploded")
	assert.Len(t, primary.calls, 1)
	assert.Len(t, fallback.calls, 1)
}

func TestCallJSON(t *testing.T) {
	t.Parallel()

	p := &recordingProvider{text: "Here you go:\n```json\n{\"mode\": \"optimization\", \"confidence\": 0.8}\n```"}
	o := NewOrchestrator(p, nil, 0, nil)

	var out struct {
		Mode       string  `json:"mode"`
		Confidence float64 `json:"confidence"`
	}
	err := o.CallJSON(context.Background(), TaskPatch, "", "synthesize", &out)
	require.NoError(t, err)
	assert.Equal(t, "optimization", out.Mode)
	assert.Equal(t, 0.8, out.Confidence)
}

func TestCallJSON_NoPayload(t *testing.T) {
	t.Parallel()

	p := &recordingProvider{text: "I'm sorry, I can't help with that."}
	o := NewOrchestrator(p, nil, 0, nil)

	var out map[string]any
	err := o.CallJSON(context.Background(), TaskSanity, "", "review", &out)
	require.Error(t, err)

	raw, ok := IsParseError(err)
	require.True(t, ok)
	assert.Equal(t, "I'm sorry, I can't help with that.", raw)
	assert.Contains(t, err.Error(), "no JSON payload")
}

func TestCallJSON_UndecodablePayload(t *testing.T) {
	t.Parallel()

	p := &recordingProvider{text: `{"mode": unquoted}`}
	o := NewOrchestrator(p, nil, 0, nil)

	var out map[string]any
	err := o.CallJSON(context.Background(), TaskPatch, "", "synthesize", &out)
	require.Error(t, err)

	raw, ok := IsParseError(err)
	require.True(t, ok)
	assert.Contains(t, raw, "unquoted")
	assert.Contains(t, err.Error(), "undecodable JSON")
}

func TestCallJSON_ProviderErrorIsNotParseError(t *testing.T) {
	t.Parallel()

	p := &recordingProvider{err: errors.New("boom")}
	o := NewOrchestrator(p, nil, 0, nil)

	var out map[string]any
	err := o.CallJSON(context.Background(), TaskPatch, "", "synthesize", &out)
	require.Error(t, err)

	_, ok := IsParseError(err)
	assert.False(t, ok)
}

func TestUsageAccumulation(t *testing.T) {
	t.Parallel()

	p := &recordingProvider{
		text:  "ok",
		model: "claude-sonnet-4-5-20250929",
		usage: model.TokenUsage{InputTokens: 1000, OutputTokens: 500, Calls: 1},
	}
	o := NewOrchestrator(p, nil, 0, cost.NewCalculator(cost.DefaultRates()))

	_, err := o.Call(context.Background(), TaskFeatures, "one")
	require.NoError(t, err)
	_, err = o.Call(context.Background(), TaskInsights, "two")
	require.NoError(t, err)

	usage := o.Usage()
	assert.Equal(t, 2000, usage.InputTokens)
	assert.Equal(t, 1000, usage.OutputTokens)
	assert.Equal(t, 2, usage.Calls)
	// 2 * (1000/1e6*3.00 + 500/1e6*15.00)
	assert.InDelta(t, 0.021, usage.Cost, 1e-9)
}

func TestUsage_EmptyBeforeCalls(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(&recordingProvider{text: "ok"}, nil, 0, nil)
	assert.Equal(t, model.TokenUsage{}, o.Usage())
}
