package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/cost"
	"github.com/adronaut/strategy-cli/internal/model"
)

// Task names one generative-model call type in the pipeline.
type Task string

const (
	TaskFeatures   Task = "FEATURES"
	TaskInsights   Task = "INSIGHTS"
	TaskPatch      Task = "PATCH"
	TaskEditPatch  Task = "EDIT_PATCH"
	TaskSanity     Task = "SANITY"
	TaskBrief      Task = "BRIEF"
	TaskReflection Task = "REFLECTION"
)

// Sampling temperature is fixed per task: low for extraction and patch
// synthesis, higher for hypothesis generation.
var taskTemperatures = map[Task]float64{
	TaskFeatures:   0.3,
	TaskInsights:   0.7,
	TaskPatch:      0.2,
	TaskEditPatch:  0.2,
	TaskSanity:     0.2,
	TaskBrief:      0.3,
	TaskReflection: 0.2,
}

// Temperature returns the fixed sampling temperature for the task.
func (t Task) Temperature() float64 {
	if temp, ok := taskTemperatures[t]; ok {
		return temp
	}
	return 0.3
}

// ErrNoProvider is returned when a task is invoked without any provider
// configured.
var ErrNoProvider = eris.New("llm: no provider configured")

// System blocks below this size are sent uncached; the API ignores cache
// markers under its minimum cacheable prompt size anyway.
const cacheSystemMinBytes = 4096

// Orchestrator routes task calls through the provider chain: one attempt on
// the primary and, when the failure looks transient, one attempt on the
// fallback. There are no retries beyond that single failover. Usage is
// accumulated across all calls for cost reporting.
type Orchestrator struct {
	primary   Provider
	fallback  Provider
	maxTokens int
	calc      *cost.Calculator

	mu    sync.Mutex
	usage model.TokenUsage
}

// NewOrchestrator builds an orchestrator over the given provider chain.
// fallback may be nil.
func NewOrchestrator(primary, fallback Provider, maxTokens int, calc *cost.Calculator) *Orchestrator {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Orchestrator{
		primary:   primary,
		fallback:  fallback,
		maxTokens: maxTokens,
		calc:      calc,
	}
}

// Call invokes the task's prompt and returns the raw response text.
func (o *Orchestrator) Call(ctx context.Context, task Task, prompt string) (string, error) {
	return o.CallWithSystem(ctx, task, "", prompt)
}

// CallWithSystem invokes the task's prompt under a system persona.
func (o *Orchestrator) CallWithSystem(ctx context.Context, task Task, system, prompt string) (string, error) {
	if o.primary == nil {
		return "", eris.Wrap(ErrNoProvider, fmt.Sprintf("llm: task %s", task))
	}

	req := Request{
		System:      system,
		Prompt:      prompt,
		Temperature: task.Temperature(),
		MaxTokens:   o.maxTokens,
		CacheSystem: len(system) >= cacheSystemMinBytes,
	}

	start := time.Now()
	resp, err := o.primary.Generate(ctx, req)
	provider := o.primary.Name()
	if err != nil && o.fallback != nil && ctx.Err() == nil && Transient(err) {
		zap.L().Warn("primary provider failed, trying fallback",
			zap.String("task", string(task)),
			zap.String("primary", o.primary.Name()),
			zap.String("fallback", o.fallback.Name()),
			zap.Error(err))
		resp, err = o.fallback.Generate(ctx, req)
		provider = o.fallback.Name()
	}
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("llm: task %s", task))
	}

	o.record(task, provider, time.Since(start), resp)
	return resp.Text, nil
}

// CallJSON invokes the task and decodes the extracted JSON payload into out.
// A response with no decodable payload yields a *ParseError carrying the raw
// text for diagnosis.
func (o *Orchestrator) CallJSON(ctx context.Context, task Task, system, prompt string, out any) error {
	text, err := o.CallWithSystem(ctx, task, system, prompt)
	if err != nil {
		return err
	}

	raw := ExtractJSON(text)
	if raw == "" {
		return &ParseError{Task: task, Raw: text}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &ParseError{Task: task, Raw: text, Err: err}
	}
	return nil
}

// Usage returns the accumulated token usage across all calls.
func (o *Orchestrator) Usage() model.TokenUsage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.usage
}

func (o *Orchestrator) record(task Task, provider string, elapsed time.Duration, resp *Response) {
	usage := resp.Usage
	if o.calc != nil {
		usage.Cost = o.calc.MessageCost(resp.Model, usage.InputTokens, usage.OutputTokens)
	}

	o.mu.Lock()
	o.usage.Add(usage)
	o.mu.Unlock()

	zap.L().Debug("llm call",
		zap.String("task", string(task)),
		zap.String("provider", provider),
		zap.String("model", resp.Model),
		zap.Duration("duration", elapsed),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Float64("cost_usd", usage.Cost))
}

// ParseError reports model output that carried no decodable JSON payload.
type ParseError struct {
	Task Task
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: task %s returned undecodable JSON: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("llm: task %s returned no JSON payload", e.Task)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is a JSON extraction or decode failure,
// returning the raw model text when it is.
func IsParseError(err error) (string, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Raw, true
	}
	return "", false
}
