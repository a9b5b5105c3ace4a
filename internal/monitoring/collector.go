// Package monitoring gathers pipeline health snapshots and raises webhook
// alerts when failure rates, review backlog, or spend cross configured
// thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/adronaut/strategy-cli/internal/model"
	"github.com/adronaut/strategy-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal          int     `json:"runs_total"`
	RunsCompleted      int     `json:"runs_completed"`
	RunsFailed         int     `json:"runs_failed"`
	RunsAwaitingReview int     `json:"runs_awaiting_review"`
	RunsActive         int     `json:"runs_active"`
	RunFailRate        float64 `json:"run_fail_rate"`

	// Step event metrics (within lookback window).
	StepsCompleted int     `json:"steps_completed"`
	StepsFailed    int     `json:"steps_failed"`
	StepFailRate   float64 `json:"step_fail_rate"`

	// Patch review metrics (within lookback window).
	PatchesProposed   int `json:"patches_proposed"`
	PatchesApproved   int `json:"patches_approved"`
	PatchesRejected   int `json:"patches_rejected"`
	PatchesSuperseded int `json:"patches_superseded"`

	// Generative-model usage. Accumulated over the process lifetime, not
	// the lookback window.
	LLMCalls        int     `json:"llm_calls"`
	LLMInputTokens  int     `json:"llm_input_tokens"`
	LLMOutputTokens int     `json:"llm_output_tokens"`
	LLMCostUSD      float64 `json:"llm_cost_usd"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// UsageSource reports accumulated generative-model usage.
type UsageSource interface {
	Usage() model.TokenUsage
}

// Collector gathers metrics from the store and the usage source.
type Collector struct {
	store store.Store
	usage UsageSource
}

// NewCollector creates a metrics collector. usage may be nil.
func NewCollector(st store.Store, usage UsageSource) *Collector {
	return &Collector{store: st, usage: usage}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runCounts, err := c.store.CountRunsByStatus(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count runs")
	}
	snap.RunsCompleted = runCounts[model.RunStatusCompleted]
	snap.RunsFailed = runCounts[model.RunStatusFailed]
	snap.RunsAwaitingReview = runCounts[model.RunStatusHITLRequired]
	snap.RunsActive = runCounts[model.RunStatusStarting] + runCounts[model.RunStatusRunning]
	for _, n := range runCounts {
		snap.RunsTotal += n
	}
	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	stepCounts, err := c.store.CountStepEventsByStatus(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count step events")
	}
	snap.StepsCompleted = stepCounts[model.StepStatusCompleted]
	snap.StepsFailed = stepCounts[model.StepStatusFailed]
	if settled := snap.StepsCompleted + snap.StepsFailed; settled > 0 {
		snap.StepFailRate = float64(snap.StepsFailed) / float64(settled)
	}

	patchCounts, err := c.store.CountPatchesByStatus(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count patches")
	}
	snap.PatchesProposed = patchCounts[model.PatchStatusProposed]
	snap.PatchesApproved = patchCounts[model.PatchStatusApproved]
	snap.PatchesRejected = patchCounts[model.PatchStatusRejected]
	snap.PatchesSuperseded = patchCounts[model.PatchStatusSuperseded]

	if c.usage != nil {
		u := c.usage.Usage()
		snap.LLMCalls = u.Calls
		snap.LLMInputTokens = u.InputTokens
		snap.LLMOutputTokens = u.OutputTokens
		snap.LLMCostUSD = u.Cost
	}

	return snap, nil
}
