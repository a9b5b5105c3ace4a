package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/llm"
	"github.com/adronaut/strategy-cli/internal/model"
)

// Benchmarks the synthetic campaign is graded against. Rates are
// percentages; a campaign scoring below the adjustment threshold gets a
// reflection patch.
const (
	benchmarkCTRPct     = 2.0
	benchmarkCVRPct     = 2.5
	valuePerConversion  = 120.0
	adjustmentThreshold = 70.0
)

// Aggregate sums collected metrics by name. Rate metrics (ctr, cvr) are
// recomputed from the summed counts rather than averaged across passes.
func Aggregate(metrics []model.Metric) map[string]float64 {
	totals := make(map[string]float64)
	for _, m := range metrics {
		totals[m.Name] += m.Value
	}
	if totals["impressions"] > 0 {
		totals["ctr"] = round2(totals["clicks"] / totals["impressions"] * 100)
	}
	if totals["clicks"] > 0 {
		totals["cvr"] = round2(totals["conversions"] / totals["clicks"] * 100)
	}
	return totals
}

// Analyze grades the aggregated metrics against the fixed benchmarks,
// weighing click-through and conversion equally.
func Analyze(campaignID string, metrics []model.Metric) *model.PerformanceAnalysis {
	totals := Aggregate(metrics)
	ctr := totals["ctr"]
	cvr := totals["cvr"]

	score := math.Round(rateScore(ctr, benchmarkCTRPct) + rateScore(cvr, benchmarkCVRPct))

	roi := 0.0
	if totals["spend"] > 0 {
		roi = round2(totals["conversions"] * valuePerConversion / totals["spend"])
	}

	needsAdjustment := score < adjustmentThreshold

	analysis := &model.PerformanceAnalysis{
		CampaignID:   campaignID,
		OverallScore: score,
		Summary: map[string]any{
			"overall_score":   score,
			"impressions":     totals["impressions"],
			"clicks":          totals["clicks"],
			"conversions":     totals["conversions"],
			"spend":           totals["spend"],
			"engagement_rate": fmt.Sprintf("%.1f%%", ctr),
			"conversion_rate": fmt.Sprintf("%.1f%%", cvr),
			"roi":             fmt.Sprintf("%.1fx", roi),
		},
		NeedsAdjustment: needsAdjustment,
		Recommendations: recommendations(ctr, cvr, needsAdjustment),
	}

	zap.L().Info("campaign performance analyzed",
		zap.String("campaign_id", campaignID),
		zap.Float64("score", score),
		zap.Bool("needs_adjustment", needsAdjustment))

	return analysis
}

// rateScore converts an observed rate into up to 50 points. The benchmark
// earns 40; beating it by 25% maxes out the bucket.
func rateScore(observed, benchmark float64) float64 {
	if benchmark <= 0 {
		return 0
	}
	ratio := observed / benchmark
	if ratio > 1.25 {
		ratio = 1.25
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio / 1.25 * 50
}

func recommendations(ctr, cvr float64, needsAdjustment bool) []string {
	if !needsAdjustment {
		return []string{
			"Continue current messaging strategy",
			"Increase budget allocation to top-performing channels",
			"Test additional audience segments",
		}
	}

	var recs []string
	if ctr < benchmarkCTRPct {
		recs = append(recs, fmt.Sprintf("Refresh creative and messaging: click-through %.1f%% is below the %.1f%% benchmark", ctr, benchmarkCTRPct))
	}
	if cvr < benchmarkCVRPct {
		recs = append(recs, fmt.Sprintf("Tighten audience targeting: conversion %.1f%% is below the %.1f%% benchmark", cvr, benchmarkCVRPct))
	}
	if len(recs) == 0 {
		recs = append(recs, "Rebalance budget toward the channels driving conversions")
	}
	return recs
}

const reflectionPersona = "You are a marketing strategy reflection agent. The launched campaign underperformed; propose ONE corrective strategy patch grounded in the collected metrics, changing only what the numbers justify."

const reflectionOutputFormat = `**OUTPUT FORMAT:**

Return ONE JSON object with these fields:

{
  "patch_mode": "optimization" | "experimental",
  "audience_targeting": {"segments": [{"name": "...", "priority": "high | medium | low", "targeting_criteria": {"location": "...", "age": "...", "interests": ["..."]}}], "expansion_strategy": "..."},
  "messaging_strategy": {"key_themes": ["..."], "tone_of_voice": "..."},
  "channel_strategy": {"<channel>": "role and tactic"},
  "budget_allocation": {"channel_breakdown": {"<channel>": "+15%" | "-10%"}, "total_budget": "...", "rationale": "..."},
  "success_metrics": {"<metric>": "concrete target"},
  "justification": "why these corrections follow from the metrics"
}

Omit any section the metrics give no reason to change.`

// reflectionPayload is the wire shape of a reflection response.
type reflectionPayload struct {
	model.StrategyPatch
	Justification string `json:"justification"`
}

// Reflection is the corrective patch proposed after an underperforming
// campaign. Raw is set instead of a populated patch when the model response
// could not be parsed.
type Reflection struct {
	Patch         model.StrategyPatch `json:"patch"`
	Justification string              `json:"justification"`
	Raw           string              `json:"raw,omitempty"`
}

// Analyzer proposes reflection patches for underperforming campaigns.
type Analyzer struct {
	orch *llm.Orchestrator
}

func NewAnalyzer(orch *llm.Orchestrator) *Analyzer {
	return &Analyzer{orch: orch}
}

// Reflect performs the reflection call over a completed analysis. A parse
// failure is not an error: the fallback patch is empty and marked for
// mandatory human review.
func (a *Analyzer) Reflect(ctx context.Context, analysis *model.PerformanceAnalysis) (*Reflection, error) {
	analysisJSON, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "campaign: marshal analysis")
	}

	prompt := fmt.Sprintf("## Performance Analysis\n```json\n%s\n```\n\nPropose the corrective strategy patch now.", analysisJSON)

	var payload reflectionPayload
	if err := a.orch.CallJSON(ctx, llm.TaskReflection, reflectionPersona+"\n\n---\n\n"+reflectionOutputFormat, prompt, &payload); err != nil {
		if raw, ok := llm.IsParseError(err); ok {
			zap.L().Warn("reflection returned unparseable output",
				zap.Int("raw_bytes", len(raw)))
			fallback := model.StrategyPatch{PatchMode: model.PatchModeOptimization}
			fallback.EnsureAnnotations().RequiresHITLReview = true
			return &Reflection{
				Patch:         fallback,
				Justification: "reflection produced no parseable JSON; manual strategy review required",
				Raw:           raw,
			}, nil
		}
		return nil, eris.Wrap(err, "campaign: reflect")
	}

	p := payload.StrategyPatch
	if p.PatchMode == "" {
		p.PatchMode = model.PatchModeOptimization
	}

	justification := payload.Justification
	if justification == "" {
		justification = fmt.Sprintf("Corrective patch for campaign %s scoring %.0f/100", analysis.CampaignID, analysis.OverallScore)
	}

	zap.L().Info("reflection patch proposed",
		zap.String("campaign_id", analysis.CampaignID),
		zap.String("mode", string(p.PatchMode)))

	return &Reflection{Patch: p, Justification: justification}, nil
}
