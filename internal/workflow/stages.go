package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/insight"
	"github.com/adronaut/strategy-cli/internal/llm"
	"github.com/adronaut/strategy-cli/internal/model"
)

const extractorPersona = "You are a marketing data feature extractor. Analyze the uploaded artifacts and extract the features that matter for strategy decisions. Base every feature on the artifact contents; never invent data."

const extractorOutputFormat = `Extract the following marketing features:
1. Target audience demographics
2. Brand positioning
3. Marketing channels mentioned
4. Key messaging themes
5. Campaign objectives
6. Budget information (if available)
7. Performance metrics (if available)
8. Competitive landscape insights

Return ONE JSON object with these keys:
- target_audience: object with demographic details
- brand_positioning: string describing positioning
- channels: array of marketing channels
- messaging: array of key themes
- objectives: array of campaign goals
- budget_insights: object with budget information
- metrics: object with performance data
- competitive_insights: array of competitor observations
- recommendations: array of improvement suggestions`

// ExtractFeatures performs the feature-extraction call over the artifact
// summaries. A parse failure is not an error: the fallback feature set
// carries the raw text for diagnosis.
func ExtractFeatures(ctx context.Context, orch *llm.Orchestrator, artifacts []model.Artifact) (map[string]any, error) {
	summaries := make([]map[string]any, 0, len(artifacts))
	for _, a := range artifacts {
		summaries = append(summaries, map[string]any{
			"filename": a.Filename,
			"summary":  promptSummary(a.Summary),
		})
	}

	payload, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "workflow: marshal artifact summaries")
	}

	prompt := fmt.Sprintf("## Artifacts\n```json\n%s\n```\n\nExtract the marketing features now.", payload)

	var features map[string]any
	if err := orch.CallJSON(ctx, llm.TaskFeatures, extractorPersona+"\n\n---\n\n"+extractorOutputFormat, prompt, &features); err != nil {
		if raw, ok := llm.IsParseError(err); ok {
			zap.L().Warn("feature extraction returned unparseable output",
				zap.Int("raw_bytes", len(raw)))
			return fallbackFeatures(raw), nil
		}
		return nil, eris.Wrap(err, "workflow: extract features")
	}
	return features, nil
}

// promptSummary trims the full parsed rows out of an artifact summary. The
// model sees the sample rows and column list; the complete row set stays
// local for schema detection.
func promptSummary(summary map[string]any) map[string]any {
	trimmed := make(map[string]any, len(summary))
	for k, v := range summary {
		if k == "rows" {
			continue
		}
		trimmed[k] = v
	}
	return trimmed
}

// fallbackFeatures is the feature shape used when the model response could
// not be parsed.
func fallbackFeatures(raw string) map[string]any {
	return map[string]any{
		"target_audience":      map[string]any{"description": "analysis unavailable"},
		"brand_positioning":    "analysis unavailable",
		"channels":             []any{},
		"messaging":            []any{},
		"objectives":           []any{},
		"budget_insights":      map[string]any{},
		"metrics":              map[string]any{},
		"competitive_insights": []any{},
		"recommendations":      []any{},
		"raw_analysis":         raw,
	}
}

// rowsFromArtifacts recovers the parsed rows each artifact carries in its
// summary. Rows arrive either as native model.Row slices on the in-process
// path or as generic JSON after a store round trip.
func rowsFromArtifacts(artifacts []model.Artifact) []model.Row {
	var rows []model.Row
	for _, a := range artifacts {
		raw, ok := a.Summary["rows"]
		if !ok {
			continue
		}
		switch vs := raw.(type) {
		case []model.Row:
			rows = append(rows, vs...)
		case []any:
			for _, v := range vs {
				if m, ok := v.(map[string]any); ok {
					rows = append(rows, model.Row(m))
				}
			}
		}
	}
	return rows
}

// applyStrategy builds the strategy document for an approved patch. The
// version number, active flag, and timestamps live on the strategy row, not
// in the document.
func applyStrategy(approved *model.Patch) map[string]any {
	p := approved.Patch
	return map[string]any{
		"patch_id":      approved.ID,
		"source":        approved.Source,
		"patch_applied": p,
		"strategy": map[string]any{
			"targeting": p.AudienceTargeting,
			"channels":  p.ChannelStrategy,
			"messaging": p.MessagingStrategy,
			"budget":    p.BudgetAllocation,
			"metrics":   p.SuccessMetrics,
		},
	}
}

// buildJustification records how the patch was derived: the selected
// insights, the candidate pool they came from, and the synthesizer's own
// reasoning.
func buildJustification(gen *insight.Generation, selected []model.ScoredInsight, reasoning string) string {
	doc := map[string]any{
		"insights":             selected,
		"candidates_evaluated": len(gen.Candidates),
		"coverage_rate":        gen.Coverage.CoverageRate,
		"selection_method":     "deterministic_score",
		"reasoning":            reasoning,
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return reasoning
	}
	return string(out)
}
