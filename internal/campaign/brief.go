// Package campaign covers the post-approval half of a run: compiling the
// active strategy into a brief, launching a simulated campaign, generating
// synthetic performance metrics, and analyzing the results.
package campaign

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/llm"
)

const compilerPersona = "You are a marketing brief compiler. Turn the applied strategy into one actionable campaign brief a media team could execute without further questions."

const briefOutputFormat = `**OUTPUT FORMAT:**

Return ONE JSON object with these fields:

{
  "executive_summary": "brief overview of the strategy and its goals",
  "target_audience": {"definition": "...", "segments": ["..."]},
  "messaging_framework": {"key_messages": ["..."], "tone": "..."},
  "channel_tactics": ["specific channel recommendation with tactic"],
  "budget_allocation": {"<channel>": "share or amount"},
  "timeline": {"phases": ["..."]},
  "success_metrics": ["KPI with measurement method"],
  "implementation_guide": ["step-by-step action"]
}`

// Compiler turns an active strategy into a campaign brief with one
// generative call per invocation.
type Compiler struct {
	orch *llm.Orchestrator
}

func NewCompiler(orch *llm.Orchestrator) *Compiler {
	return &Compiler{orch: orch}
}

// Compile performs the brief-compilation call over the strategy. A parse
// failure is not an error: the fallback brief carries the raw text so the
// campaign record still has something actionable attached.
func (c *Compiler) Compile(ctx context.Context, strategy map[string]any) (map[string]any, error) {
	strategyJSON, err := json.MarshalIndent(strategy, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "campaign: marshal strategy")
	}

	prompt := fmt.Sprintf("## Active Strategy\n```json\n%s\n```\n\nCompile the campaign brief now.", strategyJSON)

	var brief map[string]any
	if err := c.orch.CallJSON(ctx, llm.TaskBrief, compilerPersona+"\n\n---\n\n"+briefOutputFormat, prompt, &brief); err != nil {
		if raw, ok := llm.IsParseError(err); ok {
			zap.L().Warn("brief compilation returned unparseable output",
				zap.Int("raw_bytes", len(raw)))
			return fallbackBrief(raw), nil
		}
		return nil, eris.Wrap(err, "campaign: compile brief")
	}

	zap.L().Info("campaign brief compiled",
		zap.Int("sections", len(brief)))

	return brief, nil
}

// fallbackBrief is the brief shape used when the model response could not be
// parsed. The raw text rides along for diagnosis.
func fallbackBrief(raw string) map[string]any {
	return map[string]any{
		"executive_summary":    "brief compilation produced no parseable JSON; manual review required",
		"target_audience":      map[string]any{"definition": "unavailable"},
		"messaging_framework":  map[string]any{"key_messages": []any{}},
		"channel_tactics":      []any{},
		"budget_allocation":    map[string]any{},
		"timeline":             map[string]any{},
		"success_metrics":      []any{},
		"implementation_guide": []any{},
		"raw_brief":            raw,
	}
}
