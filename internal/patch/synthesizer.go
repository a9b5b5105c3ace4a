package patch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/llm"
	"github.com/adronaut/strategy-cli/internal/model"
)

const synthesizerPersona = "You are a marketing strategy patch synthesizer. Convert the selected insights into ONE concrete, reviewable strategy patch that respects every hard constraint."

const editorPersona = "You are a marketing strategy patch editor. Apply the reviewer's requested changes while keeping the patch coherent and within every hard constraint."

const patchRules = `**HARD CONSTRAINTS (a violating patch is sent back):**
1. Budget: the absolute values of all channel_breakdown percentage deltas sum to 25% or less of baseline.
2. Audience: no two segments share an identical (location, age) pair.
3. Creative: at most 3 key_themes per audience segment.
4. Every numeric claim cites a concrete figure from the insights, never a vague qualifier.`

const patchOutputFormat = `**OUTPUT FORMAT:**

Return ONE JSON object with these fields:

{
  "patch_mode": "optimization" | "experimental",
  "audience_targeting": {
    "segments": [
      {"name": "...", "priority": "high | medium | low", "targeting_criteria": {"location": "...", "age": "...", "interests": ["..."]}}
    ],
    "expansion_strategy": "..."
  },
  "messaging_strategy": {"key_themes": ["..."], "tone_of_voice": "..."},
  "channel_strategy": {"<channel>": "role and tactic"},
  "budget_allocation": {
    "channel_breakdown": {"<channel>": "+15%" | "-10%"},
    "total_budget": "e.g. $12,000/month unchanged",
    "rationale": "..."
  },
  "success_metrics": {"<metric>": "concrete target"},
  "experiment": {"budget_cap": "e.g. $500", "duration_days": 14, "decision_criteria": "..."},
  "justification": "why these changes follow from the insights"
}

"experiment" is required in experimental mode and omitted in optimization mode.`

// patchPayload is the wire shape shared by synthesis and edit responses.
type patchPayload struct {
	model.StrategyPatch
	Justification string `json:"justification"`
	EditSummary   string `json:"edit_summary,omitempty"`
}

// stripped returns a copy of the patch without validator or gate residue, the
// form sent back to the model for reflection and editing.
func stripped(p model.StrategyPatch) model.StrategyPatch {
	p.Annotations = nil
	p.SanityReview = ""
	p.InsufficientEvidence = false
	return p
}

// Synthesizer turns selected insights into a strategy patch with one
// generative call per invocation.
type Synthesizer struct {
	orch *llm.Orchestrator
}

func NewSynthesizer(orch *llm.Orchestrator) *Synthesizer {
	return &Synthesizer{orch: orch}
}

// Synthesis is the outcome of one synthesizer invocation. Raw is set instead
// of a populated patch when the model response could not be parsed; the
// fallback patch is already marked for mandatory human review.
type Synthesis struct {
	Patch         model.StrategyPatch `json:"patch"`
	Justification string              `json:"justification"`
	Raw           string              `json:"raw,omitempty"`
}

// EditResult is the outcome of one LLM-mediated patch edit. On a parse
// failure the original patch comes back unchanged with Raw set, and the
// summary records why.
type EditResult struct {
	Patch   model.StrategyPatch `json:"patch"`
	Summary string              `json:"summary"`
	Raw     string              `json:"raw,omitempty"`
}

// modeFor picks the patch mode from the evidence behind the selected
// insights: direct reallocation when strong support exists, a bounded
// experiment otherwise.
func modeFor(insights []model.ScoredInsight) model.PatchMode {
	for _, in := range insights {
		if in.DataSupport == model.SupportStrong {
			return model.PatchModeOptimization
		}
	}
	return model.PatchModeExperimental
}

// Synthesize performs the patch-synthesis call over the selected insights.
// A parse failure is not an error: the result carries the raw text and an
// empty patch flagged for human review.
func (s *Synthesizer) Synthesize(ctx context.Context, insights []model.ScoredInsight, features map[string]any) (*Synthesis, error) {
	mode := modeFor(insights)

	insightsJSON, err := json.MarshalIndent(insights, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "patch: marshal insights")
	}

	prompt := fmt.Sprintf("## Selected Insights\n```json\n%s\n```\n", insightsJSON)
	if len(features) > 0 {
		featuresJSON, err := json.MarshalIndent(features, "", "  ")
		if err != nil {
			return nil, eris.Wrap(err, "patch: marshal features")
		}
		prompt += fmt.Sprintf("\n## Extracted Features\n```json\n%s\n```\n", featuresJSON)
	}
	prompt += fmt.Sprintf("\nEvidence strength calls for %s mode. Produce the %s strategy patch now.", mode, mode)

	var payload patchPayload
	if err := s.orch.CallJSON(ctx, llm.TaskPatch, s.systemPrompt(), prompt, &payload); err != nil {
		if raw, ok := llm.IsParseError(err); ok {
			zap.L().Warn("patch synthesis returned unparseable output",
				zap.Int("raw_bytes", len(raw)))
			fallback := model.StrategyPatch{PatchMode: mode}
			fallback.EnsureAnnotations().RequiresHITLReview = true
			return &Synthesis{
				Patch:         fallback,
				Justification: "patch synthesis produced no parseable JSON; manual strategy review required",
				Raw:           raw,
			}, nil
		}
		return nil, eris.Wrap(err, "patch: synthesize")
	}

	p := payload.StrategyPatch
	p.PatchMode = mode

	justification := payload.Justification
	if justification == "" {
		justification = fmt.Sprintf("Synthesized from %d selected insights", len(insights))
	}

	zap.L().Info("strategy patch synthesized",
		zap.String("mode", string(mode)),
		zap.Int("segments", segmentCount(&p)),
		zap.Int("themes", themeCount(&p)),
		zap.Bool("has_experiment", p.Experiment != nil))

	return &Synthesis{Patch: p, Justification: justification}, nil
}

// Edit rewrites the patch per the reviewer's request. The input is sent
// stripped of annotations and the result comes back clean, since an edited
// patch is auto-approved without re-validation.
func (s *Synthesizer) Edit(ctx context.Context, p model.StrategyPatch, request string) (*EditResult, error) {
	patchJSON, err := json.MarshalIndent(stripped(p), "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "patch: marshal for edit")
	}

	prompt := fmt.Sprintf("## Current Patch\n```json\n%s\n```\n\n## Requested Changes\n%s\n\nReturn the COMPLETE updated patch in the same JSON format, plus an \"edit_summary\" field describing what you changed.",
		patchJSON, request)

	var payload patchPayload
	if err := s.orch.CallJSON(ctx, llm.TaskEditPatch, s.editSystemPrompt(), prompt, &payload); err != nil {
		if raw, ok := llm.IsParseError(err); ok {
			zap.L().Warn("patch edit returned unparseable output",
				zap.Int("raw_bytes", len(raw)))
			return &EditResult{
				Patch:   stripped(p),
				Summary: "edit produced no parseable JSON; original patch retained",
				Raw:     raw,
			}, nil
		}
		return nil, eris.Wrap(err, "patch: edit")
	}

	edited := stripped(payload.StrategyPatch)
	if edited.PatchMode == "" {
		edited.PatchMode = p.PatchMode
	}

	summary := payload.EditSummary
	if summary == "" {
		summary = fmt.Sprintf("Edited per reviewer request: %s", request)
	}

	zap.L().Info("strategy patch edited",
		zap.String("mode", string(edited.PatchMode)),
		zap.Int("segments", segmentCount(&edited)),
		zap.Int("themes", themeCount(&edited)))

	return &EditResult{Patch: edited, Summary: summary}, nil
}

func (s *Synthesizer) systemPrompt() string {
	return synthesizerPersona + "\n\n---\n\n" + patchRules + "\n\n---\n\n" + patchOutputFormat
}

func (s *Synthesizer) editSystemPrompt() string {
	return editorPersona + "\n\n---\n\n" + patchRules + "\n\n---\n\n" + patchOutputFormat
}

func segmentCount(p *model.StrategyPatch) int {
	if p.AudienceTargeting == nil {
		return 0
	}
	return len(p.AudienceTargeting.Segments)
}

func themeCount(p *model.StrategyPatch) int {
	if p.MessagingStrategy == nil {
		return 0
	}
	return len(p.MessagingStrategy.KeyThemes)
}
