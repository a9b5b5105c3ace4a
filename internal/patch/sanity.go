package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/llm"
	"github.com/adronaut/strategy-cli/internal/model"
)

const reviewerPersona = "You are a marketing strategy reviewer conducting a final safety check before a patch reaches human review. Base your assessment ONLY on the patch content; do not speculate or add information not present."

const reviewerRules = `**Evaluate each action area for:**
1. Logical coherence: does the action follow from the cited evidence?
2. Realistic outcomes: are the expected effects achievable?
3. Execution risk: budget exposure, brand safety, operational complexity.

**Risk levels:**
- high: budget shifts over 25%, brand-sensitive messaging changes, untested channels with large budgets
- medium: moderate budget shifts (10-25%), new audience segments, creative refreshes
- low: minor optimizations, a/b tests, small pilots

**Rules:**
- Do not approve high-risk actions without strong evidence.
- Flag any significant change backed by weak evidence or low confidence.
- Flag a missing or vague budget allocation for clarification.`

const reviewerOutputFormat = `**OUTPUT FORMAT:**

Return ONLY valid JSON in exactly this shape:

{
  "approved_actions": [
    {"action_id": "budget_allocation | audience_targeting | messaging_strategy | channel_strategy", "reasoning": "why this is safe and supported"}
  ],
  "flagged": [
    {"action_id": "...", "reason": "specific concern", "risk": "high | medium | low", "recommendation": "suggested mitigation"}
  ],
  "overall_assessment": "safe" | "review_recommended" | "high_risk"
}

Both arrays are required even when empty.`

// Flag reasons containing these markers promote the patch-level
// insufficient-evidence flag.
var insufficientEvidenceMarkers = []string{"insufficient evidence", "no evidence", "weak data"}

// sanityPayload distinguishes absent keys from empty arrays so a response
// missing either bucket is treated as a shape failure.
type sanityPayload struct {
	ApprovedActions   *[]model.ApprovedAction `json:"approved_actions"`
	Flagged           *[]model.SanityFlag     `json:"flagged"`
	OverallAssessment model.SanityVerdict     `json:"overall_assessment"`
}

// Gate is the reflection pass: an independent model-mediated second opinion
// that annotates risk on a patch without ever rejecting it.
type Gate struct {
	orch *llm.Orchestrator
}

func NewGate(orch *llm.Orchestrator) *Gate {
	return &Gate{orch: orch}
}

// Review sends the patch, stripped of prior annotations, through the
// reflection prompt and merges the verdict back onto it. A parse or shape
// failure degrades to review_recommended with one synthetic flag; the gate
// never resolves to safe by accident. Call failures propagate.
func (g *Gate) Review(ctx context.Context, p *model.StrategyPatch) (model.SanityReview, error) {
	patchJSON, err := json.MarshalIndent(stripped(*p), "", "  ")
	if err != nil {
		return model.SanityReview{}, eris.Wrap(err, "patch: marshal for review")
	}

	prompt := fmt.Sprintf("Review the following proposed strategy patch:\n\n```json\n%s\n```\n\nReturn the JSON verdict now.", patchJSON)

	var payload sanityPayload
	if err := g.orch.CallJSON(ctx, llm.TaskSanity, g.systemPrompt(), prompt, &payload); err != nil {
		if raw, ok := llm.IsParseError(err); ok {
			zap.L().Warn("sanity gate returned unparseable output",
				zap.Int("raw_bytes", len(raw)))
			review := degradedReview(err)
			annotate(p, review)
			return review, nil
		}
		return model.SanityReview{}, eris.Wrap(err, "patch: sanity review")
	}

	if payload.ApprovedActions == nil || payload.Flagged == nil || !payload.OverallAssessment.Valid() {
		zap.L().Warn("sanity gate returned unexpected shape",
			zap.Bool("has_approved", payload.ApprovedActions != nil),
			zap.Bool("has_flagged", payload.Flagged != nil),
			zap.String("assessment", string(payload.OverallAssessment)))
		review := degradedReview(eris.New("patch: sanity response missing required keys"))
		annotate(p, review)
		return review, nil
	}

	review := model.SanityReview{
		ApprovedActions:   *payload.ApprovedActions,
		Flagged:           *payload.Flagged,
		OverallAssessment: payload.OverallAssessment,
	}
	annotate(p, review)

	zap.L().Info("sanity review complete",
		zap.String("assessment", string(review.OverallAssessment)),
		zap.Int("approved", len(review.ApprovedActions)),
		zap.Int("flagged", len(review.Flagged)))
	return review, nil
}

func (g *Gate) systemPrompt() string {
	return reviewerPersona + "\n\n---\n\n" + reviewerRules + "\n\n---\n\n" + reviewerOutputFormat
}

// degradedReview is the conservative substitute for an unusable gate
// response.
func degradedReview(err error) model.SanityReview {
	return model.SanityReview{
		ApprovedActions: []model.ApprovedAction{},
		Flagged: []model.SanityFlag{{
			ActionID:       "sanity_gate_failed",
			Reason:         fmt.Sprintf("sanity gate error: %v", err),
			Risk:           model.RiskUnknown,
			Recommendation: "Manual review required",
		}},
		OverallAssessment: model.SanityReviewRecommended,
	}
}

// annotate merges the review outcome onto the patch. Any flagged action forces
// human review, and evidence-quality flags set the patch-level marker.
func annotate(p *model.StrategyPatch, review model.SanityReview) {
	ann := p.EnsureAnnotations()

	if len(review.Flagged) > 0 {
		ann.SanityFlags = review.Flagged
		ann.RequiresHITLReview = true
		for _, f := range review.Flagged {
			reason := strings.ToLower(f.Reason)
			for _, marker := range insufficientEvidenceMarkers {
				if strings.Contains(reason, marker) {
					p.InsufficientEvidence = true
				}
			}
		}
	}
	if len(review.ApprovedActions) > 0 {
		ann.ApprovedActions = review.ApprovedActions
	}
	p.SanityReview = review.OverallAssessment
}

// ShouldBlock recommends holding the patch back when at least two flags carry
// high risk. Advisory only: actual blocking is always a human decision.
func ShouldBlock(p *model.StrategyPatch) bool {
	if p.Annotations == nil {
		return false
	}
	high := 0
	for _, f := range p.Annotations.SanityFlags {
		if f.Risk == model.RiskHigh {
			high++
		}
	}
	return high >= 2
}

// ReviewSummary renders a one-line digest of the gate outcome for logs and
// the CLI.
func ReviewSummary(p *model.StrategyPatch) string {
	verdict := string(p.SanityReview)
	if verdict == "" {
		verdict = "unreviewed"
	}

	approved, flagged := 0, 0
	risks := map[model.RiskLevel]int{}
	if p.Annotations != nil {
		approved = len(p.Annotations.ApprovedActions)
		flagged = len(p.Annotations.SanityFlags)
		for _, f := range p.Annotations.SanityFlags {
			risks[f.Risk]++
		}
	}

	parts := []string{
		"assessment: " + strings.ToUpper(verdict),
		fmt.Sprintf("approved: %d actions", approved),
		fmt.Sprintf("flagged: %d issues", flagged),
	}
	if flagged > 0 {
		var dist []string
		for _, level := range []model.RiskLevel{model.RiskHigh, model.RiskMedium, model.RiskLow, model.RiskUnknown} {
			if n := risks[level]; n > 0 {
				dist = append(dist, fmt.Sprintf("%s=%d", level, n))
			}
		}
		parts = append(parts, "risk: "+strings.Join(dist, " "))
	}
	return strings.Join(parts, " | ")
}
