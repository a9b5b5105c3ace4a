package patch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adronaut/strategy-cli/internal/llm"
	"github.com/adronaut/strategy-cli/internal/model"
)

type stubProvider struct {
	text string
	err  error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Generate(context.Context, llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.text, Model: "stub-model"}, nil
}

func testOrchestrator(text string) *llm.Orchestrator {
	return llm.NewOrchestrator(&stubProvider{text: text}, nil, 0, nil)
}

func scoredInsight(support model.DataSupport) model.ScoredInsight {
	return model.ScoredInsight{
		InsightCandidate: model.InsightCandidate{
			DirectionID:    "outlier_scaling",
			Insight:        "Running shoes deliver 6.99 ROAS vs 3.54 portfolio average",
			ProposedAction: "Shift 20% of budget to running shoes over 14 days",
			PrimaryLever:   model.LeverBudget,
			DataSupport:    support,
			Confidence:     0.8,
		},
		ImpactScore: 75,
		ImpactRank:  1,
	}
}

const synthesizedPatch = `{
  "patch_mode": "experimental",
  "audience_targeting": {
    "segments": [
      {"name": "Runners", "priority": "high", "targeting_criteria": {"location": "US", "age": "25-35", "interests": ["running"]}}
    ],
    "expansion_strategy": "lookalike audiences after 2 weeks"
  },
  "messaging_strategy": {"key_themes": ["performance", "durability"], "tone_of_voice": "confident"},
  "channel_strategy": {"search": "primary conversion channel"},
  "budget_allocation": {
    "channel_breakdown": {"search": "+20%", "display": "-20%"},
    "total_budget": "$12,000/month unchanged",
    "rationale": "Search carries 6.99 ROAS vs 2.1 on display"
  },
  "success_metrics": {"roas": "maintain above 6.0"},
  "justification": "Strong ROAS outlier justifies direct reallocation"
}`

func TestModeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		insights []model.ScoredInsight
		want     model.PatchMode
	}{
		{
			name:     "strong evidence picks optimization",
			insights: []model.ScoredInsight{scoredInsight(model.SupportWeak), scoredInsight(model.SupportStrong)},
			want:     model.PatchModeOptimization,
		},
		{
			name:     "moderate and weak evidence picks experimental",
			insights: []model.ScoredInsight{scoredInsight(model.SupportModerate), scoredInsight(model.SupportWeak)},
			want:     model.PatchModeExperimental,
		},
		{
			name: "no insights picks experimental",
			want: model.PatchModeExperimental,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, modeFor(tt.insights))
		})
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	syn := NewSynthesizer(testOrchestrator("Here is the patch:\n```json\n" + synthesizedPatch + "\n```"))
	insights := []model.ScoredInsight{scoredInsight(model.SupportStrong)}

	got, err := syn.Synthesize(context.Background(), insights, map[string]any{"metrics": map[string]any{"roas": 4.69}})
	require.NoError(t, err)
	assert.Empty(t, got.Raw)

	// Mode follows evidence strength, not whatever the model claims.
	assert.Equal(t, model.PatchModeOptimization, got.Patch.PatchMode)
	assert.Equal(t, "Strong ROAS outlier justifies direct reallocation", got.Justification)

	require.NotNil(t, got.Patch.AudienceTargeting)
	require.Len(t, got.Patch.AudienceTargeting.Segments, 1)
	assert.Equal(t, "US", got.Patch.AudienceTargeting.Segments[0].TargetingCriteria.Location)

	require.NotNil(t, got.Patch.BudgetAllocation)
	assert.Equal(t, "+20%", got.Patch.BudgetAllocation.ChannelBreakdown["search"])
}

func TestSynthesizeParseFailure(t *testing.T) {
	t.Parallel()

	raw := "I cannot produce a patch for this data."
	syn := NewSynthesizer(testOrchestrator(raw))

	got, err := syn.Synthesize(context.Background(), []model.ScoredInsight{scoredInsight(model.SupportWeak)}, nil)
	require.NoError(t, err)

	assert.Equal(t, raw, got.Raw)
	assert.Equal(t, model.PatchModeExperimental, got.Patch.PatchMode)
	assert.NotEmpty(t, got.Justification)

	require.NotNil(t, got.Patch.Annotations)
	assert.True(t, got.Patch.Annotations.RequiresHITLReview)
}

func TestSynthesizeCallFailure(t *testing.T) {
	t.Parallel()

	syn := NewSynthesizer(llm.NewOrchestrator(&stubProvider{err: assert.AnError}, nil, 0, nil))

	_, err := syn.Synthesize(context.Background(), []model.ScoredInsight{scoredInsight(model.SupportStrong)}, nil)
	assert.Error(t, err)
}

func TestEdit(t *testing.T) {
	t.Parallel()

	// The model echoes annotations; the editor strips them so a stale
	// verdict never rides along on an auto-approved patch.
	edited := `{
	  "patch_mode": "optimization",
	  "budget_allocation": {"channel_breakdown": {"search": "+15%", "display": "-15%"}},
	  "annotations": {"heuristic_flags": ["stale"], "requires_hitl_review": true},
	  "sanity_review": "high_risk",
	  "edit_summary": "Reduced the search shift from 20% to 15%"
	}`
	syn := NewSynthesizer(testOrchestrator(edited))

	original := validPatch()
	original.EnsureAnnotations().HeuristicFlags = []string{"budget_shift_exceeds_25_percent: total_shift=40.0%"}

	got, err := syn.Edit(context.Background(), original, "make the budget shift smaller")
	require.NoError(t, err)
	assert.Empty(t, got.Raw)

	assert.Equal(t, "Reduced the search shift from 20% to 15%", got.Summary)
	assert.Equal(t, "+15%", got.Patch.BudgetAllocation.ChannelBreakdown["search"])
	assert.Nil(t, got.Patch.Annotations)
	assert.Empty(t, got.Patch.SanityReview)
}

func TestEditParseFailure(t *testing.T) {
	t.Parallel()

	raw := "Sorry, I could not apply that edit."
	syn := NewSynthesizer(testOrchestrator(raw))

	original := validPatch()
	got, err := syn.Edit(context.Background(), original, "double everything")
	require.NoError(t, err)

	assert.Equal(t, raw, got.Raw)
	assert.Contains(t, got.Summary, "original patch retained")
	assert.Equal(t, stripped(original), got.Patch)
}
