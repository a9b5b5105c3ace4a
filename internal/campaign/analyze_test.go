package campaign

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adronaut/strategy-cli/internal/llm"
	"github.com/adronaut/strategy-cli/internal/model"
)

func metric(name string, value float64) model.Metric {
	return model.Metric{CampaignID: "cmp-1", Name: name, Value: value}
}

func TestAggregateRecomputesRates(t *testing.T) {
	t.Parallel()

	// Two passes whose per-pass rates would sum to nonsense; the aggregate
	// rates must come from the summed counts instead.
	totals := Aggregate([]model.Metric{
		metric("impressions", 50000), metric("clicks", 500), metric("conversions", 40), metric("ctr", 1.0), metric("cvr", 8.0),
		metric("impressions", 50000), metric("clicks", 1500), metric("conversions", 60), metric("ctr", 3.0), metric("cvr", 4.0),
	})

	assert.Equal(t, 100000.0, totals["impressions"])
	assert.Equal(t, 2000.0, totals["clicks"])
	assert.Equal(t, 100.0, totals["conversions"])
	assert.Equal(t, 2.0, totals["ctr"])
	assert.Equal(t, 5.0, totals["cvr"])
}

func TestAnalyzeHealthyCampaign(t *testing.T) {
	t.Parallel()

	analysis := Analyze("cmp-1", []model.Metric{
		metric("impressions", 100000),
		metric("clicks", 2600),
		metric("conversions", 78),
		metric("spend", 2000),
	})

	// ctr 2.6% caps the first bucket at 50; cvr 3.0% earns 48.
	assert.Equal(t, 98.0, analysis.OverallScore)
	assert.False(t, analysis.NeedsAdjustment)
	assert.Equal(t, "2.6%", analysis.Summary["engagement_rate"])
	assert.Equal(t, "3.0%", analysis.Summary["conversion_rate"])
	assert.Equal(t, "4.7x", analysis.Summary["roi"])
	assert.Equal(t, []string{
		"Continue current messaging strategy",
		"Increase budget allocation to top-performing channels",
		"Test additional audience segments",
	}, analysis.Recommendations)
}

func TestAnalyzeUnderperformingCampaign(t *testing.T) {
	t.Parallel()

	analysis := Analyze("cmp-1", []model.Metric{
		metric("impressions", 100000),
		metric("clicks", 1000),
		metric("conversions", 10),
		metric("spend", 3000),
	})

	// ctr 1.0% earns 20 of 50, cvr 1.0% earns 16.
	assert.Equal(t, 36.0, analysis.OverallScore)
	assert.True(t, analysis.NeedsAdjustment)
	assert.Equal(t, "0.4x", analysis.Summary["roi"])

	require.Len(t, analysis.Recommendations, 2)
	assert.Contains(t, analysis.Recommendations[0], "Refresh creative")
	assert.Contains(t, analysis.Recommendations[1], "Tighten audience targeting")
}

func TestAnalyzeNoMetrics(t *testing.T) {
	t.Parallel()

	analysis := Analyze("cmp-1", nil)

	assert.Equal(t, 0.0, analysis.OverallScore)
	assert.True(t, analysis.NeedsAdjustment)
	assert.NotEmpty(t, analysis.Recommendations)
}

const reflectionPatch = `{
  "patch_mode": "experimental",
  "budget_allocation": {
    "channel_breakdown": {"search": "+10%", "display": "-10%"},
    "rationale": "conversion sits below benchmark while search carries intent"
  },
  "success_metrics": {"cvr": "above 2.5% within 14 days"},
  "justification": "Conversion rate missed the benchmark while click-through held"
}`

func failingAnalysis() *model.PerformanceAnalysis {
	return &model.PerformanceAnalysis{
		CampaignID:      "cmp-1",
		OverallScore:    36,
		Summary:         map[string]any{"conversion_rate": "1.0%"},
		NeedsAdjustment: true,
		Recommendations: []string{"Tighten audience targeting"},
	}
}

func TestReflect(t *testing.T) {
	t.Parallel()

	analyzer := NewAnalyzer(testOrchestrator(reflectionPatch))

	reflection, err := analyzer.Reflect(context.Background(), failingAnalysis())
	require.NoError(t, err)

	assert.Equal(t, model.PatchModeExperimental, reflection.Patch.PatchMode)
	require.NotNil(t, reflection.Patch.BudgetAllocation)
	assert.Equal(t, "+10%", reflection.Patch.BudgetAllocation.ChannelBreakdown["search"])
	assert.Equal(t, "Conversion rate missed the benchmark while click-through held", reflection.Justification)
	assert.Empty(t, reflection.Raw)
}

func TestReflectDefaultsModeAndJustification(t *testing.T) {
	t.Parallel()

	analyzer := NewAnalyzer(testOrchestrator(`{"budget_allocation": {"channel_breakdown": {"search": "+5%"}}}`))

	reflection, err := analyzer.Reflect(context.Background(), failingAnalysis())
	require.NoError(t, err)

	assert.Equal(t, model.PatchModeOptimization, reflection.Patch.PatchMode)
	assert.Contains(t, reflection.Justification, "cmp-1")
	assert.Contains(t, reflection.Justification, "36")
}

func TestReflectFallsBackOnUnparseableOutput(t *testing.T) {
	t.Parallel()

	analyzer := NewAnalyzer(testOrchestrator("the campaign simply needs better creative"))

	reflection, err := analyzer.Reflect(context.Background(), failingAnalysis())
	require.NoError(t, err)

	assert.Equal(t, model.PatchModeOptimization, reflection.Patch.PatchMode)
	require.NotNil(t, reflection.Patch.Annotations)
	assert.True(t, reflection.Patch.Annotations.RequiresHITLReview)
	assert.Contains(t, reflection.Justification, "manual strategy review")
	assert.Equal(t, "the campaign simply needs better creative", reflection.Raw)
}

func TestReflectPropagatesCallFailure(t *testing.T) {
	t.Parallel()

	orch := llm.NewOrchestrator(&stubProvider{err: assert.AnError}, nil, 0, nil)
	analyzer := NewAnalyzer(orch)

	_, err := analyzer.Reflect(context.Background(), failingAnalysis())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reflect")
}
