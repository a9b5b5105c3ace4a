package insight

import (
	"context"
	"encoding/json"
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

const generatedInsight = `{
  "outlier_scaling": {
    "insight": "Running shoes deliver 6.99 ROAS vs 3.54 portfolio average",
    "hypothesis": "High purchase intent in the running segment",
    "proposed_action": "Shift 20% of budget to running shoes over 14 days",
    "primary_lever": "budget",
    "expected_effect": {"direction": "increase", "metric": "roas", "magnitude": "medium", "range": "15-25%"},
    "confidence": 0.8,
    "data_support": "strong",
    "evidence_refs": ["metrics.roas"],
    "contrastive_reason": "Budget beats bidding because the top slot is already won"
  },
  "waste_elimination": null,
  "creative_optimization": {"insight": "Insufficient data"}
}`

func TestGenerate(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(testOrchestrator("Here is my analysis:\n```json\n"+generatedInsight+"\n```"), DefaultCatalog())

	got, err := gen.Generate(context.Background(), model.TableSchema{PrimaryDimension: "keyword", RowCount: 3}, "## Data Structure", map[string]any{"metrics": map[string]any{"roas": 4.69}})
	require.NoError(t, err)
	require.Len(t, got.Candidates, 1)

	c := got.Candidates[0]
	assert.Equal(t, "outlier_scaling", c.DirectionID)
	assert.Equal(t, "High-Performer Scaling Opportunity", c.DirectionName)
	assert.Equal(t, model.LeverBudget, c.PrimaryLever)
	assert.Equal(t, model.SupportStrong, c.DataSupport)

	assert.Equal(t, 1, got.Coverage.FilledDirections)
	assert.InDelta(t, 0.1, got.Coverage.CoverageRate, 0.001)
	assert.Empty(t, got.Raw)
}

func TestGenerateParseFailure(t *testing.T) {
	t.Parallel()

	raw := "Unable to analyze this dataset."
	gen := NewGenerator(testOrchestrator(raw), DefaultCatalog())

	got, err := gen.Generate(context.Background(), model.TableSchema{}, "", nil)
	require.NoError(t, err)

	assert.Empty(t, got.Candidates)
	assert.Equal(t, raw, got.Raw)
	assert.Zero(t, got.Coverage.FilledDirections)
}

func TestCollect(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(nil, DefaultCatalog())
	byDirection := map[string]json.RawMessage{
		"waste_elimination":     json.RawMessage(`{"insight": "Pause the 15 zero-order keywords", "data_support": "strong"}`),
		"outlier_scaling":       json.RawMessage(`{"insight": "Running shoes outperform 2x", "data_support": "strong"}`),
		"creative_optimization": json.RawMessage(`null`),
		"temporal_optimization": json.RawMessage(`{"insight": "Insufficient data"}`),
		"bidding_strategy":      json.RawMessage(`{"insight": "Bid gaps exist", "data_support": "none"}`),
		"funnel_optimization":   json.RawMessage(`"not an object"`),
		"zz_custom":             json.RawMessage(`{"insight": "Model invented a direction", "data_support": "weak"}`),
	}

	got := gen.collect(byDirection)
	require.Len(t, got, 3)

	// Catalog order first, unknown directions last.
	assert.Equal(t, "outlier_scaling", got[0].DirectionID)
	assert.Equal(t, "High-Performer Scaling Opportunity", got[0].DirectionName)
	assert.Equal(t, "waste_elimination", got[1].DirectionID)
	assert.Equal(t, "zz_custom", got[2].DirectionID)
	assert.Empty(t, got[2].DirectionName)
}
