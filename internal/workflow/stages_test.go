package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adronaut/strategy-cli/internal/llm"
	"github.com/adronaut/strategy-cli/internal/model"
)

func TestExtractFeatures(t *testing.T) {
	t.Parallel()

	orch := llm.NewOrchestrator(&queueProvider{texts: []string{featuresResponse}}, nil, 0, nil)
	artifacts := []model.Artifact{{
		Filename: "campaigns.csv",
		Summary: map[string]any{
			"file_type": "csv",
			"rows":      []any{map[string]any{"campaign": "Running Shoes"}},
		},
	}}

	features, err := ExtractFeatures(context.Background(), orch, artifacts)
	require.NoError(t, err)
	assert.Equal(t, "performance first", features["brand_positioning"])
}

func TestExtractFeaturesFallsBackOnUnparseableOutput(t *testing.T) {
	t.Parallel()

	orch := llm.NewOrchestrator(&queueProvider{texts: []string{"these artifacts describe a shoe brand"}}, nil, 0, nil)

	features, err := ExtractFeatures(context.Background(), orch, []model.Artifact{{Filename: "notes.txt"}})
	require.NoError(t, err)
	assert.Equal(t, "analysis unavailable", features["brand_positioning"])
	assert.Equal(t, "these artifacts describe a shoe brand", features["raw_analysis"])
}

func TestPromptSummaryDropsRows(t *testing.T) {
	t.Parallel()

	trimmed := promptSummary(map[string]any{
		"file_type": "csv",
		"row_count": 2,
		"rows":      []any{map[string]any{"a": 1}},
	})

	assert.NotContains(t, trimmed, "rows")
	assert.Equal(t, "csv", trimmed["file_type"])
	assert.Equal(t, 2, trimmed["row_count"])
}

func TestRowsFromArtifacts(t *testing.T) {
	t.Parallel()

	artifacts := []model.Artifact{
		// Native rows from the in-process upload path.
		{Summary: map[string]any{"rows": []model.Row{{"campaign": "A"}}}},
		// Generic JSON rows after a store round trip.
		{Summary: map[string]any{"rows": []any{map[string]any{"campaign": "B"}, "not-a-row"}}},
		// No rows at all.
		{Summary: map[string]any{"file_type": "pdf"}},
	}

	rows := rowsFromArtifacts(artifacts)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0]["campaign"])
	assert.Equal(t, "B", rows[1]["campaign"])
}

func TestApplyStrategy(t *testing.T) {
	t.Parallel()

	approved := &model.Patch{
		ID:     "patch-1",
		Source: model.PatchSourceInsights,
		Patch: model.StrategyPatch{
			PatchMode:        model.PatchModeOptimization,
			ChannelStrategy:  map[string]any{"search": "primary"},
			SuccessMetrics:   map[string]any{"roas": "above 6.0"},
			BudgetAllocation: &model.BudgetAllocation{TotalBudget: "$12,000/month"},
		},
	}

	doc := applyStrategy(approved)
	assert.Equal(t, "patch-1", doc["patch_id"])
	assert.Equal(t, model.PatchSourceInsights, doc["source"])

	strategy, ok := doc["strategy"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, approved.Patch.ChannelStrategy, strategy["channels"])
	assert.Equal(t, approved.Patch.BudgetAllocation, strategy["budget"])
}
