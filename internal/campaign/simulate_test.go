package campaign

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adronaut/strategy-cli/internal/model"
)

func TestLaunch(t *testing.T) {
	t.Parallel()

	brief := map[string]any{
		"channel_tactics":   []any{"search: exact-match keywords"},
		"budget_allocation": map[string]any{"search": "55%"},
		"success_metrics":   []any{"ROAS above 6.0"},
	}

	c := Launch("proj-1", "strat-1", "brief-1", brief)

	assert.Equal(t, "proj-1", c.ProjectID)
	assert.Equal(t, "strat-1", c.StrategyID)
	assert.Equal(t, "brief-1", c.BriefID)
	assert.Equal(t, model.CampaignStatusLaunched, c.Status)
	assert.True(t, strings.HasPrefix(c.Name, "Campaign "))

	assert.Equal(t, brief["channel_tactics"], c.Data["channels"])
	assert.Equal(t, brief["budget_allocation"], c.Data["budget"])
	assert.Equal(t, brief["success_metrics"], c.Data["metrics"])
	assert.Equal(t, "30 days", c.Data["expected_duration"])
	assert.Equal(t, true, c.Data["simulation"])
}

func TestSimulateMetricsShape(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	metrics := SimulateMetrics("cmp-1", 0, at)

	require.Len(t, metrics, 6)
	names := make([]string, 0, len(metrics))
	byName := make(map[string]model.Metric, len(metrics))
	for _, m := range metrics {
		assert.Equal(t, "cmp-1", m.CampaignID)
		assert.Equal(t, at, m.CollectedAt)
		names = append(names, m.Name)
		byName[m.Name] = m
	}
	assert.Equal(t, []string{"impressions", "clicks", "conversions", "spend", "ctr", "cvr"}, names)

	impressions := byName["impressions"].Value
	ctr := byName["ctr"].Value
	cvr := byName["cvr"].Value

	assert.GreaterOrEqual(t, impressions, 20000.0)
	assert.LessOrEqual(t, impressions, 120000.0)
	assert.GreaterOrEqual(t, ctr, 1.5)
	assert.LessOrEqual(t, ctr, 6.0)
	assert.GreaterOrEqual(t, cvr, 1.0)
	assert.LessOrEqual(t, cvr, 6.0)
	assert.GreaterOrEqual(t, byName["spend"].Value, 500.0)
	assert.LessOrEqual(t, byName["spend"].Value, 5000.0)

	// Counts derive from the drawn rates.
	assert.Equal(t, math.Round(impressions*ctr/100), byName["clicks"].Value)
	assert.Equal(t, math.Round(byName["clicks"].Value*cvr/100), byName["conversions"].Value)
}

func TestSimulateMetricsDeterministic(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := SimulateMetrics("cmp-1", 1, at)
	second := SimulateMetrics("cmp-1", 1, at)
	assert.Equal(t, first, second)

	otherPass := SimulateMetrics("cmp-1", 2, at)
	assert.NotEqual(t, first[0].Value, otherPass[0].Value)

	otherCampaign := SimulateMetrics("cmp-2", 1, at)
	assert.NotEqual(t, first[0].Value, otherCampaign[0].Value)
}

func TestSimulateMetricsPassShiftsCollectionTime(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	metrics := SimulateMetrics("cmp-1", 2, at)

	for _, m := range metrics {
		assert.Equal(t, at.Add(48*time.Hour), m.CollectedAt)
	}
}
