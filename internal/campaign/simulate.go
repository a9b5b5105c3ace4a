package campaign

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/adronaut/strategy-cli/internal/model"
)

// Per-pass value ranges for the synthetic collector. Rates are percentages.
const (
	impressionsBase  = 20000
	impressionsSpan  = 100000
	ctrBasePct       = 1.5
	ctrSpanPct       = 4.5
	cvrBasePct       = 1.0
	cvrSpanPct       = 5.0
	spendBase        = 500
	spendSpan        = 4500
	simulatedDaySpan = 24 * time.Hour
)

// Launch builds the campaign record for a compiled brief. The campaign is
// simulated: no external ad platform is involved, and the record carries the
// brief's channel and budget sections so the analyzer can compare against
// them later.
func Launch(projectID, strategyID, briefID string, brief map[string]any) model.Campaign {
	return model.Campaign{
		ProjectID:  projectID,
		StrategyID: strategyID,
		BriefID:    briefID,
		Name:       fmt.Sprintf("Campaign %s", time.Now().UTC().Format("20060102_1504")),
		Status:     model.CampaignStatusLaunched,
		Data: map[string]any{
			"channels":          brief["channel_tactics"],
			"budget":            brief["budget_allocation"],
			"metrics":           brief["success_metrics"],
			"expected_duration": "30 days",
			"simulation":        true,
		},
	}
}

// SimulateMetrics generates one collection pass of synthetic performance
// metrics. The generator is seeded from the campaign id and pass number, so
// repeated collection for the same campaign reproduces the same values.
func SimulateMetrics(campaignID string, pass int, at time.Time) []model.Metric {
	rng := rand.New(rand.NewSource(metricSeed(campaignID, pass)))

	impressions := math.Round(impressionsBase + rng.Float64()*impressionsSpan)
	ctr := round2(ctrBasePct + rng.Float64()*ctrSpanPct)
	clicks := math.Round(impressions * ctr / 100)
	cvr := round2(cvrBasePct + rng.Float64()*cvrSpanPct)
	conversions := math.Round(clicks * cvr / 100)
	spend := round2(spendBase + rng.Float64()*spendSpan)

	collectedAt := at.Add(time.Duration(pass) * simulatedDaySpan)

	values := []struct {
		name  string
		value float64
	}{
		{"impressions", impressions},
		{"clicks", clicks},
		{"conversions", conversions},
		{"spend", spend},
		{"ctr", ctr},
		{"cvr", cvr},
	}

	metrics := make([]model.Metric, 0, len(values))
	for _, v := range values {
		metrics = append(metrics, model.Metric{
			CampaignID:  campaignID,
			Name:        v.name,
			Value:       v.value,
			CollectedAt: collectedAt,
		})
	}
	return metrics
}

// metricSeed folds the campaign id and pass number into a deterministic
// seed.
func metricSeed(campaignID string, pass int) int64 {
	h := fnv.New64a()
	h.Write([]byte(campaignID))
	return int64(h.Sum64()) + int64(pass)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
