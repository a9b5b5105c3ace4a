package insight

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/adronaut/strategy-cli/internal/model"
)

// Direction is one predefined strategic angle the generator evaluates. An
// insight is only produced for a direction when the data actually supports
// it; the catalog bounds the output and gives coverage a denominator.
type Direction struct {
	ID               string             `yaml:"id" json:"id"`
	Name             string             `yaml:"name" json:"name"`
	Description      string             `yaml:"description" json:"description"`
	PrimaryLever     model.PrimaryLever `yaml:"primary_lever" json:"primary_lever"`
	WhenApplicable   string             `yaml:"when_applicable" json:"when_applicable"`
	DataRequirements []string           `yaml:"data_requirements" json:"data_requirements"`
}

// Catalog holds the direction list in a fixed order plus an id index.
type Catalog struct {
	directions []Direction
	byID       map[string]Direction
}

func NewCatalog(directions []Direction) *Catalog {
	byID := make(map[string]Direction, len(directions))
	for _, d := range directions {
		byID[d.ID] = d
	}
	return &Catalog{directions: directions, byID: byID}
}

// DefaultCatalog returns the built-in ten directions.
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultDirections)
}

// LoadCatalog reads a direction list from a YAML file, falling back to the
// built-in set when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "insight: read catalog")
	}

	var directions []Direction
	if err := yaml.Unmarshal(data, &directions); err != nil {
		return nil, eris.Wrap(err, "insight: parse catalog")
	}
	if len(directions) == 0 {
		return nil, eris.New("insight: catalog is empty")
	}
	for _, d := range directions {
		if d.ID == "" || d.Name == "" {
			return nil, eris.New("insight: catalog direction missing id or name")
		}
		if !d.PrimaryLever.Valid() {
			return nil, eris.Errorf("insight: catalog direction %q has invalid lever %q", d.ID, d.PrimaryLever)
		}
	}

	zap.L().Info("loaded insight direction catalog",
		zap.String("path", path),
		zap.Int("directions", len(directions)))
	return NewCatalog(directions), nil
}

// Directions returns the catalog in its fixed order.
func (c *Catalog) Directions() []Direction {
	return c.directions
}

// Lookup returns the direction for an id.
func (c *Catalog) Lookup(id string) (Direction, bool) {
	d, ok := c.byID[id]
	return d, ok
}

func (c *Catalog) Len() int {
	return len(c.directions)
}

// PromptSection renders the catalog as the direction-evaluation block of the
// generation prompt.
func (c *Catalog) PromptSection() string {
	var sb strings.Builder

	sb.WriteString("**PREDEFINED INSIGHT DIRECTIONS:**\n\n")
	fmt.Fprintf(&sb, "Evaluate the following %d insight directions. For EACH direction:\n", len(c.directions))
	sb.WriteString("- Check if you have the required data to support it\n")
	sb.WriteString("- If YES and evidence is strong: Fill in the complete insight structure\n")
	sb.WriteString("- If NO or evidence is weak: Return null for that direction OR convert to test_and_learn experiment\n\n")

	for i, d := range c.directions {
		fmt.Fprintf(&sb, "%d. **%s** (ID: %s, Lever: %s)\n", i+1, d.Name, d.ID, d.PrimaryLever)
		fmt.Fprintf(&sb, "   - %s\n", d.Description)
		fmt.Fprintf(&sb, "   - When applicable: %s\n", d.WhenApplicable)
		fmt.Fprintf(&sb, "   - Required data: %s\n\n", strings.Join(d.DataRequirements, ", "))
	}

	sb.WriteString("**CRITICAL RULES:**\n")
	sb.WriteString("1. ONLY fill directions where you have actual supporting data\n")
	sb.WriteString("2. Use null for directions that don't apply to this dataset\n")
	sb.WriteString("3. Each filled direction must include ALL required insight fields\n")
	sb.WriteString("4. Prioritize directions with strongest data support\n")
	sb.WriteString("5. The same lever may appear in several directions when they target different segments\n")

	return sb.String()
}

// Coverage summarizes which directions produced a usable insight.
type Coverage struct {
	TotalDirections  int      `json:"total_directions"`
	FilledDirections int      `json:"filled_directions"`
	CoverageRate     float64  `json:"coverage_rate"`
	FilledIDs        []string `json:"filled_ids"`
	EmptyIDs         []string `json:"empty_ids"`
}

// Coverage computes the filled/empty split for a candidate list.
func (c *Catalog) Coverage(candidates []model.InsightCandidate) Coverage {
	filled := make(map[string]bool)
	for _, cand := range candidates {
		if cand.DirectionID != "" {
			filled[cand.DirectionID] = true
		}
	}

	cov := Coverage{
		TotalDirections:  len(c.directions),
		FilledDirections: len(filled),
		FilledIDs:        []string{},
		EmptyIDs:         []string{},
	}
	for _, d := range c.directions {
		if filled[d.ID] {
			cov.FilledIDs = append(cov.FilledIDs, d.ID)
		} else {
			cov.EmptyIDs = append(cov.EmptyIDs, d.ID)
		}
	}
	if cov.TotalDirections > 0 {
		cov.CoverageRate = float64(cov.FilledDirections) / float64(cov.TotalDirections)
	}
	return cov
}

var defaultDirections = []Direction{
	{
		ID:               "outlier_scaling",
		Name:             "High-Performer Scaling Opportunity",
		Description:      "Identify segments/campaigns with 2x+ better efficiency than average and increase budget allocation",
		PrimaryLever:     model.LeverBudget,
		WhenApplicable:   "When data shows clear performance outliers (2x+ difference)",
		DataRequirements: []string{"efficiency_metrics", "segment_performance", "baseline_average"},
	},
	{
		ID:               "waste_elimination",
		Name:             "Budget Waste Reduction",
		Description:      "Identify poor-performing segments with high spend and reduce or pause budget",
		PrimaryLever:     model.LeverBudget,
		WhenApplicable:   "When segments show poor efficiency + significant spend",
		DataRequirements: []string{"efficiency_metrics", "cost_metrics", "segment_performance"},
	},
	{
		ID:               "audience_refinement",
		Name:             "Audience Targeting Refinement",
		Description:      "Narrow or expand audience based on demographic/geographic performance patterns",
		PrimaryLever:     model.LeverAudience,
		WhenApplicable:   "When geographic/demographic data shows clear patterns",
		DataRequirements: []string{"geographic_insights", "demographic_data", "performance_by_segment"},
	},
	{
		ID:               "creative_optimization",
		Name:             "Creative/Messaging Optimization",
		Description:      "Adjust creative themes, messaging, or formats based on engagement patterns",
		PrimaryLever:     model.LeverCreative,
		WhenApplicable:   "When creative performance data is available",
		DataRequirements: []string{"creative_performance", "engagement_metrics", "message_themes"},
	},
	{
		ID:               "channel_rebalancing",
		Name:             "Channel Mix Rebalancing",
		Description:      "Shift budget between channels based on relative performance",
		PrimaryLever:     model.LeverBudget,
		WhenApplicable:   "When multi-channel data shows performance differences",
		DataRequirements: []string{"channel_performance", "cross_channel_metrics"},
	},
	{
		ID:               "temporal_optimization",
		Name:             "Timing & Schedule Optimization",
		Description:      "Adjust dayparting, days of week, or seasonal timing based on performance patterns",
		PrimaryLever:     model.LeverBidding,
		WhenApplicable:   "When temporal performance data is available",
		DataRequirements: []string{"temporal_patterns", "time_based_performance"},
	},
	{
		ID:               "bidding_strategy",
		Name:             "Bidding Strategy Adjustment",
		Description:      "Modify bid amounts or strategies based on cost efficiency",
		PrimaryLever:     model.LeverBidding,
		WhenApplicable:   "When cost/efficiency data suggests bid adjustments",
		DataRequirements: []string{"cost_metrics", "efficiency_metrics", "bidding_data"},
	},
	{
		ID:               "funnel_optimization",
		Name:             "Conversion Funnel Improvement",
		Description:      "Address funnel drop-offs or optimize conversion steps",
		PrimaryLever:     model.LeverFunnel,
		WhenApplicable:   "When funnel/conversion data is available",
		DataRequirements: []string{"conversion_metrics", "funnel_data", "drop_off_points"},
	},
	{
		ID:               "test_and_learn",
		Name:             "Structured Learning Experiment",
		Description:      "Design experiments to gather data in areas with insufficient evidence",
		PrimaryLever:     model.LeverAudience,
		WhenApplicable:   "When data is sparse/insufficient for confident decisions",
		DataRequirements: []string{"data_completeness_assessment"},
	},
	{
		ID:               "concentration_play",
		Name:             "Concentration Strategy",
		Description:      "Focus budget on top performers when the 80/20 rule applies (top 20% drive >60% of results)",
		PrimaryLever:     model.LeverBudget,
		WhenApplicable:   "When top performers show strong concentration",
		DataRequirements: []string{"segment_performance", "concentration_metrics"},
	},
}
