package model

// PrimaryLever is the single strategic dimension a recommendation targets.
type PrimaryLever string

const (
	LeverAudience PrimaryLever = "audience"
	LeverCreative PrimaryLever = "creative"
	LeverBudget   PrimaryLever = "budget"
	LeverBidding  PrimaryLever = "bidding"
	LeverFunnel   PrimaryLever = "funnel"
)

// Valid reports whether the lever is one of the five allowed values.
func (l PrimaryLever) Valid() bool {
	switch l {
	case LeverAudience, LeverCreative, LeverBudget, LeverBidding, LeverFunnel:
		return true
	}
	return false
}

// DataSupport grades how directly observed evidence backs an insight.
type DataSupport string

const (
	SupportStrong   DataSupport = "strong"
	SupportModerate DataSupport = "moderate"
	SupportWeak     DataSupport = "weak"
)

// Valid reports whether the support tier is one of the three allowed values.
func (s DataSupport) Valid() bool {
	switch s {
	case SupportStrong, SupportModerate, SupportWeak:
		return true
	}
	return false
}

// EffectDirection says which way a metric is expected to move.
type EffectDirection string

const (
	DirectionIncrease EffectDirection = "increase"
	DirectionDecrease EffectDirection = "decrease"
)

// ExpectedEffect quantifies what an insight predicts will change.
type ExpectedEffect struct {
	Direction EffectDirection `json:"direction"`
	Metric    string          `json:"metric"`
	Magnitude string          `json:"magnitude"`
	Range     string          `json:"range,omitempty"`
}

// InsightCandidate is one strategic hypothesis produced by the generator.
// Invariant: weak support pairs with confidence <= 0.4 and a proposed action
// containing a learning keyword; the validator flags violations.
type InsightCandidate struct {
	DirectionID       string          `json:"direction_id,omitempty"`
	DirectionName     string          `json:"direction_name,omitempty"`
	Insight           string          `json:"insight"`
	Hypothesis        string          `json:"hypothesis"`
	ProposedAction    string          `json:"proposed_action"`
	PrimaryLever      PrimaryLever    `json:"primary_lever"`
	ExpectedEffect    *ExpectedEffect `json:"expected_effect"`
	Confidence        float64         `json:"confidence"`
	DataSupport       DataSupport     `json:"data_support"`
	EvidenceRefs      []string        `json:"evidence_refs"`
	ContrastiveReason string          `json:"contrastive_reason"`
}

// ScoredInsight is a candidate with its deterministic score and dense
// 1-based rank. Never mutated after selection.
type ScoredInsight struct {
	InsightCandidate
	ImpactScore int `json:"impact_score"`
	ImpactRank  int `json:"impact_rank"`
}
