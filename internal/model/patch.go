package model

import "time"

// PatchStatus tracks a strategy patch through human review.
type PatchStatus string

const (
	PatchStatusProposed   PatchStatus = "proposed"
	PatchStatusApproved   PatchStatus = "approved"
	PatchStatusRejected   PatchStatus = "rejected"
	PatchStatusSuperseded PatchStatus = "superseded"
)

// PatchSource records which stage produced a patch.
type PatchSource string

const (
	PatchSourceInsights   PatchSource = "insights"
	PatchSourceReflection PatchSource = "reflection"
	PatchSourceEditedLLM  PatchSource = "edited_llm"
)

// PatchMode selects between direct reallocation and a bounded test.
type PatchMode string

const (
	PatchModeOptimization PatchMode = "optimization"
	PatchModeExperimental PatchMode = "experimental"
)

// HITLAction is the decision a reviewer can take on a pending patch.
type HITLAction string

const (
	HITLApprove HITLAction = "approve"
	HITLReject  HITLAction = "reject"
	HITLEdit    HITLAction = "edit"
)

// SanityVerdict is the overall outcome of the reflection review.
type SanityVerdict string

const (
	SanitySafe              SanityVerdict = "safe"
	SanityReviewRecommended SanityVerdict = "review_recommended"
	SanityHighRisk          SanityVerdict = "high_risk"
)

// Valid reports whether the verdict is one of the three allowed values.
func (v SanityVerdict) Valid() bool {
	switch v {
	case SanitySafe, SanityReviewRecommended, SanityHighRisk:
		return true
	}
	return false
}

// RiskLevel grades a single flagged action.
type RiskLevel string

const (
	RiskHigh    RiskLevel = "high"
	RiskMedium  RiskLevel = "medium"
	RiskLow     RiskLevel = "low"
	RiskUnknown RiskLevel = "unknown"
)

// TargetingCriteria narrows one audience segment.
type TargetingCriteria struct {
	Location  string   `json:"location,omitempty"`
	Age       string   `json:"age,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// AudienceSegment is one target group within a patch.
type AudienceSegment struct {
	Name              string            `json:"name,omitempty"`
	Priority          string            `json:"priority,omitempty"`
	TargetingCriteria TargetingCriteria `json:"targeting_criteria"`
}

// AudienceTargeting describes who a patch targets.
type AudienceTargeting struct {
	Segments          []AudienceSegment `json:"segments,omitempty"`
	ExpansionStrategy string            `json:"expansion_strategy,omitempty"`
}

// MessagingStrategy describes what a patch says and how.
type MessagingStrategy struct {
	KeyThemes   []string `json:"key_themes,omitempty"`
	ToneOfVoice string   `json:"tone_of_voice,omitempty"`
}

// BudgetAllocation describes how spend moves. ChannelBreakdown values are
// percentage-delta strings like "+15%" or plain numbers; unparsable entries
// are skipped during validation, not rejected.
type BudgetAllocation struct {
	ChannelBreakdown map[string]any `json:"channel_breakdown,omitempty"`
	TotalBudget      string         `json:"total_budget,omitempty"`
	Rationale        string         `json:"rationale,omitempty"`
}

// ExperimentPlan bounds an experimental-mode patch.
type ExperimentPlan struct {
	BudgetCap        string `json:"budget_cap,omitempty"`
	DurationDays     int    `json:"duration_days,omitempty"`
	DecisionCriteria string `json:"decision_criteria,omitempty"`
}

// ApprovedAction is one action area the reflection pass cleared.
type ApprovedAction struct {
	ActionID  string `json:"action_id"`
	Reasoning string `json:"reasoning"`
}

// SanityFlag is one risk finding from the reflection pass.
type SanityFlag struct {
	ActionID       string    `json:"action_id"`
	Reason         string    `json:"reason"`
	Risk           RiskLevel `json:"risk"`
	Recommendation string    `json:"recommendation"`
}

// SanityReview is the full parsed output of the reflection pass.
type SanityReview struct {
	ApprovedActions   []ApprovedAction `json:"approved_actions"`
	Flagged           []SanityFlag     `json:"flagged"`
	OverallAssessment SanityVerdict    `json:"overall_assessment"`
}

// PatchAnnotations accumulates validator and gate findings on a patch.
type PatchAnnotations struct {
	HeuristicFlags     []string         `json:"heuristic_flags,omitempty"`
	SanityFlags        []SanityFlag     `json:"sanity_flags,omitempty"`
	ApprovedActions    []ApprovedAction `json:"approved_actions,omitempty"`
	AutoDownscoped     bool             `json:"auto_downscoped,omitempty"`
	RequiresHITLReview bool             `json:"requires_hitl_review,omitempty"`
}

// StrategyPatch is the reviewable unit of strategic change. The heuristic
// validator repairs it in place and the sanity gate annotates it before it is
// frozen for human review.
type StrategyPatch struct {
	PatchMode            PatchMode          `json:"patch_mode,omitempty"`
	AudienceTargeting    *AudienceTargeting `json:"audience_targeting,omitempty"`
	MessagingStrategy    *MessagingStrategy `json:"messaging_strategy,omitempty"`
	ChannelStrategy      map[string]any     `json:"channel_strategy,omitempty"`
	BudgetAllocation     *BudgetAllocation  `json:"budget_allocation,omitempty"`
	SuccessMetrics       map[string]any     `json:"success_metrics,omitempty"`
	Experiment           *ExperimentPlan    `json:"experiment,omitempty"`
	Annotations          *PatchAnnotations  `json:"annotations,omitempty"`
	SanityReview         SanityVerdict      `json:"sanity_review,omitempty"`
	InsufficientEvidence bool               `json:"insufficient_evidence,omitempty"`
}

// EnsureAnnotations returns the patch's annotations, allocating them on
// first use.
func (p *StrategyPatch) EnsureAnnotations() *PatchAnnotations {
	if p.Annotations == nil {
		p.Annotations = &PatchAnnotations{}
	}
	return p.Annotations
}

// Patch is the persisted envelope around a StrategyPatch awaiting review.
type Patch struct {
	ID            string        `json:"patch_id"`
	ProjectID     string        `json:"project_id"`
	Source        PatchSource   `json:"source"`
	Status        PatchStatus   `json:"status"`
	Patch         StrategyPatch `json:"patch_json"`
	Justification string        `json:"justification"`
	StrategyID    string        `json:"strategy_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
