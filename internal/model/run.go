package model

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusStarting     RunStatus = "starting"
	RunStatusRunning      RunStatus = "running"
	RunStatusHITLRequired RunStatus = "hitl_required"
	RunStatusCompleted    RunStatus = "completed"
	RunStatusFailed       RunStatus = "failed"
)

// Terminal reports whether the run has finished for good.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Settled reports whether the run has stopped advancing, either because it
// finished or because it is suspended on a human decision.
func (s RunStatus) Settled() bool {
	return s.Terminal() || s == RunStatusHITLRequired
}

// WorkflowStep names a stage in the run state machine.
type WorkflowStep string

const (
	StepIngest         WorkflowStep = "INGEST"
	StepFeatures       WorkflowStep = "FEATURES"
	StepInsights       WorkflowStep = "INSIGHTS"
	StepPatchProposed  WorkflowStep = "PATCH_PROPOSED"
	StepHITLPatch      WorkflowStep = "HITL_PATCH"
	StepApply          WorkflowStep = "APPLY"
	StepBrief          WorkflowStep = "BRIEF"
	StepCampaignRun    WorkflowStep = "CAMPAIGN_RUN"
	StepCollect        WorkflowStep = "COLLECT"
	StepAnalyze        WorkflowStep = "ANALYZE"
	StepHITLReflection WorkflowStep = "HITL_REFLECTION"
	StepCompleted      WorkflowStep = "COMPLETED"
)

// Marker steps recorded as events only, never set as a run's current step.
const (
	StepWorkflowStart    WorkflowStep = "WORKFLOW_START"
	StepWorkflowComplete WorkflowStep = "WORKFLOW_COMPLETE"
	StepWorkflowError    WorkflowStep = "WORKFLOW_ERROR"
)

// StepStatus is the outcome recorded on a step event.
type StepStatus string

const (
	StepStatusStarted   StepStatus = "started"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// WorkflowRun is the record of one pipeline execution. A HITL decision that
// resumes work creates a new run rather than mutating the suspended one; the
// two are related only by project and patch id.
type WorkflowRun struct {
	ID          string       `json:"run_id"`
	ProjectID   string       `json:"project_id"`
	Status      RunStatus    `json:"status"`
	CurrentStep WorkflowStep `json:"current_step"`
	PatchID     string       `json:"patch_id,omitempty"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// StepEvent records one step transition for audit and streaming.
type StepEvent struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"project_id"`
	RunID     string       `json:"run_id"`
	StepName  WorkflowStep `json:"step_name"`
	Status    StepStatus   `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// TokenUsage accumulates generative-model token counts and spend.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Calls        int     `json:"calls"`
	Cost         float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.Calls += other.Calls
	t.Cost += other.Cost
}
