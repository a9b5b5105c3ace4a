package store

import (
	"context"
	"time"

	"github.com/adronaut/strategy-cli/internal/model"
)

// RunFilter specifies criteria for listing workflow runs.
type RunFilter struct {
	ProjectID    string          `json:"project_id,omitempty"`
	Status       model.RunStatus `json:"status,omitempty"`
	StartedAfter time.Time       `json:"started_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the strategy pipeline. Lookups
// of optional singletons (latest snapshot, active strategy) return nil, nil
// when nothing exists yet.
type Store interface {
	// Projects
	GetOrCreateProject(ctx context.Context, name string) (*model.Project, error)

	// Artifacts
	CreateArtifact(ctx context.Context, artifact model.Artifact) (*model.Artifact, error)
	ListArtifacts(ctx context.Context, projectID string) ([]model.Artifact, error)

	// Snapshots
	CreateSnapshot(ctx context.Context, projectID string, data map[string]any) (*model.Snapshot, error)
	LatestSnapshot(ctx context.Context, projectID string) (*model.Snapshot, error)

	// Patches
	CreatePatch(ctx context.Context, projectID string, source model.PatchSource, patch model.StrategyPatch, justification, strategyID string) (*model.Patch, error)
	UpdatePatchStatus(ctx context.Context, patchID string, status model.PatchStatus) error
	GetPatch(ctx context.Context, patchID string) (*model.Patch, error)
	ListPatches(ctx context.Context, projectID string, status model.PatchStatus) ([]model.Patch, error)

	// Strategy versions
	CreateStrategyVersion(ctx context.Context, projectID string, strategy map[string]any) (*model.StrategyVersion, error)
	SetActiveStrategy(ctx context.Context, projectID, strategyID string) error
	ActiveStrategy(ctx context.Context, projectID string) (*model.StrategyVersion, error)

	// Briefs
	CreateBrief(ctx context.Context, strategyID string, brief map[string]any) (*model.Brief, error)

	// Campaigns
	CreateCampaign(ctx context.Context, campaign model.Campaign) (*model.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, campaignID string, status model.CampaignStatus) error
	InsertMetrics(ctx context.Context, campaignID string, metrics []model.Metric) error
	ListMetrics(ctx context.Context, campaignID string) ([]model.Metric, error)

	// Workflow runs
	CreateRun(ctx context.Context, projectID string) (*model.WorkflowRun, error)
	UpdateRun(ctx context.Context, run model.WorkflowRun) error
	GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.WorkflowRun, error)

	// Step events
	LogStepEvent(ctx context.Context, projectID, runID string, step model.WorkflowStep, status model.StepStatus) error
	ListStepEvents(ctx context.Context, projectID string, limit int) ([]model.StepEvent, error)

	// Monitoring aggregates
	CountRunsByStatus(ctx context.Context, since time.Time) (map[model.RunStatus]int, error)
	CountStepEventsByStatus(ctx context.Context, since time.Time) (map[model.StepStatus]int, error)
	CountPatchesByStatus(ctx context.Context, since time.Time) (map[model.PatchStatus]int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
