package model

import "time"

// Project groups artifacts, strategies, and runs for one advertiser.
type Project struct {
	ID        string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Artifact is one uploaded marketing file with its parsed summary.
type Artifact struct {
	ID         string         `json:"artifact_id"`
	ProjectID  string         `json:"project_id"`
	Filename   string         `json:"filename"`
	MIME       string         `json:"mime"`
	StorageURL string         `json:"storage_url,omitempty"`
	Summary    map[string]any `json:"summary_json"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Snapshot stores the feature set extracted from a project's artifacts.
type Snapshot struct {
	ID        string         `json:"snapshot_id"`
	ProjectID string         `json:"project_id"`
	Data      map[string]any `json:"snapshot_json"`
	CreatedAt time.Time      `json:"created_at"`
}

// StrategyVersion is one applied revision of a project's strategy. At most
// one version per project is active.
type StrategyVersion struct {
	ID        string         `json:"strategy_id"`
	ProjectID string         `json:"project_id"`
	Version   int            `json:"version"`
	Strategy  map[string]any `json:"strategy_json"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
}

// Brief is the compiled, actionable form of an active strategy.
type Brief struct {
	ID         string         `json:"brief_id"`
	StrategyID string         `json:"strategy_id"`
	Brief      map[string]any `json:"brief_json"`
	CreatedAt  time.Time      `json:"created_at"`
}

// CampaignStatus tracks a campaign from launch to completion.
type CampaignStatus string

const (
	CampaignStatusLaunched  CampaignStatus = "launched"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Campaign is a launched (simulated) campaign for a strategy version.
type Campaign struct {
	ID         string         `json:"campaign_id"`
	ProjectID  string         `json:"project_id"`
	StrategyID string         `json:"strategy_id"`
	BriefID    string         `json:"brief_id,omitempty"`
	Name       string         `json:"name"`
	Status     CampaignStatus `json:"status"`
	Data       map[string]any `json:"campaign_json"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Metric is one collected campaign measurement.
type Metric struct {
	ID          string    `json:"metric_id"`
	CampaignID  string    `json:"campaign_id"`
	Name        string    `json:"name"`
	Value       float64   `json:"value"`
	CollectedAt time.Time `json:"collected_at"`
}

// PerformanceAnalysis summarizes collected metrics and signals whether the
// active strategy needs a reflection patch.
type PerformanceAnalysis struct {
	CampaignID      string         `json:"campaign_id"`
	OverallScore    float64        `json:"overall_score"`
	Summary         map[string]any `json:"performance_summary"`
	NeedsAdjustment bool           `json:"needs_adjustment"`
	Recommendations []string       `json:"recommendations"`
}
