package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/adronaut/strategy-cli/internal/db"
	"github.com/adronaut/strategy-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_step_event":   `INSERT INTO step_events (event_id, project_id, run_id, step_name, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_run":          `UPDATE workflow_runs SET status = $1, current_step = $2, patch_id = $3, error = $4, updated_at = $5 WHERE run_id = $6`,
	"get_run":             `SELECT run_id, project_id, status, current_step, patch_id, error, started_at, updated_at FROM workflow_runs WHERE run_id = $1`,
	"get_patch":           `SELECT patch_id, project_id, source, status, patch_json, justification, strategy_id, created_at, updated_at FROM strategy_patches WHERE patch_id = $1`,
	"update_patch_status": `UPDATE strategy_patches SET status = $1, updated_at = $2 WHERE patch_id = $3`,
	"latest_snapshot":     `SELECT snapshot_id, project_id, snapshot_json, created_at FROM analysis_snapshots WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	project_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id  TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(project_id),
	filename     TEXT NOT NULL,
	mime         TEXT NOT NULL,
	storage_url  TEXT,
	summary_json JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_snapshots (
	snapshot_id   TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(project_id),
	snapshot_json JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS strategy_patches (
	patch_id      TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(project_id),
	source        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'proposed',
	patch_json    JSONB NOT NULL,
	justification TEXT,
	strategy_id   TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS strategy_versions (
	strategy_id   TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(project_id),
	version       INTEGER NOT NULL,
	strategy_json JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, version)
);

CREATE TABLE IF NOT EXISTS strategy_active (
	project_id  TEXT PRIMARY KEY REFERENCES projects(project_id),
	strategy_id TEXT NOT NULL REFERENCES strategy_versions(strategy_id),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS briefs (
	brief_id    TEXT PRIMARY KEY,
	strategy_id TEXT NOT NULL REFERENCES strategy_versions(strategy_id),
	brief_json  JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaigns (
	campaign_id   TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(project_id),
	strategy_id   TEXT NOT NULL,
	brief_id      TEXT,
	name          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'launched',
	campaign_json JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaign_metrics (
	metric_id    TEXT PRIMARY KEY,
	campaign_id  TEXT NOT NULL REFERENCES campaigns(campaign_id),
	name         TEXT NOT NULL,
	value        DOUBLE PRECISION NOT NULL,
	collected_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflow_runs (
	run_id       TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(project_id),
	status       TEXT NOT NULL DEFAULT 'starting',
	current_step TEXT NOT NULL DEFAULT 'INGEST',
	patch_id     TEXT,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS step_events (
	event_id   TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	step_name  TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_artifacts_project ON artifacts(project_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_project ON analysis_snapshots(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_patches_project ON strategy_patches(project_id);
CREATE INDEX IF NOT EXISTS idx_patches_status ON strategy_patches(status);
CREATE INDEX IF NOT EXISTS idx_versions_project ON strategy_versions(project_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_project ON campaigns(project_id);
CREATE INDEX IF NOT EXISTS idx_metrics_campaign ON campaign_metrics(campaign_id);
CREATE INDEX IF NOT EXISTS idx_runs_project ON workflow_runs(project_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON workflow_runs(status);
CREATE INDEX IF NOT EXISTS idx_step_events_project ON step_events(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_step_events_run ON step_events(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetOrCreateProject(ctx context.Context, name string) (*model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (project_id, name, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING project_id, name, created_at`,
		uuid.New().String(), name, time.Now().UTC(),
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get or create project %s", name)
	}
	return &p, nil
}

func (s *PostgresStore) CreateArtifact(ctx context.Context, artifact model.Artifact) (*model.Artifact, error) {
	artifact.ID = uuid.New().String()
	artifact.CreatedAt = time.Now().UTC()

	summaryJSON, err := json.Marshal(artifact.Summary)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal artifact summary")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO artifacts (artifact_id, project_id, filename, mime, storage_url, summary_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		artifact.ID, artifact.ProjectID, artifact.Filename, artifact.MIME, nullable(artifact.StorageURL), summaryJSON, artifact.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert artifact")
	}
	return &artifact, nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, projectID string) ([]model.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT artifact_id, project_id, filename, mime, storage_url, summary_json, created_at
		 FROM artifacts WHERE project_id = $1 ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts")
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		var a model.Artifact
		var storageURL *string
		var summaryJSON []byte
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Filename, &a.MIME, &storageURL, &summaryJSON, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact")
		}
		if storageURL != nil {
			a.StorageURL = *storageURL
		}
		if err := json.Unmarshal(summaryJSON, &a.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal artifact summary")
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, eris.Wrap(rows.Err(), "postgres: list artifacts iterate")
}

func (s *PostgresStore) CreateSnapshot(ctx context.Context, projectID string, data map[string]any) (*model.Snapshot, error) {
	snap := model.Snapshot{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal snapshot")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_snapshots (snapshot_id, project_id, snapshot_json, created_at) VALUES ($1, $2, $3, $4)`,
		snap.ID, snap.ProjectID, dataJSON, snap.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert snapshot")
	}
	return &snap, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, projectID string) (*model.Snapshot, error) {
	var snap model.Snapshot
	var dataJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT snapshot_id, project_id, snapshot_json, created_at FROM analysis_snapshots WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`,
		projectID,
	).Scan(&snap.ID, &snap.ProjectID, &dataJSON, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get latest snapshot")
	}
	if err := json.Unmarshal(dataJSON, &snap.Data); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
	}
	return &snap, nil
}

func (s *PostgresStore) CreatePatch(ctx context.Context, projectID string, source model.PatchSource, patch model.StrategyPatch, justification, strategyID string) (*model.Patch, error) {
	p := model.Patch{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		Source:        source,
		Status:        model.PatchStatusProposed,
		Patch:         patch,
		Justification: justification,
		StrategyID:    strategyID,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal patch")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO strategy_patches (patch_id, project_id, source, status, patch_json, justification, strategy_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.ProjectID, string(p.Source), string(p.Status), patchJSON, p.Justification, nullable(p.StrategyID), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert patch")
	}
	return &p, nil
}

func (s *PostgresStore) UpdatePatchStatus(ctx context.Context, patchID string, status model.PatchStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategy_patches SET status = $1, updated_at = $2 WHERE patch_id = $3`,
		string(status), time.Now().UTC(), patchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update patch status %s", patchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("patch not found: %s", patchID)
	}
	return nil
}

func (s *PostgresStore) GetPatch(ctx context.Context, patchID string) (*model.Patch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT patch_id, project_id, source, status, patch_json, justification, strategy_id, created_at, updated_at FROM strategy_patches WHERE patch_id = $1`,
		patchID,
	)
	p, err := scanPgPatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("patch not found: %s", patchID)
		}
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListPatches(ctx context.Context, projectID string, status model.PatchStatus) ([]model.Patch, error) {
	query := `SELECT patch_id, project_id, source, status, patch_json, justification, strategy_id, created_at, updated_at
	          FROM strategy_patches WHERE project_id = $1`
	args := []any{projectID}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list patches")
	}
	defer rows.Close()

	var patches []model.Patch
	for rows.Next() {
		p, err := scanPgPatch(rows)
		if err != nil {
			return nil, err
		}
		patches = append(patches, *p)
	}
	return patches, eris.Wrap(rows.Err(), "postgres: list patches iterate")
}

func (s *PostgresStore) CreateStrategyVersion(ctx context.Context, projectID string, strategy map[string]any) (*model.StrategyVersion, error) {
	var current *int
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(version) FROM strategy_versions WHERE project_id = $1`, projectID,
	).Scan(&current)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current strategy version")
	}

	version := 1
	if current != nil {
		version = *current + 1
	}

	sv := model.StrategyVersion{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Version:   version,
		Strategy:  strategy,
		CreatedAt: time.Now().UTC(),
	}

	strategyJSON, err := json.Marshal(strategy)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal strategy")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO strategy_versions (strategy_id, project_id, version, strategy_json, created_at) VALUES ($1, $2, $3, $4, $5)`,
		sv.ID, sv.ProjectID, sv.Version, strategyJSON, sv.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert strategy version")
	}
	return &sv, nil
}

func (s *PostgresStore) SetActiveStrategy(ctx context.Context, projectID, strategyID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO strategy_active (project_id, strategy_id, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (project_id) DO UPDATE SET strategy_id = $2, updated_at = $3`,
		projectID, strategyID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set active strategy %s", strategyID)
}

func (s *PostgresStore) ActiveStrategy(ctx context.Context, projectID string) (*model.StrategyVersion, error) {
	var sv model.StrategyVersion
	var strategyJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT sv.strategy_id, sv.project_id, sv.version, sv.strategy_json, sv.created_at
		 FROM strategy_versions sv JOIN strategy_active sa ON sa.strategy_id = sv.strategy_id
		 WHERE sa.project_id = $1`,
		projectID,
	).Scan(&sv.ID, &sv.ProjectID, &sv.Version, &strategyJSON, &sv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get active strategy")
	}
	if err := json.Unmarshal(strategyJSON, &sv.Strategy); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal strategy")
	}
	sv.Active = true
	return &sv, nil
}

func (s *PostgresStore) CreateBrief(ctx context.Context, strategyID string, brief map[string]any) (*model.Brief, error) {
	b := model.Brief{
		ID:         uuid.New().String(),
		StrategyID: strategyID,
		Brief:      brief,
		CreatedAt:  time.Now().UTC(),
	}

	briefJSON, err := json.Marshal(brief)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal brief")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO briefs (brief_id, strategy_id, brief_json, created_at) VALUES ($1, $2, $3, $4)`,
		b.ID, b.StrategyID, briefJSON, b.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert brief")
	}
	return &b, nil
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, campaign model.Campaign) (*model.Campaign, error) {
	campaign.ID = uuid.New().String()
	campaign.CreatedAt = time.Now().UTC()
	if campaign.Status == "" {
		campaign.Status = model.CampaignStatusLaunched
	}

	dataJSON, err := json.Marshal(campaign.Data)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal campaign")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO campaigns (campaign_id, project_id, strategy_id, brief_id, name, status, campaign_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		campaign.ID, campaign.ProjectID, campaign.StrategyID, nullable(campaign.BriefID), campaign.Name, string(campaign.Status), dataJSON, campaign.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert campaign")
	}
	return &campaign, nil
}

func (s *PostgresStore) UpdateCampaignStatus(ctx context.Context, campaignID string, status model.CampaignStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET status = $1 WHERE campaign_id = $2`,
		string(status), campaignID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update campaign status %s", campaignID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("campaign not found: %s", campaignID)
	}
	return nil
}

func (s *PostgresStore) InsertMetrics(ctx context.Context, campaignID string, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		collectedAt := m.CollectedAt
		if collectedAt.IsZero() {
			collectedAt = now
		}
		rows = append(rows, []any{uuid.New().String(), campaignID, m.Name, m.Value, collectedAt})
	}

	_, err := db.CopyFrom(ctx, s.pool, "campaign_metrics",
		[]string{"metric_id", "campaign_id", "name", "value", "collected_at"}, rows)
	return eris.Wrap(err, "postgres: insert metrics")
}

func (s *PostgresStore) ListMetrics(ctx context.Context, campaignID string) ([]model.Metric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT metric_id, campaign_id, name, value, collected_at FROM campaign_metrics
		 WHERE campaign_id = $1 ORDER BY collected_at`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list metrics")
	}
	defer rows.Close()

	var metrics []model.Metric
	for rows.Next() {
		var m model.Metric
		if err := rows.Scan(&m.ID, &m.CampaignID, &m.Name, &m.Value, &m.CollectedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric")
		}
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "postgres: list metrics iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, projectID string) (*model.WorkflowRun, error) {
	now := time.Now().UTC()
	run := model.WorkflowRun{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Status:      model.RunStatusStarting,
		CurrentStep: model.StepIngest,
		StartedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_runs (run_id, project_id, status, current_step, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.ProjectID, string(run.Status), string(run.CurrentStep), run.StartedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run model.WorkflowRun) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_runs SET status = $1, current_step = $2, patch_id = $3, error = $4, updated_at = $5 WHERE run_id = $6`,
		string(run.Status), string(run.CurrentStep), nullable(run.PatchID), nullable(run.Error), time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_id, project_id, status, current_step, patch_id, error, started_at, updated_at FROM workflow_runs WHERE run_id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("run not found: %s", runID)
		}
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.WorkflowRun, error) {
	query := `SELECT run_id, project_id, status, current_step, patch_id, error, started_at, updated_at FROM workflow_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ProjectID != "" {
		query += fmt.Sprintf(` AND project_id = $%d`, argIdx)
		args = append(args, filter.ProjectID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.StartedAfter.IsZero() {
		query += fmt.Sprintf(` AND started_at > $%d`, argIdx)
		args = append(args, filter.StartedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.WorkflowRun
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) LogStepEvent(ctx context.Context, projectID, runID string, step model.WorkflowStep, status model.StepStatus) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO step_events (event_id, project_id, run_id, step_name, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), projectID, runID, string(step), string(status), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: log step event %s", step)
}

func (s *PostgresStore) ListStepEvents(ctx context.Context, projectID string, limit int) ([]model.StepEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, project_id, run_id, step_name, status, created_at FROM step_events
		 WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list step events")
	}
	defer rows.Close()

	var events []model.StepEvent
	for rows.Next() {
		var e model.StepEvent
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.RunID, &e.StepName, &e.Status, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step event")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list step events iterate")
}

func (s *PostgresStore) CountRunsByStatus(ctx context.Context, since time.Time) (map[model.RunStatus]int, error) {
	counts := map[model.RunStatus]int{}
	err := s.countByStatus(ctx,
		`SELECT status, COUNT(*) FROM workflow_runs WHERE started_at >= $1 GROUP BY status`, since,
		func(status string, n int) { counts[model.RunStatus(status)] = n })
	return counts, err
}

func (s *PostgresStore) CountStepEventsByStatus(ctx context.Context, since time.Time) (map[model.StepStatus]int, error) {
	counts := map[model.StepStatus]int{}
	err := s.countByStatus(ctx,
		`SELECT status, COUNT(*) FROM step_events WHERE created_at >= $1 GROUP BY status`, since,
		func(status string, n int) { counts[model.StepStatus(status)] = n })
	return counts, err
}

func (s *PostgresStore) CountPatchesByStatus(ctx context.Context, since time.Time) (map[model.PatchStatus]int, error) {
	counts := map[model.PatchStatus]int{}
	err := s.countByStatus(ctx,
		`SELECT status, COUNT(*) FROM strategy_patches WHERE created_at >= $1 GROUP BY status`, since,
		func(status string, n int) { counts[model.PatchStatus(status)] = n })
	return counts, err
}

func (s *PostgresStore) countByStatus(ctx context.Context, query string, since time.Time, add func(string, int)) error {
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return eris.Wrap(err, "postgres: scan status count")
		}
		add(status, n)
	}
	return eris.Wrap(rows.Err(), "postgres: count by status iterate")
}

func scanPgPatch(row pgx.Row) (*model.Patch, error) {
	var p model.Patch
	var patchJSON []byte
	var strategyID *string

	err := row.Scan(&p.ID, &p.ProjectID, &p.Source, &p.Status, &patchJSON, &p.Justification, &strategyID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan patch")
	}

	if err := json.Unmarshal(patchJSON, &p.Patch); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal patch")
	}
	if strategyID != nil {
		p.StrategyID = *strategyID
	}
	return &p, nil
}

func scanPgRun(row pgx.Row) (*model.WorkflowRun, error) {
	var r model.WorkflowRun
	var patchID, errMsg *string

	err := row.Scan(&r.ID, &r.ProjectID, &r.Status, &r.CurrentStep, &patchID, &errMsg, &r.StartedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if patchID != nil {
		r.PatchID = *patchID
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}
