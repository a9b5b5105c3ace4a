package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/adronaut/strategy-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	project_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id  TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(project_id),
	filename     TEXT NOT NULL,
	mime         TEXT NOT NULL,
	storage_url  TEXT,
	summary_json TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analysis_snapshots (
	snapshot_id   TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(project_id),
	snapshot_json TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS strategy_patches (
	patch_id      TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(project_id),
	source        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'proposed',
	patch_json    TEXT NOT NULL,
	justification TEXT,
	strategy_id   TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS strategy_versions (
	strategy_id   TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(project_id),
	version       INTEGER NOT NULL,
	strategy_json TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (project_id, version)
);

CREATE TABLE IF NOT EXISTS strategy_active (
	project_id  TEXT PRIMARY KEY REFERENCES projects(project_id),
	strategy_id TEXT NOT NULL REFERENCES strategy_versions(strategy_id),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS briefs (
	brief_id    TEXT PRIMARY KEY,
	strategy_id TEXT NOT NULL REFERENCES strategy_versions(strategy_id),
	brief_json  TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS campaigns (
	campaign_id   TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(project_id),
	strategy_id   TEXT NOT NULL,
	brief_id      TEXT,
	name          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'launched',
	campaign_json TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS campaign_metrics (
	metric_id    TEXT PRIMARY KEY,
	campaign_id  TEXT NOT NULL REFERENCES campaigns(campaign_id),
	name         TEXT NOT NULL,
	value        REAL NOT NULL,
	collected_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS workflow_runs (
	run_id       TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(project_id),
	status       TEXT NOT NULL DEFAULT 'starting',
	current_step TEXT NOT NULL DEFAULT 'INGEST',
	patch_id     TEXT,
	error        TEXT,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS step_events (
	event_id   TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	step_name  TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetOrCreateProject(ctx context.Context, name string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id, name, created_at FROM projects WHERE name = ?`, name)

	var p model.Project
	err := row.Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == nil {
		return &p, nil
	}
	if err != sql.ErrNoRows {
		return nil, eris.Wrapf(err, "sqlite: get project %s", name)
	}

	p = model.Project{ID: uuid.New().String(), Name: name, CreatedAt: time.Now().UTC()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (project_id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert project %s", name)
	}
	return &p, nil
}

func (s *SQLiteStore) CreateArtifact(ctx context.Context, artifact model.Artifact) (*model.Artifact, error) {
	artifact.ID = uuid.New().String()
	artifact.CreatedAt = time.Now().UTC()

	summaryJSON, err := json.Marshal(artifact.Summary)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal artifact summary")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (artifact_id, project_id, filename, mime, storage_url, summary_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID, artifact.ProjectID, artifact.Filename, artifact.MIME, artifact.StorageURL, string(summaryJSON), artifact.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert artifact")
	}
	return &artifact, nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, projectID string) ([]model.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT artifact_id, project_id, filename, mime, storage_url, summary_json, created_at
		 FROM artifacts WHERE project_id = ? ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifacts")
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		var a model.Artifact
		var storageURL sql.NullString
		var summaryJSON string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Filename, &a.MIME, &storageURL, &summaryJSON, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact")
		}
		a.StorageURL = storageURL.String
		if err := json.Unmarshal([]byte(summaryJSON), &a.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal artifact summary")
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, eris.Wrap(rows.Err(), "sqlite: list artifacts iterate")
}

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, projectID string, data map[string]any) (*model.Snapshot, error) {
	snap := model.Snapshot{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal snapshot")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_snapshots (snapshot_id, project_id, snapshot_json, created_at) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.ProjectID, string(dataJSON), snap.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert snapshot")
	}
	return &snap, nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, projectID string) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id, project_id, snapshot_json, created_at FROM analysis_snapshots
		 WHERE project_id = ? ORDER BY created_at DESC LIMIT 1`,
		projectID,
	)

	var snap model.Snapshot
	var dataJSON string
	err := row.Scan(&snap.ID, &snap.ProjectID, &dataJSON, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get latest snapshot")
	}
	if err := json.Unmarshal([]byte(dataJSON), &snap.Data); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal snapshot")
	}
	return &snap, nil
}

func (s *SQLiteStore) CreatePatch(ctx context.Context, projectID string, source model.PatchSource, patch model.StrategyPatch, justification, strategyID string) (*model.Patch, error) {
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
		return nil, eris.Wrap(err, "sqlite: marshal patch")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO strategy_patches (patch_id, project_id, source, status, patch_json, justification, strategy_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProjectID, string(p.Source), string(p.Status), string(patchJSON), p.Justification, nullable(p.StrategyID), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert patch")
	}
	return &p, nil
}

func (s *SQLiteStore) UpdatePatchStatus(ctx context.Context, patchID string, status model.PatchStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE strategy_patches SET status = ?, updated_at = ? WHERE patch_id = ?`,
		string(status), time.Now().UTC(), patchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update patch status %s", patchID)
	}
	return checkRowsAffected(res, "patch", patchID)
}

func (s *SQLiteStore) GetPatch(ctx context.Context, patchID string) (*model.Patch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT patch_id, project_id, source, status, patch_json, justification, strategy_id, created_at, updated_at
		 FROM strategy_patches WHERE patch_id = ?`,
		patchID,
	)
	p, err := scanPatch(row)
	if err == errNotFound {
		return nil, eris.Errorf("patch not found: %s", patchID)
	}
	return p, err
}

func (s *SQLiteStore) ListPatches(ctx context.Context, projectID string, status model.PatchStatus) ([]model.Patch, error) {
	query := `SELECT patch_id, project_id, source, status, patch_json, justification, strategy_id, created_at, updated_at
	          FROM strategy_patches WHERE project_id = ?`
	args := []any{projectID}

	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list patches")
	}
	defer rows.Close()

	var patches []model.Patch
	for rows.Next() {
		p, err := scanPatch(rows)
		if err != nil {
			return nil, err
		}
		patches = append(patches, *p)
	}
	return patches, eris.Wrap(rows.Err(), "sqlite: list patches iterate")
}

func (s *SQLiteStore) CreateStrategyVersion(ctx context.Context, projectID string, strategy map[string]any) (*model.StrategyVersion, error) {
	var current sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM strategy_versions WHERE project_id = ?`, projectID,
	).Scan(&current)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: current strategy version")
	}

	sv := model.StrategyVersion{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Version:   int(current.Int64) + 1,
		Strategy:  strategy,
		CreatedAt: time.Now().UTC(),
	}

	strategyJSON, err := json.Marshal(strategy)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal strategy")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO strategy_versions (strategy_id, project_id, version, strategy_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		sv.ID, sv.ProjectID, sv.Version, string(strategyJSON), sv.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert strategy version")
	}
	return &sv, nil
}

func (s *SQLiteStore) SetActiveStrategy(ctx context.Context, projectID, strategyID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO strategy_active (project_id, strategy_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (project_id) DO UPDATE SET strategy_id = excluded.strategy_id, updated_at = excluded.updated_at`,
		projectID, strategyID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set active strategy %s", strategyID)
}

func (s *SQLiteStore) ActiveStrategy(ctx context.Context, projectID string) (*model.StrategyVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sv.strategy_id, sv.project_id, sv.version, sv.strategy_json, sv.created_at
		 FROM strategy_versions sv JOIN strategy_active sa ON sa.strategy_id = sv.strategy_id
		 WHERE sa.project_id = ?`,
		projectID,
	)

	var sv model.StrategyVersion
	var strategyJSON string
	err := row.Scan(&sv.ID, &sv.ProjectID, &sv.Version, &strategyJSON, &sv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get active strategy")
	}
	if err := json.Unmarshal([]byte(strategyJSON), &sv.Strategy); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal strategy")
	}
	sv.Active = true
	return &sv, nil
}

func (s *SQLiteStore) CreateBrief(ctx context.Context, strategyID string, brief map[string]any) (*model.Brief, error) {
	b := model.Brief{
		ID:         uuid.New().String(),
		StrategyID: strategyID,
		Brief:      brief,
		CreatedAt:  time.Now().UTC(),
	}

	briefJSON, err := json.Marshal(brief)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal brief")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO briefs (brief_id, strategy_id, brief_json, created_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.StrategyID, string(briefJSON), b.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert brief")
	}
	return &b, nil
}

func (s *SQLiteStore) CreateCampaign(ctx context.Context, campaign model.Campaign) (*model.Campaign, error) {
	campaign.ID = uuid.New().String()
	campaign.CreatedAt = time.Now().UTC()
	if campaign.Status == "" {
		campaign.Status = model.CampaignStatusLaunched
	}

	dataJSON, err := json.Marshal(campaign.Data)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal campaign")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (campaign_id, project_id, strategy_id, brief_id, name, status, campaign_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		campaign.ID, campaign.ProjectID, campaign.StrategyID, nullable(campaign.BriefID), campaign.Name, string(campaign.Status), string(dataJSON), campaign.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert campaign")
	}
	return &campaign, nil
}

func (s *SQLiteStore) UpdateCampaignStatus(ctx context.Context, campaignID string, status model.CampaignStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ? WHERE campaign_id = ?`,
		string(status), campaignID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update campaign status %s", campaignID)
	}
	return checkRowsAffected(res, "campaign", campaignID)
}

func (s *SQLiteStore) InsertMetrics(ctx context.Context, campaignID string, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin metrics tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO campaign_metrics (metric_id, campaign_id, name, value, collected_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare metrics insert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, m := range metrics {
		collectedAt := m.CollectedAt
		if collectedAt.IsZero() {
			collectedAt = now
		}
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), campaignID, m.Name, m.Value, collectedAt); err != nil {
			return eris.Wrapf(err, "sqlite: insert metric %s", m.Name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit metrics")
}

func (s *SQLiteStore) ListMetrics(ctx context.Context, campaignID string) ([]model.Metric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_id, campaign_id, name, value, collected_at FROM campaign_metrics
		 WHERE campaign_id = ? ORDER BY collected_at`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list metrics")
	}
	defer rows.Close()

	var metrics []model.Metric
	for rows.Next() {
		var m model.Metric
		if err := rows.Scan(&m.ID, &m.CampaignID, &m.Name, &m.Value, &m.CollectedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric")
		}
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "sqlite: list metrics iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, projectID string) (*model.WorkflowRun, error) {
	now := time.Now().UTC()
	run := model.WorkflowRun{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Status:      model.RunStatusStarting,
		CurrentStep: model.StepIngest,
		StartedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (run_id, project_id, status, current_step, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProjectID, string(run.Status), string(run.CurrentStep), run.StartedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run model.WorkflowRun) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, current_step = ?, patch_id = ?, error = ?, updated_at = ? WHERE run_id = ?`,
		string(run.Status), string(run.CurrentStep), nullable(run.PatchID), nullable(run.Error), time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, project_id, status, current_step, patch_id, error, started_at, updated_at
		 FROM workflow_runs WHERE run_id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if err == errNotFound {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.WorkflowRun, error) {
	query := `SELECT run_id, project_id, status, current_step, patch_id, error, started_at, updated_at
	          FROM workflow_runs WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.StartedAfter.IsZero() {
		query += ` AND started_at > ?`
		args = append(args, filter.StartedAfter.UTC())
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.WorkflowRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) LogStepEvent(ctx context.Context, projectID, runID string, step model.WorkflowStep, status model.StepStatus) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_events (event_id, project_id, run_id, step_name, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), projectID, runID, string(step), string(status), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: log step event %s", step)
}

func (s *SQLiteStore) ListStepEvents(ctx context.Context, projectID string, limit int) ([]model.StepEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, project_id, run_id, step_name, status, created_at FROM step_events
		 WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`,
		projectID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list step events")
	}
	defer rows.Close()

	var events []model.StepEvent
	for rows.Next() {
		var e model.StepEvent
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.RunID, &e.StepName, &e.Status, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step event")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list step events iterate")
}

func (s *SQLiteStore) CountRunsByStatus(ctx context.Context, since time.Time) (map[model.RunStatus]int, error) {
	counts := map[model.RunStatus]int{}
	err := s.countByStatus(ctx,
		`SELECT status, COUNT(*) FROM workflow_runs WHERE started_at >= ? GROUP BY status`, since,
		func(status string, n int) { counts[model.RunStatus(status)] = n })
	return counts, err
}

func (s *SQLiteStore) CountStepEventsByStatus(ctx context.Context, since time.Time) (map[model.StepStatus]int, error) {
	counts := map[model.StepStatus]int{}
	err := s.countByStatus(ctx,
		`SELECT status, COUNT(*) FROM step_events WHERE created_at >= ? GROUP BY status`, since,
		func(status string, n int) { counts[model.StepStatus(status)] = n })
	return counts, err
}

func (s *SQLiteStore) CountPatchesByStatus(ctx context.Context, since time.Time) (map[model.PatchStatus]int, error) {
	counts := map[model.PatchStatus]int{}
	err := s.countByStatus(ctx,
		`SELECT status, COUNT(*) FROM strategy_patches WHERE created_at >= ? GROUP BY status`, since,
		func(status string, n int) { counts[model.PatchStatus(status)] = n })
	return counts, err
}

func (s *SQLiteStore) countByStatus(ctx context.Context, query string, since time.Time, add func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return eris.Wrap(err, "sqlite: scan status count")
		}
		add(status, n)
	}
	return eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

// helpers

var errNotFound = eris.New("not found")

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// nullable maps empty strings to NULL so optional TEXT columns stay null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPatch(row scannable) (*model.Patch, error) {
	var p model.Patch
	var patchJSON string
	var strategyID sql.NullString

	err := row.Scan(&p.ID, &p.ProjectID, &p.Source, &p.Status, &patchJSON, &p.Justification, &strategyID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan patch")
	}

	if err := json.Unmarshal([]byte(patchJSON), &p.Patch); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal patch")
	}
	p.StrategyID = strategyID.String
	return &p, nil
}

func scanRun(row scannable) (*model.WorkflowRun, error) {
	var r model.WorkflowRun
	var patchID, errMsg sql.NullString

	err := row.Scan(&r.ID, &r.ProjectID, &r.Status, &r.CurrentStep, &patchID, &errMsg, &r.StartedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.PatchID = patchID.String
	r.Error = errMsg.String
	return &r, nil
}
