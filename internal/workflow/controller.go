package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adronaut/strategy-cli/internal/campaign"
	"github.com/adronaut/strategy-cli/internal/config"
	"github.com/adronaut/strategy-cli/internal/insight"
	"github.com/adronaut/strategy-cli/internal/llm"
	"github.com/adronaut/strategy-cli/internal/model"
	"github.com/adronaut/strategy-cli/internal/patch"
	"github.com/adronaut/strategy-cli/internal/schema"
	"github.com/adronaut/strategy-cli/internal/store"
)

// Parallel collection passes per campaign, one synthetic day each.
const collectPasses = 3

// Controller owns the run state machine. Each run executes in its own
// goroutine; the registry mirrors every transition and the store records a
// step event per transition.
type Controller struct {
	cfg      *config.Config
	store    store.Store
	orch     *llm.Orchestrator
	registry *Registry
	gen      *insight.Generator
	synth    *patch.Synthesizer
	gate     *patch.Gate
	compiler *campaign.Compiler
	analyzer *campaign.Analyzer
	topK     int
	dwell    time.Duration

	mu    sync.Mutex
	tasks map[string]*task
}

// task is the handle for one run's goroutine. The cancel function is wired
// for teardown but not exposed as an API.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Controller with all pipeline components.
func New(cfg *config.Config, st store.Store, orch *llm.Orchestrator, catalog *insight.Catalog) *Controller {
	topK := cfg.Insights.TopK
	if topK <= 0 {
		topK = 3
	}
	dwell := time.Duration(cfg.Workflow.CampaignDwellSecs) * time.Second

	return &Controller{
		cfg:      cfg,
		store:    st,
		orch:     orch,
		registry: NewRegistry(),
		gen:      insight.NewGenerator(orch, catalog),
		synth:    patch.NewSynthesizer(orch),
		gate:     patch.NewGate(orch),
		compiler: campaign.NewCompiler(orch),
		analyzer: campaign.NewAnalyzer(orch),
		topK:     topK,
		dwell:    dwell,
		tasks:    make(map[string]*task),
	}
}

// Start creates a run for the project and executes the pipeline in the
// background, from ingestion up to the patch-review suspension.
func (c *Controller) Start(ctx context.Context, projectID string) (*model.WorkflowRun, error) {
	run, err := c.store.CreateRun(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: create run")
	}
	c.registry.Set(*run)
	c.launch(*run, c.executeInitial)
	return run, nil
}

// Resume creates a run that continues an approved patch from the apply
// stage. It shares only project and patch id with the suspended run.
func (c *Controller) Resume(ctx context.Context, projectID, patchID string) (*model.WorkflowRun, error) {
	run, err := c.store.CreateRun(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: create resume run")
	}
	run.PatchID = patchID
	run.CurrentStep = model.StepApply
	run.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateRun(ctx, *run); err != nil {
		return nil, eris.Wrap(err, "workflow: stage resume run")
	}
	c.registry.Set(*run)
	c.launch(*run, c.executeResume)
	return run, nil
}

// launch runs fn in its own goroutine under a background context. The run
// must already be in the registry.
func (c *Controller) launch(run model.WorkflowRun, fn func(context.Context, model.WorkflowRun)) {
	runCtx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.tasks[run.ID] = t
	c.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			c.mu.Lock()
			delete(c.tasks, run.ID)
			c.mu.Unlock()
			close(t.done)
		}()
		fn(runCtx, run)
	}()
}

// Wait returns a channel closed when the run's goroutine exits. Runs not
// executing in this process get an already-closed channel.
func (c *Controller) Wait(runID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[runID]; ok {
		return t.done
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Lookup resolves a run from the registry, falling back to the store for
// runs started by another process.
func (c *Controller) Lookup(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	if run, ok := c.registry.Get(runID); ok {
		return &run, nil
	}
	return c.store.GetRun(ctx, runID)
}

// Usage reports the orchestrator's accumulated token usage and cost.
func (c *Controller) Usage() model.TokenUsage {
	return c.orch.Usage()
}

// executeInitial runs INGEST through PATCH_PROPOSED and suspends at
// HITL_PATCH. Any stage error marks the run failed and emits a
// WORKFLOW_ERROR event.
func (c *Controller) executeInitial(ctx context.Context, run model.WorkflowRun) {
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("project_id", run.ProjectID))
	log.Info("workflow: run starting")

	setStep, logEvent, trackStep := c.stepHelpers(ctx, &run, log)
	usageBefore := c.orch.Usage()

	logEvent(model.StepWorkflowStart, model.StepStatusStarted)

	var artifacts []model.Artifact
	err := trackStep(model.StepIngest, func() error {
		var ingestErr error
		artifacts, ingestErr = c.store.ListArtifacts(ctx, run.ProjectID)
		if ingestErr != nil {
			return eris.Wrap(ingestErr, "workflow: list artifacts")
		}
		return nil
	})
	if err != nil {
		c.fail(&run, err, setStep, logEvent, log)
		return
	}

	var features map[string]any
	err = trackStep(model.StepFeatures, func() error {
		if len(artifacts) == 0 {
			snap, snapErr := c.store.LatestSnapshot(ctx, run.ProjectID)
			if snapErr != nil {
				return eris.Wrap(snapErr, "workflow: latest snapshot")
			}
			if snap == nil {
				return eris.Errorf("workflow: project %s has no artifacts and no snapshot", run.ProjectID)
			}
			features = snap.Data
			return nil
		}

		extracted, exErr := ExtractFeatures(ctx, c.orch, artifacts)
		if exErr != nil {
			return exErr
		}
		features = extracted
		if _, snapErr := c.store.CreateSnapshot(ctx, run.ProjectID, features); snapErr != nil {
			return eris.Wrap(snapErr, "workflow: save snapshot")
		}
		return nil
	})
	if err != nil {
		c.fail(&run, err, setStep, logEvent, log)
		return
	}

	var gen *insight.Generation
	var selected []model.ScoredInsight
	err = trackStep(model.StepInsights, func() error {
		rows := rowsFromArtifacts(artifacts)
		tableSchema := schema.Detect(rows)
		dictionary := schema.BuildDictionary(tableSchema, rows)

		g, genErr := c.gen.Generate(ctx, tableSchema, dictionary, features)
		if genErr != nil {
			return genErr
		}
		gen = g
		selected = insight.SelectTop(g.Candidates, c.topK)

		combined := make(map[string]any, len(features)+1)
		for k, v := range features {
			combined[k] = v
		}
		combined["insights"] = selected
		if _, snapErr := c.store.CreateSnapshot(ctx, run.ProjectID, combined); snapErr != nil {
			return eris.Wrap(snapErr, "workflow: save insights snapshot")
		}
		return nil
	})
	if err != nil {
		c.fail(&run, err, setStep, logEvent, log)
		return
	}

	var created *model.Patch
	err = trackStep(model.StepPatchProposed, func() error {
		synthesis, synthErr := c.synth.Synthesize(ctx, selected, features)
		if synthErr != nil {
			return synthErr
		}

		p := synthesis.Patch
		patch.ValidateWithRepair(&p)
		if _, gateErr := c.gate.Review(ctx, &p); gateErr != nil {
			return gateErr
		}

		record, createErr := c.store.CreatePatch(ctx, run.ProjectID, model.PatchSourceInsights, p, buildJustification(gen, selected, synthesis.Justification), "")
		if createErr != nil {
			return eris.Wrap(createErr, "workflow: save patch")
		}
		created = record
		return nil
	})
	if err != nil {
		c.fail(&run, err, setStep, logEvent, log)
		return
	}

	run.PatchID = created.ID
	setStep(model.StepHITLPatch, model.RunStatusHITLRequired)

	usage := usageDelta(usageBefore, c.orch.Usage())
	log.Info("workflow: run suspended for patch review",
		zap.String("patch_id", created.ID),
		zap.String("sanity_review", string(created.Patch.SanityReview)),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Float64("cost_usd", usage.Cost),
	)
}

// executeResume runs APPLY through ANALYZE for an approved patch, ending at
// COMPLETED or suspending at HITL_REFLECTION.
func (c *Controller) executeResume(ctx context.Context, run model.WorkflowRun) {
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("project_id", run.ProjectID), zap.String("patch_id", run.PatchID))
	log.Info("workflow: resuming from approved patch")

	setStep, logEvent, trackStep := c.stepHelpers(ctx, &run, log)
	usageBefore := c.orch.Usage()

	var version *model.StrategyVersion
	err := trackStep(model.StepApply, func() error {
		approved, getErr := c.store.GetPatch(ctx, run.PatchID)
		if getErr != nil {
			return eris.Wrap(getErr, "workflow: load approved patch")
		}

		sv, createErr := c.store.CreateStrategyVersion(ctx, run.ProjectID, applyStrategy(approved))
		if createErr != nil {
			return eris.Wrap(createErr, "workflow: create strategy version")
		}
		if activeErr := c.store.SetActiveStrategy(ctx, run.ProjectID, sv.ID); activeErr != nil {
			return eris.Wrap(activeErr, "workflow: set active strategy")
		}
		version = sv
		return nil
	})
	if err != nil {
		c.fail(&run, err, setStep, logEvent, log)
		return
	}

	var brief *model.Brief
	err = trackStep(model.StepBrief, func() error {
		compiled, compileErr := c.compiler.Compile(ctx, version.Strategy)
		if compileErr != nil {
			return compileErr
		}
		b, createErr := c.store.CreateBrief(ctx, version.ID, compiled)
		if createErr != nil {
			return eris.Wrap(createErr, "workflow: save brief")
		}
		brief = b
		return nil
	})
	if err != nil {
		c.fail(&run, err, setStep, logEvent, log)
		return
	}

	var launched *model.Campaign
	err = trackStep(model.StepCampaignRun, func() error {
		record, createErr := c.store.CreateCampaign(ctx, campaign.Launch(run.ProjectID, version.ID, brief.ID, brief.Brief))
		if createErr != nil {
			return eris.Wrap(createErr, "workflow: create campaign")
		}
		launched = record

		select {
		case <-time.After(c.dwell):
			return nil
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "workflow: campaign dwell interrupted")
		}
	})
	if err != nil {
		c.fail(&run, err, setStep, logEvent, log)
		return
	}

	err = trackStep(model.StepCollect, func() error {
		if statusErr := c.store.UpdateCampaignStatus(ctx, launched.ID, model.CampaignStatusRunning); statusErr != nil {
			return eris.Wrap(statusErr, "workflow: mark campaign running")
		}

		collectedAt := time.Now().UTC()
		g, gCtx := errgroup.WithContext(ctx)
		for pass := 0; pass < collectPasses; pass++ {
			g.Go(func() error {
				batch := campaign.SimulateMetrics(launched.ID, pass, collectedAt)
				return c.store.InsertMetrics(gCtx, launched.ID, batch)
			})
		}
		if collectErr := g.Wait(); collectErr != nil {
			return eris.Wrap(collectErr, "workflow: collect metrics")
		}
		return nil
	})
	if err != nil {
		c.fail(&run, err, setStep, logEvent, log)
		return
	}

	var analysis *model.PerformanceAnalysis
	err = trackStep(model.StepAnalyze, func() error {
		metrics, listErr := c.store.ListMetrics(ctx, launched.ID)
		if listErr != nil {
			return eris.Wrap(listErr, "workflow: list metrics")
		}
		analysis = campaign.Analyze(launched.ID, metrics)

		if statusErr := c.store.UpdateCampaignStatus(ctx, launched.ID, model.CampaignStatusCompleted); statusErr != nil {
			return eris.Wrap(statusErr, "workflow: mark campaign completed")
		}

		if !analysis.NeedsAdjustment {
			return nil
		}

		reflection, reflectErr := c.analyzer.Reflect(ctx, analysis)
		if reflectErr != nil {
			return reflectErr
		}
		record, createErr := c.store.CreatePatch(ctx, run.ProjectID, model.PatchSourceReflection, reflection.Patch, reflection.Justification, version.ID)
		if createErr != nil {
			return eris.Wrap(createErr, "workflow: save reflection patch")
		}
		run.PatchID = record.ID
		return nil
	})
	if err != nil {
		c.fail(&run, err, setStep, logEvent, log)
		return
	}

	if analysis.NeedsAdjustment {
		setStep(model.StepHITLReflection, model.RunStatusHITLRequired)
	} else {
		setStep(model.StepCompleted, model.RunStatusCompleted)
	}
	logEvent(model.StepWorkflowComplete, model.StepStatusCompleted)

	usage := usageDelta(usageBefore, c.orch.Usage())
	log.Info("workflow: run finished",
		zap.String("status", string(run.Status)),
		zap.String("campaign_id", launched.ID),
		zap.Float64("score", analysis.OverallScore),
		zap.Bool("needs_adjustment", analysis.NeedsAdjustment),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Float64("cost_usd", usage.Cost),
	)
}

// stepHelpers builds the closures every executor shares: setStep mutates the
// registry record and the store row, logEvent emits a step event, and
// trackStep wraps one stage with transition bookkeeping and duration
// logging.
func (c *Controller) stepHelpers(ctx context.Context, run *model.WorkflowRun, log *zap.Logger) (
	func(model.WorkflowStep, model.RunStatus),
	func(model.WorkflowStep, model.StepStatus),
	func(model.WorkflowStep, func() error) error,
) {
	setStep := func(step model.WorkflowStep, status model.RunStatus) {
		run.CurrentStep = step
		run.Status = status
		run.UpdatedAt = time.Now().UTC()
		c.registry.Set(*run)
		if err := c.store.UpdateRun(ctx, *run); err != nil {
			log.Warn("workflow: failed to update run", zap.Error(err))
		}
	}

	logEvent := func(step model.WorkflowStep, status model.StepStatus) {
		if err := c.store.LogStepEvent(ctx, run.ProjectID, run.ID, step, status); err != nil {
			log.Warn("workflow: failed to log step event",
				zap.String("step", string(step)), zap.Error(err))
		}
	}

	trackStep := func(step model.WorkflowStep, fn func() error) error {
		setStep(step, model.RunStatusRunning)
		logEvent(step, model.StepStatusStarted)

		start := time.Now()
		err := fn()
		duration := time.Since(start).Milliseconds()

		if err != nil {
			logEvent(step, model.StepStatusFailed)
			log.Error("workflow: step failed",
				zap.String("step", string(step)),
				zap.Int64("duration_ms", duration),
				zap.Error(err),
			)
			return err
		}

		logEvent(step, model.StepStatusCompleted)
		log.Info("workflow: step complete",
			zap.String("step", string(step)),
			zap.Int64("duration_ms", duration),
		)
		return nil
	}

	return setStep, logEvent, trackStep
}

// fail moves the run to the absorbing failed state. The current step stays
// at the stage that broke.
func (c *Controller) fail(
	run *model.WorkflowRun,
	err error,
	setStep func(model.WorkflowStep, model.RunStatus),
	logEvent func(model.WorkflowStep, model.StepStatus),
	log *zap.Logger,
) {
	run.Error = err.Error()
	setStep(run.CurrentStep, model.RunStatusFailed)
	logEvent(model.StepWorkflowError, model.StepStatusFailed)
	log.Error("workflow: run failed", zap.Error(err))
}

// usageDelta isolates one run's token usage from the orchestrator's process
// totals.
func usageDelta(before, after model.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:  after.InputTokens - before.InputTokens,
		OutputTokens: after.OutputTokens - before.OutputTokens,
		Calls:        after.Calls - before.Calls,
		Cost:         after.Cost - before.Cost,
	}
}
