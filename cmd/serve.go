package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adronaut/strategy-cli/internal/ingest"
	"github.com/adronaut/strategy-cli/internal/model"
	"github.com/adronaut/strategy-cli/internal/monitoring"
	"github.com/adronaut/strategy-cli/internal/store"
	"github.com/adronaut/strategy-cli/internal/workflow"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the strategy pipeline HTTP API",
	Long:  "Serves artifact upload, run control, SSE event streaming, patch decisions, and health metrics. Runs the background alert checker alongside.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, env.Controller)
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		checker := monitoring.NewChecker(collector, alerter, cfg.Monitoring)

		poll := time.Duration(cfg.Workflow.PollIntervalSecs) * time.Second
		if poll <= 0 {
			poll = time.Second
		}
		router := newRouter(env.Store, env.Controller, collector, cfg.Monitoring.LookbackWindowHours, poll)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// server bundles the dependencies the HTTP handlers need.
type server struct {
	store         store.Store
	ctrl          *workflow.Controller
	collector     *monitoring.Collector
	lookbackHours int
	pollInterval  time.Duration
}

// newRouter builds the API router. Split from the serve command so handler
// behavior is testable without a listening server.
func newRouter(st store.Store, ctrl *workflow.Controller, collector *monitoring.Collector, lookbackHours int, pollInterval time.Duration) http.Handler {
	s := &server{
		store:         st,
		ctrl:          ctrl,
		collector:     collector,
		lookbackHours: lookbackHours,
		pollInterval:  pollInterval,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/projects/{name}/artifacts", s.uploadArtifact)
		r.Post("/projects/{name}/runs", s.startRun)
		r.Get("/projects/{name}/status", s.projectStatus)
		r.Get("/runs/{id}", s.getRun)
		r.Get("/runs/{id}/events", s.streamEvents)
		r.Post("/patches/{id}/decision", s.decidePatch)
		r.Get("/metrics", s.metrics)
	})

	return r
}

// requestLogger logs one line per request with zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// uploadArtifact accepts a multipart file, parses it, and stores the
// artifact with its summary.
func (s *server) uploadArtifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read upload")
		return
	}

	proj, err := s.store.GetOrCreateProject(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "resolve project")
		return
	}

	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = ingest.DetectMIME(header.Filename)
	}
	summary := ingest.Process(header.Filename, mime, data)

	artifact, err := s.store.CreateArtifact(r.Context(), model.Artifact{
		ProjectID: proj.ID,
		Filename:  header.Filename,
		MIME:      mime,
		Summary:   summary,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "save artifact")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"artifact_id": artifact.ID,
		"project_id":  proj.ID,
		"filename":    artifact.Filename,
	})
}

// startRun launches a pipeline run for the project in the background.
func (s *server) startRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	proj, err := s.store.GetOrCreateProject(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "resolve project")
		return
	}

	run, err := s.ctrl.Start(r.Context(), proj.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "start run")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":     run.ID,
		"project_id": proj.ID,
		"status":     run.Status,
	})
}

func (s *server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ctrl.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// streamEvents streams run status over SSE, polling until the run settles.
func (s *server) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		run, err := s.ctrl.Lookup(r.Context(), id)
		if err != nil {
			fmt.Fprintf(w, "data: %s\n\n", `{"error":"run not found"}`)
			flusher.Flush()
			return
		}

		payload, _ := json.Marshal(map[string]any{
			"run_id":       run.ID,
			"project_id":   run.ProjectID,
			"status":       run.Status,
			"current_step": run.CurrentStep,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()

		if run.Status.Settled() {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// projectStatus returns the persisted view of a project: latest snapshot,
// pending patches, active strategy, and recent step events.
func (s *server) projectStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	proj, err := s.store.GetOrCreateProject(ctx, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "resolve project")
		return
	}

	snapshot, err := s.store.LatestSnapshot(ctx, proj.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load snapshot")
		return
	}
	pending, err := s.store.ListPatches(ctx, proj.ID, model.PatchStatusProposed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load patches")
		return
	}
	strategy, err := s.store.ActiveStrategy(ctx, proj.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load strategy")
		return
	}
	events, err := s.store.ListStepEvents(ctx, proj.ID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load step events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":      proj.ID,
		"snapshot":        snapshot,
		"pending_patches": pending,
		"active_strategy": strategy,
		"step_events":     events,
	})
}

// decidePatch applies a reviewer decision. Approve and edit resume the
// workflow as a new background run.
func (s *server) decidePatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Action      string `json:"action"`
		EditRequest string `json:"edit_request"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	decision, err := s.ctrl.Decide(r.Context(), id, model.HITLAction(req.Action), req.EditRequest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

func (s *server) metrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context(), s.lookbackHours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "collect metrics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
