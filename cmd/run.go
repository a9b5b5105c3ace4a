package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/ingest"
	"github.com/adronaut/strategy-cli/internal/model"
)

var (
	runProject   string
	runArtifacts []string
)

// runResult is the JSON document printed after a one-shot run settles.
type runResult struct {
	Run   *model.WorkflowRun `json:"run"`
	Patch *model.Patch       `json:"patch,omitempty"`
	Usage model.TokenUsage   `json:"usage"`
}

// writeRunResult pretty-prints the settled run document.
func writeRunResult(w io.Writer, result runResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the strategy pipeline for a project",
	Long:  "Uploads the given artifacts, runs ingestion through patch proposal, and suspends for review. Decide on the patch with 'strategy resume'.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		proj, err := env.Store.GetOrCreateProject(ctx, runProject)
		if err != nil {
			return eris.Wrap(err, "get or create project")
		}

		for _, path := range runArtifacts {
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				return eris.Wrapf(readErr, "read artifact %s", path)
			}
			filename := filepath.Base(path)
			mime := ingest.DetectMIME(filename)
			summary := ingest.Process(filename, mime, data)

			if _, createErr := env.Store.CreateArtifact(ctx, model.Artifact{
				ProjectID: proj.ID,
				Filename:  filename,
				MIME:      mime,
				Summary:   summary,
			}); createErr != nil {
				return eris.Wrapf(createErr, "save artifact %s", filename)
			}
		}

		run, err := env.Controller.Start(ctx, proj.ID)
		if err != nil {
			return eris.Wrap(err, "start run")
		}

		zap.L().Info("run started",
			zap.String("run_id", run.ID),
			zap.String("project_id", proj.ID),
			zap.Int("artifacts", len(runArtifacts)),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-env.Controller.Wait(run.ID):
		}

		final, err := env.Controller.Lookup(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "lookup run")
		}
		if final.Status == model.RunStatusFailed {
			return eris.Errorf("run %s failed: %s", final.ID, final.Error)
		}

		result := runResult{Run: final, Usage: env.Controller.Usage()}
		if final.PatchID != "" {
			patch, patchErr := env.Store.GetPatch(ctx, final.PatchID)
			if patchErr != nil {
				return eris.Wrap(patchErr, "load proposed patch")
			}
			result.Patch = patch
		}

		zap.L().Info("run suspended for patch review",
			zap.String("run_id", final.ID),
			zap.String("patch_id", final.PatchID),
			zap.Float64("cost_usd", result.Usage.Cost),
		)

		return writeRunResult(os.Stdout, result)
	},
}

func init() {
	runCmd.Flags().StringVar(&runProject, "project", "", "project name (required)")
	runCmd.Flags().StringArrayVar(&runArtifacts, "artifact", nil, "artifact file to upload, repeatable")
	_ = runCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(runCmd)
}
