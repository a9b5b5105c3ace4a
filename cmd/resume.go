package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/model"
)

var (
	resumePatchID     string
	resumeAction      string
	resumeEditRequest string
)

// resumeResult is the JSON document printed after a decision settles.
type resumeResult struct {
	Action  model.HITLAction   `json:"action"`
	PatchID string             `json:"patch_id"`
	Run     *model.WorkflowRun `json:"run,omitempty"`
	Usage   model.TokenUsage   `json:"usage"`
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Decide on a pending strategy patch",
	Long:  "Approves, rejects, or edits a proposed patch. Approve and edit resume the workflow through campaign simulation; reject settles the patch with no further action.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		decision, err := env.Controller.Decide(ctx, resumePatchID, model.HITLAction(resumeAction), resumeEditRequest)
		if err != nil {
			return eris.Wrap(err, "decide patch")
		}

		result := resumeResult{Action: decision.Action, PatchID: decision.PatchID}

		if decision.Run != nil {
			zap.L().Info("workflow resumed",
				zap.String("run_id", decision.Run.ID),
				zap.String("patch_id", decision.PatchID),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-env.Controller.Wait(decision.Run.ID):
			}

			final, lookErr := env.Controller.Lookup(ctx, decision.Run.ID)
			if lookErr != nil {
				return eris.Wrap(lookErr, "lookup resumed run")
			}
			if final.Status == model.RunStatusFailed {
				return eris.Errorf("resumed run %s failed: %s", final.ID, final.Error)
			}
			result.Run = final
		}

		result.Usage = env.Controller.Usage()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumePatchID, "patch", "", "patch id to decide on (required)")
	resumeCmd.Flags().StringVar(&resumeAction, "action", "", "approve, reject, or edit (required)")
	resumeCmd.Flags().StringVar(&resumeEditRequest, "edit-request", "", "natural-language change request, required with --action edit")
	_ = resumeCmd.MarkFlagRequired("patch")
	_ = resumeCmd.MarkFlagRequired("action")
	rootCmd.AddCommand(resumeCmd)
}
