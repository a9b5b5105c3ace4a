package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/model"
)

// Decision is the outcome of one reviewer action on a pending patch. Run is
// set when the workflow resumed; PatchID names the patch that was finally
// approved or rejected, which differs from the input after an edit.
type Decision struct {
	Action  model.HITLAction   `json:"action"`
	PatchID string             `json:"patch_id"`
	Run     *model.WorkflowRun `json:"run,omitempty"`
}

// Decide applies a reviewer action to a pending patch. Approve resumes the
// workflow as a new run from the apply stage. Edit rewrites the patch via
// the model, supersedes the original, and auto-approves the replacement.
// Reject settles the patch with no further action; the suspended run stays
// suspended.
func (c *Controller) Decide(ctx context.Context, patchID string, action model.HITLAction, editRequest string) (*Decision, error) {
	switch action {
	case model.HITLApprove, model.HITLReject, model.HITLEdit:
	default:
		return nil, eris.Errorf("workflow: unknown decision action %q", action)
	}

	pending, err := c.store.GetPatch(ctx, patchID)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: load patch")
	}
	if pending.Status != model.PatchStatusProposed {
		return nil, eris.Errorf("workflow: patch %s already %s", patchID, pending.Status)
	}

	requested := action

	if action == model.HITLEdit {
		if strings.TrimSpace(editRequest) == "" {
			return nil, eris.New("workflow: edit requires an edit request")
		}

		edited, editErr := c.synth.Edit(ctx, pending.Patch, editRequest)
		if editErr != nil {
			return nil, editErr
		}
		if err := c.store.UpdatePatchStatus(ctx, pending.ID, model.PatchStatusSuperseded); err != nil {
			return nil, eris.Wrap(err, "workflow: supersede patch")
		}

		justification := fmt.Sprintf("Edited on reviewer request: %s\n\n%s", editRequest, edited.Summary)
		replacement, createErr := c.store.CreatePatch(ctx, pending.ProjectID, model.PatchSourceEditedLLM, edited.Patch, justification, pending.StrategyID)
		if createErr != nil {
			return nil, eris.Wrap(createErr, "workflow: save edited patch")
		}

		zap.L().Info("patch edited",
			zap.String("patch_id", pending.ID),
			zap.String("replacement_id", replacement.ID))

		pending = replacement
		action = model.HITLApprove
	}

	if action == model.HITLReject {
		if err := c.store.UpdatePatchStatus(ctx, pending.ID, model.PatchStatusRejected); err != nil {
			return nil, eris.Wrap(err, "workflow: reject patch")
		}
		zap.L().Info("patch rejected", zap.String("patch_id", pending.ID))
		return &Decision{Action: requested, PatchID: pending.ID}, nil
	}

	if err := c.store.UpdatePatchStatus(ctx, pending.ID, model.PatchStatusApproved); err != nil {
		return nil, eris.Wrap(err, "workflow: approve patch")
	}

	run, resumeErr := c.Resume(ctx, pending.ProjectID, pending.ID)
	if resumeErr != nil {
		return nil, resumeErr
	}

	zap.L().Info("patch approved, workflow resuming",
		zap.String("patch_id", pending.ID),
		zap.String("run_id", run.ID))

	return &Decision{Action: requested, PatchID: pending.ID, Run: run}, nil
}
