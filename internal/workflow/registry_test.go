package workflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adronaut/strategy-cli/internal/model"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	_, ok := r.Get("missing")
	assert.False(t, ok)

	run := model.WorkflowRun{
		ID:          "run-1",
		ProjectID:   "proj-1",
		Status:      model.RunStatusRunning,
		CurrentStep: model.StepFeatures,
		StartedAt:   time.Now().UTC(),
	}
	r.Set(run)

	got, ok := r.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, run, got)

	// Later writes replace the record wholesale.
	run.Status = model.RunStatusHITLRequired
	run.CurrentStep = model.StepHITLPatch
	r.Set(run)

	got, ok = r.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, model.RunStatusHITLRequired, got.Status)
	assert.Equal(t, model.StepHITLPatch, got.CurrentStep)

	r.Delete("run-1")
	_, ok = r.Get("run-1")
	assert.False(t, ok)

	// Deleting an absent key is a no-op.
	r.Delete("run-1")
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Set(model.WorkflowRun{ID: "shared", Status: model.RunStatusRunning})
				r.Get("shared")
			}
		}()
	}
	wg.Wait()

	_, ok := r.Get("shared")
	assert.True(t, ok)
}
