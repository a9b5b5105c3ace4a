// Package workflow runs the strategy pipeline state machine: ingestion
// through insight generation to patch proposal, a human review pause, then
// apply, brief, simulated campaign, metric collection, and analysis.
package workflow

import (
	"sync"

	"github.com/adronaut/strategy-cli/internal/model"
)

// Registry is the in-memory index of runs this process has executed. The
// store stays the durable record; the registry answers status polls without
// a database round trip. One goroutine writes a given run id at a time.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]model.WorkflowRun
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{
		runs: make(map[string]model.WorkflowRun),
	}
}

// Get returns a copy of the run record, if present.
func (r *Registry) Get(runID string) (model.WorkflowRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	return run, ok
}

// Set stores the run record keyed by its id.
func (r *Registry) Set(run model.WorkflowRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
}

// Delete removes the run record.
func (r *Registry) Delete(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}
