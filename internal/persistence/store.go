package persistence

import (
	"errors"

	"github.com/petrijr/gridci/pkg/api"
)

var (
	// ErrWorkflowNotFound is returned when a workflow definition is not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRunNotFound is returned when a run is not found.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned by SaveRun when a run with the same ID is
	// already stored.
	ErrRunExists = errors.New("run already exists")
)

// WorkflowStore handles storage of workflow definitions.
//
// Definitions contain step functions and therefore live in-memory; durable
// backends persist runs only and expect workflows to be re-registered on
// startup.
type WorkflowStore interface {
	SaveWorkflow(def api.Workflow) error
	GetWorkflow(name string) (api.Workflow, error)
	ListWorkflows() ([]api.Workflow, error)
}

// RunFilter is used to select runs from the store.
// Empty string / zero status mean "no filter" for that field.
type RunFilter struct {
	WorkflowName string
	Status       api.Status
}

// RunStore handles storage of runs and their jobs.
//
// SaveRun inserts a new run and returns ErrRunExists when the ID is already
// taken; UpdateRun replaces an existing run and returns ErrRunNotFound when
// it is not. Run IDs are allocated by the engine, which seeds its counter
// from the store, so a SaveRun collision indicates a caller bug.
type RunStore interface {
	SaveRun(run *api.Run) error
	UpdateRun(run *api.Run) error
	GetRun(id string) (*api.Run, error)
	ListRuns(filter RunFilter) ([]*api.Run, error)
}

// Persistence bundles the stores an engine needs.
type Persistence struct {
	Workflows WorkflowStore
	Runs      RunStore
}
