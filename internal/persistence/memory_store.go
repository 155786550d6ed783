package persistence

import (
	"sync"

	"github.com/petrijr/gridci/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of
// WorkflowStore and RunStore backed by maps.
type InMemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]api.Workflow
	runs      map[string]*api.Run
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows: make(map[string]api.Workflow),
		runs:      make(map[string]*api.Run),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ WorkflowStore = (*InMemoryStore)(nil)

var _ RunStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveWorkflow(def api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[def.Name] = def
	return nil
}

func (s *InMemoryStore) GetWorkflow(name string) (api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.workflows[name]
	if !ok {
		return api.Workflow{}, ErrWorkflowNotFound
	}

	return def, nil
}

func (s *InMemoryStore) ListWorkflows() ([]api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]api.Workflow, 0, len(s.workflows))
	for _, def := range s.workflows {
		defs = append(defs, def)
	}
	return defs, nil
}

func (s *InMemoryStore) SaveRun(run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return ErrRunExists
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *InMemoryStore) UpdateRun(run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *InMemoryStore) GetRun(id string) (*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (s *InMemoryStore) ListRuns(filter RunFilter) ([]*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*api.Run
	for _, run := range s.runs {
		if filter.WorkflowName != "" && run.WorkflowName != filter.WorkflowName {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		runs = append(runs, cloneRun(run))
	}
	return runs, nil
}

// cloneRun copies a run and its jobs so that callers and the store never
// share mutable state.
func cloneRun(run *api.Run) *api.Run {
	out := *run
	out.Jobs = make([]*api.Job, len(run.Jobs))
	for i, j := range run.Jobs {
		jc := *j
		jc.Steps = append([]api.StepResult(nil), j.Steps...)
		entry := make(api.Entry, len(j.Entry))
		for k, v := range j.Entry {
			entry[k] = v
		}
		jc.Entry = entry
		out.Jobs[i] = &jc
	}
	return &out
}
