package gridci

import (
	"fmt"

	"github.com/petrijr/gridci/pkg/api"
)

// WorkflowBuilder provides a fluent API for defining matrix workflows:
//
//	wf := gridci.New("install").
//	    OnPush().OnPullRequest().
//	    MatrixAxis("os", "ubuntu-latest", "macos-latest").
//	    MatrixAxis("python", "3.11", "3.10", "3.9").
//	    Run("provision", "setup-python ${{ matrix.python }}").
//	    Run("install", "pip install -e .")
//
//	if err := wf.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
//
//	run, err := gridci.Trigger(ctx, engine, wf.Name(), gridci.Event{Type: gridci.EventPush})
type WorkflowBuilder struct {
	def api.Workflow
}

// New creates a new workflow builder with the given name.
func New(name string) *WorkflowBuilder {
	return &WorkflowBuilder{
		def: api.Workflow{
			Name:  name,
			Steps: make([]api.StepDefinition, 0),
		},
	}
}

// Name returns the workflow name.
func (b *WorkflowBuilder) Name() string {
	return b.def.Name
}

// Definition returns the underlying Workflow.
// Typically used when interacting with lower-level APIs.
func (b *WorkflowBuilder) Definition() Workflow {
	return b.def
}

// On appends trigger event types.
func (b *WorkflowBuilder) On(events ...EventType) *WorkflowBuilder {
	b.def.On = append(b.def.On, events...)
	return b
}

// OnPush adds the push trigger.
func (b *WorkflowBuilder) OnPush() *WorkflowBuilder {
	return b.On(api.EventPush)
}

// OnPullRequest adds the pull_request trigger.
func (b *WorkflowBuilder) OnPullRequest() *WorkflowBuilder {
	return b.On(api.EventPullRequest)
}

// MatrixAxis appends a matrix axis. Axes declared first vary slowest in
// the expanded entries.
func (b *WorkflowBuilder) MatrixAxis(name string, values ...string) *WorkflowBuilder {
	if name == "" {
		panic("gridci: matrix axis name must not be empty")
	}
	b.def.Matrix.Axes = append(b.def.Matrix.Axes, api.Axis{Name: name, Values: values})
	return b
}

// ExcludeEntry removes product entries matching all given pairs.
func (b *WorkflowBuilder) ExcludeEntry(pairs map[string]string) *WorkflowBuilder {
	b.def.Matrix.Exclude = append(b.def.Matrix.Exclude, pairs)
	return b
}

// IncludeEntry extends matching entries with extra keys, or appends a new
// standalone entry when nothing matches.
func (b *WorkflowBuilder) IncludeEntry(pairs map[string]string) *WorkflowBuilder {
	b.def.Matrix.Include = append(b.def.Matrix.Include, pairs)
	return b
}

// FailFast controls whether one job's failure cancels its siblings.
// The default is false: jobs run independently.
func (b *WorkflowBuilder) FailFast(on bool) *WorkflowBuilder {
	b.def.FailFast = on
	return b
}

// MaxParallel bounds concurrent jobs. Zero means unbounded.
func (b *WorkflowBuilder) MaxParallel(n int) *WorkflowBuilder {
	b.def.MaxParallel = n
	return b
}

// Env sets a workflow-level environment variable visible to every job.
func (b *WorkflowBuilder) Env(key, value string) *WorkflowBuilder {
	if b.def.Env == nil {
		b.def.Env = make(map[string]string)
	}
	b.def.Env[key] = value
	return b
}

// Step appends a basic step to the workflow.
func (b *WorkflowBuilder) Step(name string, fn StepFunc) *WorkflowBuilder {
	if name == "" {
		panic("gridci: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("gridci: step %q has nil function", name))
	}

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:  name,
		Fn:    fn,
		Retry: nil,
	})
	return b
}

// StepWithRetry appends a step that uses the given retry policy.
func (b *WorkflowBuilder) StepWithRetry(name string, fn StepFunc, retry RetryPolicy) *WorkflowBuilder {
	if name == "" {
		panic("gridci: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("gridci: step %q has nil function", name))
	}

	// Make a copy so callers can mutate their RetryPolicy after the call
	// without affecting the stored definition.
	r := retry

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:  name,
		Fn:    fn,
		Retry: &r,
	})
	return b
}

// Run is a convenience for adding a shell command step. The script may
// reference matrix values via "${{ matrix.NAME }}".
func (b *WorkflowBuilder) Run(name, script string) *WorkflowBuilder {
	return b.Step(name, RunStep(script))
}

// Register registers the built workflow with the given engine.
func (b *WorkflowBuilder) Register(eng Engine) error {
	return eng.RegisterWorkflow(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *WorkflowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
