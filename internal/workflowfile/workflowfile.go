// Package workflowfile loads declarative YAML workflow definitions and
// turns them into executable api.Workflow values.
//
// The file shape mirrors what hosted CI platforms use:
//
//	name: install
//	on: [push, pull_request]
//	strategy:
//	  fail-fast: false
//	  matrix:
//	    os: [ubuntu-latest, macos-latest]
//	    python: ["3.11", "3.10", "3.9"]
//	steps:
//	  - name: provision
//	    run: setup-python ${{ matrix.python }}
//
// Matrix axis values are read as literal scalars, so an unquoted 3.10
// stays "3.10" instead of collapsing into a float.
package workflowfile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/gridci/internal/shell"
	"github.com/petrijr/gridci/pkg/api"
)

// File is the parsed, not yet validated, form of a workflow file.
type File struct {
	Name     string            `yaml:"name"`
	On       TriggerList       `yaml:"on"`
	Strategy Strategy          `yaml:"strategy"`
	Env      map[string]string `yaml:"env"`
	Steps    []Step            `yaml:"steps"`
}

// Strategy holds the job fan-out controls.
type Strategy struct {
	// FailFast distinguishes "unset" from an explicit false: like hosted
	// platforms, an absent fail-fast defaults to true and must be disabled
	// explicitly.
	FailFast    *bool      `yaml:"fail-fast"`
	MaxParallel int        `yaml:"max-parallel"`
	Matrix      MatrixSpec `yaml:"matrix"`
}

// Step is one entry of the steps list.
type Step struct {
	Name           string            `yaml:"name"`
	Run            string            `yaml:"run"`
	Env            map[string]string `yaml:"env"`
	TimeoutMinutes int               `yaml:"timeout-minutes"`
	Retries        int               `yaml:"retries"`
}

// TriggerList accepts the three YAML spellings of "on": a scalar, a
// sequence, or a mapping whose keys are the event names.
type TriggerList []string

func (t *TriggerList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = TriggerList{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(TriggerList, 0, len(node.Content))
		for _, n := range node.Content {
			if n.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: trigger must be a scalar", n.Line)
			}
			out = append(out, n.Value)
		}
		*t = out
		return nil
	case yaml.MappingNode:
		out := make(TriggerList, 0, len(node.Content)/2)
		for i := 0; i < len(node.Content); i += 2 {
			out = append(out, node.Content[i].Value)
		}
		*t = out
		return nil
	}
	return fmt.Errorf("line %d: invalid 'on' value", node.Line)
}

// MatrixSpec preserves axis declaration order, which plain YAML maps lose.
type MatrixSpec struct {
	Axes    []api.Axis
	Exclude []map[string]string
	Include []map[string]string
}

func (m *MatrixSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix must be a mapping", node.Line)
	}
	for i := 0; i < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "exclude":
			sel, err := decodeSelectors(val)
			if err != nil {
				return fmt.Errorf("matrix exclude: %w", err)
			}
			m.Exclude = sel
		case "include":
			sel, err := decodeSelectors(val)
			if err != nil {
				return fmt.Errorf("matrix include: %w", err)
			}
			m.Include = sel
		default:
			values, err := decodeScalarList(val)
			if err != nil {
				return fmt.Errorf("matrix axis %q: %w", key.Value, err)
			}
			m.Axes = append(m.Axes, api.Axis{Name: key.Value, Values: values})
		}
	}
	return nil
}

func decodeScalarList(node *yaml.Node) ([]string, error) {
	if node.Kind == yaml.ScalarNode {
		return []string{node.Value}, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a scalar or a list", node.Line)
	}
	out := make([]string, 0, len(node.Content))
	for _, n := range node.Content {
		if n.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: expected a scalar value", n.Line)
		}
		out = append(out, n.Value)
	}
	return out, nil
}

func decodeSelectors(node *yaml.Node) ([]map[string]string, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list of mappings", node.Line)
	}
	var out []map[string]string
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: expected a mapping", item.Line)
		}
		sel := make(map[string]string, len(item.Content)/2)
		for i := 0; i < len(item.Content); i += 2 {
			k, v := item.Content[i], item.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: expected a scalar value", v.Line)
			}
			sel[k.Value] = v.Value
		}
		out = append(out, sel)
	}
	return out, nil
}

// Parse decodes a workflow file. Unknown fields are rejected so typos in
// workflow files fail loudly instead of being silently ignored.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return &f, nil
}

// Load reads and decodes the workflow file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// LoadDir loads every *.yml / *.yaml file in dir. Files that fail to parse
// are reported together after the loadable ones.
func LoadDir(dir string) ([]*File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow directory: %w", err)
	}

	var files []*File
	var errs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml")) {
			continue
		}
		f, err := Load(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		files = append(files, f)
	}
	if len(errs) > 0 {
		return files, fmt.Errorf("%d workflow file(s) failed to parse:\n%s", len(errs), strings.Join(errs, "\n"))
	}
	return files, nil
}

// Workflow validates the file and builds an executable definition whose
// steps run the declared shell commands.
func (f *File) Workflow() (api.Workflow, error) {
	if f.Name == "" {
		return api.Workflow{}, fmt.Errorf("workflow name is required")
	}
	if len(f.On) == 0 {
		return api.Workflow{}, fmt.Errorf("workflow %s: at least one trigger is required", f.Name)
	}

	on := make([]api.EventType, 0, len(f.On))
	for _, s := range f.On {
		t, err := api.ParseEventType(s)
		if err != nil {
			return api.Workflow{}, fmt.Errorf("workflow %s: %w", f.Name, err)
		}
		on = append(on, t)
	}

	if len(f.Steps) == 0 {
		return api.Workflow{}, fmt.Errorf("workflow %s: at least one step is required", f.Name)
	}

	steps := make([]api.StepDefinition, 0, len(f.Steps))
	for i, s := range f.Steps {
		if strings.TrimSpace(s.Run) == "" {
			return api.Workflow{}, fmt.Errorf("workflow %s: step %d has no run command", f.Name, i+1)
		}
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		def := api.StepDefinition{
			Name: name,
			Fn:   s.stepFunc(),
		}
		if s.Retries > 0 {
			def.Retry = &api.RetryPolicy{MaxAttempts: s.Retries + 1}
		}
		steps = append(steps, def)
	}

	matrix := api.Matrix{
		Axes:    f.Strategy.Matrix.Axes,
		Exclude: f.Strategy.Matrix.Exclude,
		Include: f.Strategy.Matrix.Include,
	}
	if _, err := matrix.Entries(); err != nil {
		return api.Workflow{}, fmt.Errorf("workflow %s: %w", f.Name, err)
	}

	// Hosted platforms fail fast unless told otherwise; an absent
	// fail-fast key therefore means true.
	failFast := true
	if f.Strategy.FailFast != nil {
		failFast = *f.Strategy.FailFast
	}

	return api.Workflow{
		Name:        f.Name,
		On:          on,
		Matrix:      matrix,
		FailFast:    failFast,
		MaxParallel: f.Strategy.MaxParallel,
		Env:         f.Env,
		Steps:       steps,
	}, nil
}

// stepFunc builds the executable form of a declared step: the run command
// expanded against the job's matrix entry, executed in the job's working
// directory with the step env layered over the job env.
func (s Step) stepFunc() api.StepFunc {
	timeout := time.Duration(s.TimeoutMinutes) * time.Minute
	return func(ctx context.Context, job *api.JobContext) error {
		env := make(map[string]string, len(job.Env)+len(s.Env))
		for k, v := range job.Env {
			env[k] = v
		}
		for k, v := range s.Env {
			env[k] = job.Entry.Expand(v)
		}

		res, err := shell.Run(ctx, shell.Command{
			Script:  job.Entry.Expand(s.Run),
			Dir:     job.Dir,
			Env:     env,
			Timeout: timeout,
		})
		if res != nil {
			if out := strings.TrimSpace(res.Stdout); out != "" {
				job.Logf("%s", out)
			}
			if errOut := strings.TrimSpace(res.Stderr); errOut != "" {
				job.Logf("%s", errOut)
			}
		}
		return err
	}
}
