// Package flowdef loads and validates flow definitions from YAML.
package flowdef

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a flow file does not exist.
var ErrNotFound = errors.New("flowdef: flow file not found")

// ErrParsing is returned when a flow file fails to parse, or fails
// load-time validation (duplicate step names). An unknown step type is
// reported by the step factory as steps.ErrConstruction instead.
var ErrParsing = errors.New("flowdef: failed to parse flow file")

// Step is one node of a flow, with its type-specific configuration left as
// a raw YAML node so the step factory can decode it against the kind named
// by Type.
type Step struct {
	Name         string
	Type         string
	When         []string
	ResultKey    string
	JQExpression string
	IgnoreErrors []string
	OnErrorGoto  string
	raw          map[string]any
}

// UnmarshalYAML decodes the envelope fields directly and keeps the whole
// document (including kind-specific nested objects like `jq:` or `rest:`)
// for Raw() to hand to the step factory.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var m map[string]any
	if err := value.Decode(&m); err != nil {
		return err
	}
	s.raw = m

	type envelope struct {
		Name         string   `yaml:"name"`
		Type         string   `yaml:"type"`
		When         []string `yaml:"when"`
		ResultKey    string   `yaml:"result_key"`
		JQExpression string   `yaml:"jq_expression"`
		IgnoreErrors []string `yaml:"ignore_errors"`
		OnErrorGoto  string   `yaml:"on_error_goto"`
	}
	var e envelope
	if err := value.Decode(&e); err != nil {
		return err
	}
	s.Name = e.Name
	s.Type = e.Type
	s.When = e.When
	s.ResultKey = e.ResultKey
	s.JQExpression = e.JQExpression
	s.IgnoreErrors = e.IgnoreErrors
	s.OnErrorGoto = e.OnErrorGoto
	return nil
}

// EffectiveResultKey returns ResultKey if set, otherwise the step's own name.
func (s Step) EffectiveResultKey() string {
	if s.ResultKey != "" {
		return s.ResultKey
	}
	return s.Name
}

// Raw returns the step's full decoded document, used by step constructors to
// pull their type-named sub-object (e.g. step.Raw()["jq"]).
func (s *Step) Raw() map[string]any {
	return s.raw
}

// StepFromMap builds a Step from an already-decoded map, for step kinds that
// embed an inline child step definition (switch.cases[].step). It round-trips
// through YAML so the same envelope/raw-config split UnmarshalYAML performs
// applies here too.
func StepFromMap(m map[string]any) (Step, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return Step{}, fmt.Errorf("%w: %v", ErrParsing, err)
	}
	var s Step
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Step{}, fmt.Errorf("%w: %v", ErrParsing, err)
	}
	return s, nil
}

// Flow is the immutable, loaded flow document.
type Flow struct {
	Name  string `yaml:"name"`
	Path  string `yaml:"-"`
	Steps []Step `yaml:"steps"`

	// index is the name->position lookup, built once at load.
	index map[string]int
}

// Load reads and parses the flow file at path (relative to flowsRoot),
// builds the name->index map, and rejects duplicate step names.
func Load(flowsRoot, path string) (*Flow, error) {
	full := filepath.Join(flowsRoot, path)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrParsing, path, err)
	}

	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParsing, path, err)
	}
	f.Path = path

	f.index = make(map[string]int, len(f.Steps))
	for i, step := range f.Steps {
		if _, dup := f.index[step.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate step name %q", ErrParsing, path, step.Name)
		}
		f.index[step.Name] = i
	}

	return &f, nil
}

// Index returns the zero-based position of the named step, and whether it
// exists. The map is injective by construction (Load rejects duplicates).
func (f *Flow) Index(name string) (int, bool) {
	i, ok := f.index[name]
	return i, ok
}
