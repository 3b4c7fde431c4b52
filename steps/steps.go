// Package steps implements the closed set of leaf step kinds and the
// registry/factory that dispatches a flow definition's step.type to the
// right constructor.
//
// This package never imports the flow package: a step only ever sees its
// owning flow through the FlowContext interface, which keeps the
// flow<->steps dependency one-directional (flow imports steps, not the
// reverse) even though, conceptually, a Flow owns Steps that can themselves
// launch new Flows.
package steps

import (
	"context"
	"errors"
	"fmt"

	"flowrunner.dev/flowrunner/blackboard"
	"flowrunner.dev/flowrunner/flowdef"
	"flowrunner.dev/flowrunner/templating"
)

// ErrConstruction is returned when a step definition is missing a required
// field, or names an unregistered step type.
var ErrConstruction = errors.New("steps: construction failed")

// ErrFlowExit is the control-flow error raised by the exit step. The
// interpreter special-cases it: it terminates the run with status "exit"
// rather than routing it through ignore_errors/on_error_goto.
type ErrFlowExit struct {
	Message string
}

func (e *ErrFlowExit) Error() string {
	return e.Message
}

// Status is the terminal outcome of one flow run, returned by FlowContext's
// RunChildFlow and ultimately by the interpreter itself.
type Status struct {
	Type    string // "success", "failed", "exit"
	Message string
}

// Directive redirects the interpreter to a named step, or a reserved
// sentinel (__start__, __end__, __exit).
type Directive struct {
	Goto string
}

// Result is a step's outcome: an optional output value (already written to
// the blackboard by the time Process returns) and/or a control directive.
// The two are modeled separately rather than overloading Value, since a
// step can redirect control flow without ever producing a value.
type Result struct {
	Value     any
	Directive *Directive
}

// FlowContext is everything a leaf step needs from its owning flow.
type FlowContext interface {
	Blackboard() *blackboard.Blackboard
	ResolveSecret(ctx context.Context, name string) (map[string]any, error)
	RunChildFlow(ctx context.Context, path string, payload map[string]any, loopIndex *int) (map[string]any, Status, error)
	FlowsRoot() string
	TemplatesRoot() string
	Representation() string
	Done() <-chan struct{}
}

// Step is implemented by every leaf kind.
type Step interface {
	Process(ctx context.Context, ignoreWhen bool) (Result, error)
}

// Constructor builds one Step kind from its definition and owning flow.
type Constructor func(def flowdef.Step, fc FlowContext) (Step, error)

var registry = map[string]Constructor{}

// Register adds a constructor for kind. Called from each step kind's
// init(), so the registry is fully populated by the time Create runs.
func Register(kind string, c Constructor) {
	registry[kind] = c
}

// Create looks up def.Type in the closed registry and constructs the step,
// validating required fields at construction time.
func Create(def flowdef.Step, fc FlowContext) (Step, error) {
	c, ok := registry[def.Type]
	if !ok {
		return nil, fmt.Errorf("%w: step %q: unknown type %q", ErrConstruction, def.Name, def.Type)
	}
	return c(def, fc)
}

// Base implements the shared before/after contract (§4.2): `when`
// evaluation before the kind-specific logic runs, and jq_expression +
// result_key storage after it produces a value. Every concrete step
// embeds Base and calls its two halves around its own logic.
type Base struct {
	Def flowdef.Step
	FC  FlowContext
}

// PreProcess evaluates `when` (unless ignoreWhen is set, in which case the
// step always runs) and reports whether the step should run. The
// interpreter and the switch step's inner delegation both pass false.
func (b *Base) PreProcess(ignoreWhen bool) (bool, error) {
	if ignoreWhen {
		return true, nil
	}
	if len(b.Def.When) == 0 {
		return true, nil
	}
	return templating.EvalAllWhen(b.Def.When, b.FC.Blackboard().Raw())
}

// Finish applies jq_expression (if any) to value and writes it to the
// blackboard under the step's effective result_key.
func (b *Base) Finish(value any) (Result, error) {
	out := value
	if b.Def.JQExpression != "" {
		filtered, err := templating.ApplyJQ(b.Def.JQExpression, value)
		if err != nil {
			return Result{}, fmt.Errorf("steps: step %q: %w", b.Def.Name, err)
		}
		out = filtered
	}
	b.FC.Blackboard().Set(b.Def.EffectiveResultKey(), out)
	return Result{Value: out}, nil
}

// rawConfig returns def's type-named sub-object (e.g. Raw()["jq"]), erroring
// if it is absent or not an object — the shape every step's config lives
// under, confirmed against the original implementation's nested per-type
// config convention.
func rawConfig(def flowdef.Step, key string) (map[string]any, error) {
	raw := def.Raw()
	v, ok := raw[key]
	if !ok {
		return nil, fmt.Errorf("%w: step %q: missing %q configuration", ErrConstruction, def.Name, key)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: step %q: %q must be an object", ErrConstruction, def.Name, key)
	}
	return m, nil
}

func requireString(def flowdef.Step, cfg map[string]any, field string) (string, error) {
	v, ok := cfg[field]
	if !ok {
		return "", fmt.Errorf("%w: step %q: missing field %q", ErrConstruction, def.Name, field)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: step %q: field %q must be a non-empty string", ErrConstruction, def.Name, field)
	}
	return s, nil
}

func optString(cfg map[string]any, field, def string) string {
	if v, ok := cfg[field]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}
