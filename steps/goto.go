package steps

import (
	"context"
	"fmt"

	"flowrunner.dev/flowrunner/flowdef"
	"flowrunner.dev/flowrunner/templating"
)

func init() {
	Register("goto", newGotoStep)
}

// gotoStep's target is rendered once, at construction time, matching the
// original implementation: a `goto` whose target depends on the
// blackboard is resolved against whatever data existed when the step
// object was built, not when it runs.
type gotoStep struct {
	Base
	target string
}

func newGotoStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "goto")
	if err != nil {
		return nil, err
	}
	tmpl, err := requireString(def, cfg, "step_name")
	if err != nil {
		return nil, err
	}
	rendered, err := renderGotoTarget(tmpl, fc)
	if err != nil {
		return nil, fmt.Errorf("%w: step %q: %v", ErrConstruction, def.Name, err)
	}
	return &gotoStep{Base: Base{Def: def, FC: fc}, target: rendered}, nil
}

func renderGotoTarget(tmpl string, fc FlowContext) (string, error) {
	out, err := templating.Render(tmpl, fc.Blackboard().Raw())
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("goto target rendered to an empty string")
	}
	return out, nil
}

func (s *gotoStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}
	return Result{Directive: &Directive{Goto: s.target}}, nil
}
