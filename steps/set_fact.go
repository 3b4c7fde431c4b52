package steps

import (
	"context"
	"fmt"

	"flowrunner.dev/flowrunner/flowdef"
	"flowrunner.dev/flowrunner/templating"
)

func init() {
	Register("set_fact", newSetFactStep)
}

type setFactStep struct {
	Base
	value any
}

func newSetFactStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "set_fact")
	if err != nil {
		return nil, err
	}
	value, ok := cfg["value"]
	if !ok {
		return nil, fmt.Errorf("%w: step %q: missing field %q", ErrConstruction, def.Name, "value")
	}
	return &setFactStep{Base: Base{Def: def, FC: fc}, value: value}, nil
}

func (s *setFactStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}

	rendered, err := templating.RenderValue(s.value, s.FC.Blackboard().Raw())
	if err != nil {
		return Result{}, fmt.Errorf("steps: step %q: %w", s.Def.Name, err)
	}
	return s.Finish(rendered)
}
