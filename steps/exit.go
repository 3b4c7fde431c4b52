package steps

import (
	"context"

	"flowrunner.dev/flowrunner/flowdef"
)

func init() {
	Register("exit", newExitStep)
}

// exitStep never returns normally: it always raises ErrFlowExit, which the
// interpreter special-cases into a terminal "exit" status.
type exitStep struct {
	Base
	message string
}

func newExitStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "exit")
	if err != nil {
		return nil, err
	}
	message, err := requireString(def, cfg, "message")
	if err != nil {
		return nil, err
	}
	return &exitStep{Base: Base{Def: def, FC: fc}, message: message}, nil
}

func (s *exitStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}
	s.FC.Blackboard().Set(s.Def.EffectiveResultKey(), map[string]any{"message": s.message})
	return Result{}, &ErrFlowExit{Message: s.message}
}
