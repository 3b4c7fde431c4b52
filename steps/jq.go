package steps

import (
	"context"

	"flowrunner.dev/flowrunner/flowdef"
	"flowrunner.dev/flowrunner/templating"
)

func init() {
	Register("jq", newJQStep)
}

type jqStep struct {
	Base
	expression string
	dataKey    string
}

func newJQStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "jq")
	if err != nil {
		return nil, err
	}
	expression, err := requireString(def, cfg, "expression")
	if err != nil {
		return nil, err
	}
	dataKey, err := requireString(def, cfg, "data_key")
	if err != nil {
		return nil, err
	}
	return &jqStep{Base: Base{Def: def, FC: fc}, expression: expression, dataKey: dataKey}, nil
}

func (s *jqStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}

	input, err := s.FC.Blackboard().GetByKey(s.dataKey)
	if err != nil {
		return Result{}, err
	}

	filtered, err := templating.ApplyJQ(s.expression, input)
	if err != nil {
		return Result{}, err
	}
	return s.Finish(filtered)
}
