package steps

import (
	"context"
	"fmt"

	"flowrunner.dev/flowrunner/flowdef"
	"flowrunner.dev/flowrunner/templating"
)

func init() {
	Register("flow", newFlowStep)
}

type flowStep struct {
	Base
	pathTmpl string
	dataKey  string
}

func newFlowStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "flow")
	if err != nil {
		return nil, err
	}
	pathTmpl, err := requireString(def, cfg, "path")
	if err != nil {
		return nil, err
	}
	return &flowStep{
		Base:     Base{Def: def, FC: fc},
		pathTmpl: pathTmpl,
		dataKey:  optString(cfg, "data_key", "."),
	}, nil
}

func (s *flowStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}

	path, err := templating.Render(s.pathTmpl, s.FC.Blackboard().Raw())
	if err != nil {
		return Result{}, fmt.Errorf("steps: flow step %q: %w", s.Def.Name, err)
	}

	payloadRaw, err := s.FC.Blackboard().GetByKey(s.dataKey)
	if err != nil {
		return Result{}, err
	}
	payload, _ := payloadRaw.(map[string]any)

	childData, status, err := s.FC.RunChildFlow(ctx, path, payload, nil)
	if err != nil {
		return Result{}, fmt.Errorf("steps: flow step %q: %w", s.Def.Name, err)
	}
	if status.Type == "failed" {
		return Result{}, fmt.Errorf("steps: flow step %q: child flow %q failed: %s", s.Def.Name, path, status.Message)
	}

	return s.Finish(childData)
}
