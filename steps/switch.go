package steps

import (
	"context"
	"fmt"
	"regexp"

	"flowrunner.dev/flowrunner/flowdef"
	"flowrunner.dev/flowrunner/templating"
)

func init() {
	Register("switch", newSwitchStep)
}

type switchCase struct {
	when string
	step flowdef.Step
}

type switchStep struct {
	Base
	dataKey string
	cases   []switchCase
}

func newSwitchStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "switch")
	if err != nil {
		return nil, err
	}
	dataKey, err := requireString(def, cfg, "data_key")
	if err != nil {
		return nil, err
	}

	rawCases, ok := cfg["cases"].([]any)
	if !ok || len(rawCases) == 0 {
		return nil, fmt.Errorf("%w: step %q: switch.cases is required and must be non-empty", ErrConstruction, def.Name)
	}

	cases := make([]switchCase, 0, len(rawCases))
	for i, rawCase := range rawCases {
		caseMap, ok := rawCase.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: step %q: switch.cases[%d] must be an object", ErrConstruction, def.Name, i)
		}
		when, _ := caseMap["when"].(string)
		if when == "" {
			return nil, fmt.Errorf("%w: step %q: switch.cases[%d].when is required", ErrConstruction, def.Name, i)
		}
		innerRaw, ok := caseMap["step"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: step %q: switch.cases[%d].step is required", ErrConstruction, def.Name, i)
		}

		innerDef, err := flowdef.StepFromMap(innerRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: step %q: switch.cases[%d]: %v", ErrConstruction, def.Name, i, err)
		}

		cases = append(cases, switchCase{when: when, step: innerDef})
	}

	return &switchStep{
		Base:    Base{Def: def, FC: fc},
		dataKey: dataKey,
		cases:   cases,
	}, nil
}

func (s *switchStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}

	value, err := s.FC.Blackboard().GetByKey(s.dataKey)
	if err != nil {
		return Result{}, err
	}
	text := fmt.Sprintf("%v", value)
	text, err = templating.Render(text, s.FC.Blackboard().Raw())
	if err != nil {
		return Result{}, fmt.Errorf("steps: switch step %q: %w", s.Def.Name, err)
	}

	for _, c := range s.cases {
		matched, err := regexp.MatchString(c.when, text)
		if err != nil {
			return Result{}, fmt.Errorf("steps: switch step %q: invalid regex %q: %w", s.Def.Name, c.when, err)
		}
		if !matched {
			continue
		}
		inner, err := Create(c.step, s.FC)
		if err != nil {
			return Result{}, fmt.Errorf("steps: switch step %q: %w", s.Def.Name, err)
		}
		return inner.Process(ctx, false)
	}

	return Result{}, fmt.Errorf("steps: switch step %q: no case matched value %q", s.Def.Name, text)
}
