package steps

import (
	"context"
	"fmt"
	"sync"

	"flowrunner.dev/flowrunner/blackboard"
	"flowrunner.dev/flowrunner/flowdef"
	"flowrunner.dev/flowrunner/templating"
)

func init() {
	Register("flow_loop", newFlowLoopStep)
}

type flowLoopStep struct {
	Base
	pathTmpl string
	listKey  string
}

func newFlowLoopStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "flow_loop")
	if err != nil {
		return nil, err
	}
	pathTmpl, err := requireString(def, cfg, "path")
	if err != nil {
		return nil, err
	}
	listKey := optString(cfg, "data_key", "")
	if listKey == "" {
		listKey, err = requireString(def, cfg, "list_key")
		if err != nil {
			return nil, err
		}
	}
	return &flowLoopStep{
		Base:     Base{Def: def, FC: fc},
		pathTmpl: pathTmpl,
		listKey:  listKey,
	}, nil
}

type flowLoopChildResult struct {
	data   map[string]any
	status Status
	err    error
}

func (s *flowLoopStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}

	path, err := templating.Render(s.pathTmpl, s.FC.Blackboard().Raw())
	if err != nil {
		return Result{}, fmt.Errorf("steps: flow_loop step %q: %w", s.Def.Name, err)
	}

	listRaw, err := s.FC.Blackboard().GetByKey(s.listKey)
	if err != nil {
		return Result{}, err
	}
	list, ok := listRaw.([]any)
	if !ok {
		return Result{}, fmt.Errorf("steps: flow_loop step %q: list_key %q is not a list", s.Def.Name, s.listKey)
	}

	results := make([]flowLoopChildResult, len(list))
	var wg sync.WaitGroup
	for i, item := range list {
		payload, _ := item.(map[string]any)
		loopIndex := i + 1

		select {
		case <-s.FC.Done():
			return Result{}, fmt.Errorf("steps: flow_loop step %q: cancelled", s.Def.Name)
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		wg.Add(1)
		go func(i, loopIndex int, payload map[string]any) {
			defer wg.Done()
			data, status, err := s.FC.RunChildFlow(ctx, path, payload, &loopIndex)
			results[i] = flowLoopChildResult{data: data, status: status, err: err}
		}(i, loopIndex, payload)
	}
	wg.Wait()

	out := make([]any, len(results))
	var childErrors []blackboard.Error
	for i, r := range results {
		if r.err != nil {
			childErrors = append(childErrors, blackboard.Error{
				Step: fmt.Sprintf("%s[%d]", s.Def.Name, i+1),
				Err:  r.err.Error(),
			})
			continue
		}
		if r.status.Type == "failed" {
			childErrors = append(childErrors, blackboard.Error{
				Step: fmt.Sprintf("%s[%d]", s.Def.Name, i+1),
				Err:  r.status.Message,
			})
		}
		out[i] = r.data
		if r.data != nil {
			if errs, ok := r.data[blackboard.KeyErrors].([]blackboard.Error); ok {
				childErrors = append(childErrors, errs...)
			}
		}
	}

	if len(childErrors) > 0 {
		s.FC.Blackboard().ExtendErrors(childErrors)
	}

	return s.Finish(out)
}
