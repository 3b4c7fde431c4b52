package steps

import (
	"context"
	"encoding/json"

	"flowrunner.dev/flowrunner/common"
	"flowrunner.dev/flowrunner/flowdef"
	"gopkg.in/yaml.v3"
)

func init() {
	Register("debug", newDebugStep)
}

// debugStep logs the selected data at INFO and leaves the blackboard
// unchanged (besides the base's own result_key write of that same data).
type debugStep struct {
	Base
	dataType string
	dataKey  string
}

func newDebugStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "debug")
	if err != nil {
		return nil, err
	}
	dataType, err := requireString(def, cfg, "type")
	if err != nil {
		return nil, err
	}
	return &debugStep{
		Base:     Base{Def: def, FC: fc},
		dataType: dataType,
		dataKey:  optString(cfg, "data_key", "."),
	}, nil
}

func (s *debugStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}

	value, err := s.FC.Blackboard().GetByKey(s.dataKey)
	if err != nil {
		return Result{}, err
	}

	var rendered string
	switch s.dataType {
	case "json":
		b, _ := json.MarshalIndent(value, "", "  ")
		rendered = string(b)
	case "yaml":
		b, _ := yaml.Marshal(value)
		rendered = string(b)
	default:
		rendered = toText(value)
	}
	common.Logger.Infof("%s -> %s", s.FC.Representation(), rendered)

	return s.Finish(value)
}

func toText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
