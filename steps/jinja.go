package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"flowrunner.dev/flowrunner/flowdef"
	"flowrunner.dev/flowrunner/templating"
	"gopkg.in/yaml.v3"
)

func init() {
	Register("jinja", newJinjaStep)
}

type jinjaStep struct {
	Base
	path    string
	parse   string
	dataKey string
}

func newJinjaStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "jinja")
	if err != nil {
		return nil, err
	}
	path, err := requireString(def, cfg, "path")
	if err != nil {
		return nil, err
	}
	return &jinjaStep{
		Base:    Base{Def: def, FC: fc},
		path:    path,
		parse:   optString(cfg, "parse", ""),
		dataKey: optString(cfg, "data_key", "."),
	}, nil
}

func (s *jinjaStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}

	tmplBytes, err := os.ReadFile(filepath.Join(s.FC.TemplatesRoot(), s.path))
	if err != nil {
		return Result{}, fmt.Errorf("steps: jinja step %q: %w", s.Def.Name, err)
	}

	data, err := s.FC.Blackboard().GetByKey(s.dataKey)
	if err != nil {
		return Result{}, err
	}
	dataMap, _ := data.(map[string]any)

	rendered, err := templating.Render(string(tmplBytes), dataMap)
	if err != nil {
		return Result{}, fmt.Errorf("steps: jinja step %q: %w", s.Def.Name, err)
	}

	var value any = rendered
	switch s.parse {
	case "json":
		var v any
		if err := json.Unmarshal([]byte(rendered), &v); err != nil {
			return Result{}, fmt.Errorf("steps: jinja step %q: parse json: %w", s.Def.Name, err)
		}
		value = v
	case "yaml":
		var v any
		if err := yaml.Unmarshal([]byte(rendered), &v); err != nil {
			return Result{}, fmt.Errorf("steps: jinja step %q: parse yaml: %w", s.Def.Name, err)
		}
		value = v
	}

	return s.Finish(value)
}
