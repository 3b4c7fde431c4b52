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
	Register("file", newFileStep)
}

type fileStep struct {
	Base
	pathTmpl string
	typ      string
	mode     string
	dataKey  string
}

func newFileStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "file")
	if err != nil {
		return nil, err
	}
	pathTmpl, err := requireString(def, cfg, "path")
	if err != nil {
		return nil, err
	}
	typ, err := requireString(def, cfg, "type")
	if err != nil {
		return nil, err
	}
	mode, err := requireString(def, cfg, "mode")
	if err != nil {
		return nil, err
	}
	if mode != "read" && mode != "write" && mode != "append" {
		return nil, fmt.Errorf("%w: step %q: unsupported mode %q", ErrConstruction, def.Name, mode)
	}
	if typ != "yaml" && typ != "json" {
		return nil, fmt.Errorf("%w: step %q: unsupported type %q", ErrConstruction, def.Name, typ)
	}
	return &fileStep{
		Base:     Base{Def: def, FC: fc},
		pathTmpl: pathTmpl,
		typ:      typ,
		mode:     mode,
		dataKey:  optString(cfg, "data_key", "."),
	}, nil
}

func (s *fileStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}

	path, err := templating.Render(s.pathTmpl, s.FC.Blackboard().Raw())
	if err != nil {
		return Result{}, fmt.Errorf("steps: file step %q: %w", s.Def.Name, err)
	}

	switch s.mode {
	case "read":
		return s.read(path)
	default:
		return s.write(path)
	}
}

func (s *fileStep) read(path string) (Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("steps: file step %q: %w", s.Def.Name, err)
	}
	var value any
	if err := s.unmarshal(raw, &value); err != nil {
		return Result{}, fmt.Errorf("steps: file step %q: %w", s.Def.Name, err)
	}
	return s.Finish(value)
}

func (s *fileStep) write(path string) (Result, error) {
	data, err := s.FC.Blackboard().GetByKey(s.dataKey)
	if err != nil {
		return Result{}, err
	}

	raw, err := s.marshal(data)
	if err != nil {
		return Result{}, fmt.Errorf("steps: file step %q: %w", s.Def.Name, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{}, fmt.Errorf("steps: file step %q: %w", s.Def.Name, err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if s.mode == "append" {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("steps: file step %q: %w", s.Def.Name, err)
	}
	defer f.Close()

	if _, err := f.Write(raw); err != nil {
		return Result{}, fmt.Errorf("steps: file step %q: %w", s.Def.Name, err)
	}

	return s.Finish(nil)
}

func (s *fileStep) unmarshal(raw []byte, v any) error {
	if s.typ == "json" {
		return json.Unmarshal(raw, v)
	}
	return yaml.Unmarshal(raw, v)
}

func (s *fileStep) marshal(v any) ([]byte, error) {
	if s.typ == "json" {
		return json.MarshalIndent(v, "", "  ")
	}
	return yaml.Marshal(v)
}
