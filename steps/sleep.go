package steps

import (
	"context"
	"fmt"
	"time"

	"flowrunner.dev/flowrunner/flowdef"
)

func init() {
	Register("sleep", newSleepStep)
}

// sleepStep cooperatively suspends, observing the flow's cancellation
// channel so a Runner timeout can cut a long sleep short.
type sleepStep struct {
	Base
	seconds float64
}

func newSleepStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "sleep")
	if err != nil {
		return nil, err
	}
	seconds, ok := cfg["seconds"]
	if !ok {
		return nil, fmt.Errorf("%w: step %q: missing field %q", ErrConstruction, def.Name, "seconds")
	}
	asFloat, ok := toFloat(seconds)
	if !ok {
		return nil, fmt.Errorf("%w: step %q: field %q must be numeric", ErrConstruction, def.Name, "seconds")
	}
	return &sleepStep{Base: Base{Def: def, FC: fc}, seconds: asFloat}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (s *sleepStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}

	timer := time.NewTimer(time.Duration(s.seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.FC.Done():
	case <-ctx.Done():
	}

	return s.Finish(nil)
}
