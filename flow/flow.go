// Package flow implements the interpreter: the state machine that walks a
// loaded flow definition step by step, threading a Blackboard through each
// one and handling goto/exit/error-routing/cancellation.
package flow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"flowrunner.dev/flowrunner/blackboard"
	"flowrunner.dev/flowrunner/flowdef"
	"flowrunner.dev/flowrunner/secrets"
	"flowrunner.dev/flowrunner/steps"
)

// Config is the set of filesystem locations and secret-backend settings
// every Flow (and every child Flow it launches) needs, independent of any
// particular run.
type Config struct {
	FlowsRoot     string
	TemplatesRoot string
	SecretsPath   string
	VaultToken    string
	VaultCacheTTL time.Duration
	VaultCache    secrets.VaultCache
}

// Flow is one loaded flow document paired with the run-scoped state
// (Blackboard, secret resolver, cancellation channel) needed to execute it.
// It implements steps.FlowContext, so leaf steps see it only through that
// narrow interface.
type Flow struct {
	cfg      Config
	def      *flowdef.Flow
	bb       *blackboard.Blackboard
	resolver *secrets.Resolver
	stop     <-chan struct{}
}

// New loads the flow definition and its secret table, builds a fresh
// Blackboard seeded with the reserved keys, and returns a Flow ready for
// Process. stop is the cooperative cancellation channel shared by every
// step in this run (and propagated to any child flows it launches).
func New(cfg Config, path string, input map[string]any, jobID string, loopIndex *int, stop <-chan struct{}) (*Flow, error) {
	def, err := flowdef.Load(cfg.FlowsRoot, path)
	if err != nil {
		return nil, err
	}

	table, err := secrets.Load(cfg.SecretsPath)
	if err != nil {
		return nil, err
	}
	resolver := secrets.NewResolver(table, cfg.VaultToken, cfg.VaultCacheTTL, cfg.VaultCache)

	timestamp := time.Now().Format("20060102150405")
	bb := blackboard.New(input, loopIndex, jobID, timestamp, path)

	return &Flow{cfg: cfg, def: def, bb: bb, resolver: resolver, stop: stop}, nil
}

// Process walks the step list by index until it runs off the end, a step
// directs it to __end__/__exit, an unignored/unredirected error occurs, or
// stop fires. It never mutates the step list; only i and the Blackboard
// change across iterations.
func (f *Flow) Process(ctx context.Context) (*blackboard.Blackboard, steps.Status) {
	list := f.def.Steps
	i := 0

	for i < len(list) {
		select {
		case <-f.stop:
			return f.bb, steps.Status{Type: "failed", Message: "Flow stopped on request."}
		default:
		}

		def := list[i]
		step, err := steps.Create(def, f)
		if err != nil {
			return f.bb, steps.Status{Type: "failed", Message: err.Error()}
		}

		result, err := func() (res steps.Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("step %q panicked: %v", def.Name, r)
				}
			}()
			return step.Process(ctx, false)
		}()
		if err != nil {
			var exitErr *steps.ErrFlowExit
			if errors.As(err, &exitErr) {
				return f.bb, steps.Status{Type: "exit", Message: exitErr.Message}
			}

			next, status, handled := f.handleStepError(def, err, i)
			if status != nil {
				return f.bb, *status
			}
			i = next
			if handled {
				continue
			}
		}

		if result.Directive != nil {
			nextIndex, status := f.followDirective(result.Directive.Goto, len(list))
			if status != nil {
				return f.bb, *status
			}
			i = nextIndex
			continue
		}

		i++
	}

	return f.bb, steps.Status{Type: "success", Message: "flow completed"}
}

// handleStepError applies the ignore_errors -> on_error_goto -> propagate
// precedence. It always returns the index to continue from; status is
// non-nil only when the run must terminate right here.
func (f *Flow) handleStepError(def flowdef.Step, stepErr error, i int) (int, *steps.Status, bool) {
	line := stepErr.Error()

	for _, pattern := range def.IgnoreErrors {
		matched, err := regexp.MatchString(pattern, line)
		if err != nil || !matched {
			continue
		}
		f.bb.AppendError(blackboard.Error{Step: def.Name, Err: line, Ignored: pattern})
		return i + 1, nil, true
	}

	f.bb.AppendError(blackboard.Error{Step: def.Name, Err: line})

	if def.OnErrorGoto != "" {
		idx, ok := f.def.Index(def.OnErrorGoto)
		if !ok {
			status := &steps.Status{Type: "failed", Message: fmt.Sprintf("on_error_goto target %q not found", def.OnErrorGoto)}
			return i, status, true
		}
		return idx, nil, true
	}

	status := &steps.Status{Type: "failed", Message: line}
	return i, status, true
}

// followDirective resolves a step's {goto: target} result into the next
// index, or a terminal status for the three reserved sentinels and an
// unknown target.
func (f *Flow) followDirective(target string, length int) (int, *steps.Status) {
	switch target {
	case "__exit":
		return 0, &steps.Status{Type: "exit", Message: "exit via goto"}
	case "__end__":
		return length, nil
	case "__start__":
		return 0, nil
	default:
		idx, ok := f.def.Index(target)
		if !ok {
			return 0, &steps.Status{Type: "failed", Message: fmt.Sprintf("unknown goto target %q", target)}
		}
		return idx, nil
	}
}

// Blackboard implements steps.FlowContext.
func (f *Flow) Blackboard() *blackboard.Blackboard { return f.bb }

// ResolveSecret implements steps.FlowContext.
func (f *Flow) ResolveSecret(ctx context.Context, name string) (map[string]any, error) {
	return f.resolver.Resolve(ctx, name)
}

// RunChildFlow implements steps.FlowContext: it loads and runs path as an
// independent Flow with its own Blackboard, sharing this run's cancellation
// channel and job id. The child's final Blackboard and status are handed
// back as-is, whatever the status; the error is non-nil only when the child
// cannot be loaded. The calling step decides what a failed status means.
func (f *Flow) RunChildFlow(ctx context.Context, path string, payload map[string]any, loopIndex *int) (map[string]any, steps.Status, error) {
	jobID, _ := f.bb.Get(blackboard.KeyJobID)
	jobIDStr, _ := jobID.(string)

	child, err := New(f.cfg, path, payload, jobIDStr, loopIndex, f.stop)
	if err != nil {
		return nil, steps.Status{}, err
	}

	bb, status := child.Process(ctx)
	return bb.Raw(), status, nil
}

// FlowsRoot implements steps.FlowContext.
func (f *Flow) FlowsRoot() string { return f.cfg.FlowsRoot }

// TemplatesRoot implements steps.FlowContext.
func (f *Flow) TemplatesRoot() string { return f.cfg.TemplatesRoot }

// Representation implements steps.FlowContext, used by the debug step's
// log line to identify which flow produced it.
func (f *Flow) Representation() string {
	return fmt.Sprintf("%s (%s)", f.def.Name, f.def.Path)
}

// Done implements steps.FlowContext; leaf steps that block (sleep,
// flow_loop) select on it to cut their wait short when the run is stopped.
func (f *Flow) Done() <-chan struct{} { return f.stop }
