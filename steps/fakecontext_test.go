package steps

import (
	"context"
	"sync"

	"flowrunner.dev/flowrunner/blackboard"
)

// fakeFlowContext is a minimal FlowContext for exercising one step in
// isolation, without a real flow interpreter or filesystem layout.
type fakeFlowContext struct {
	bb            *blackboard.Blackboard
	flowsRoot     string
	templatesRoot string
	secrets       map[string]map[string]any
	secretErr     error
	done          chan struct{}
	childData     map[string]any
	childStatus   Status
	childErr      error
	childFunc     func(path string, payload map[string]any, loopIndex *int) (map[string]any, Status, error)

	mu         sync.Mutex
	childCalls []fakeChildCall
}

type fakeChildCall struct {
	path      string
	payload   map[string]any
	loopIndex *int
}

func newFakeFlowContext(bb *blackboard.Blackboard) *fakeFlowContext {
	return &fakeFlowContext{
		bb:   bb,
		done: make(chan struct{}),
	}
}

func (f *fakeFlowContext) Blackboard() *blackboard.Blackboard { return f.bb }

func (f *fakeFlowContext) ResolveSecret(ctx context.Context, name string) (map[string]any, error) {
	if f.secretErr != nil {
		return nil, f.secretErr
	}
	return f.secrets[name], nil
}

func (f *fakeFlowContext) RunChildFlow(ctx context.Context, path string, payload map[string]any, loopIndex *int) (map[string]any, Status, error) {
	f.mu.Lock()
	f.childCalls = append(f.childCalls, fakeChildCall{path: path, payload: payload, loopIndex: loopIndex})
	f.mu.Unlock()

	if f.childFunc != nil {
		return f.childFunc(path, payload, loopIndex)
	}
	if f.childErr != nil {
		return nil, Status{}, f.childErr
	}
	status := f.childStatus
	if status.Type == "" {
		status = Status{Type: "success"}
	}
	return f.childData, status, nil
}

func (f *fakeFlowContext) calls() []fakeChildCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeChildCall, len(f.childCalls))
	copy(out, f.childCalls)
	return out
}

func (f *fakeFlowContext) FlowsRoot() string      { return f.flowsRoot }
func (f *fakeFlowContext) TemplatesRoot() string  { return f.templatesRoot }
func (f *fakeFlowContext) Representation() string { return "fake" }
func (f *fakeFlowContext) Done() <-chan struct{}  { return f.done }
