package steps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrunner.dev/flowrunner/blackboard"
	"flowrunner.dev/flowrunner/flowdef"
)

func newFlowDef(t *testing.T, cfg map[string]any) flowdef.Step {
	t.Helper()
	def, err := flowdef.StepFromMap(map[string]any{
		"name": "sub",
		"type": "flow",
		"flow": cfg,
	})
	require.NoError(t, err)
	return def
}

func TestFlowStepRunsChildAndStoresResult(t *testing.T) {
	def := newFlowDef(t, map[string]any{"path": "children/{{ kind }}.yaml", "data_key": "payload"})

	bb := blackboard.New(nil, nil, "job-1", "t", "parent.yaml")
	bb.Set("kind", "ingest")
	bb.Set("payload", map[string]any{"a": 1})

	fc := newFakeFlowContext(bb)
	fc.childData = map[string]any{"result": "ok"}

	step, err := newFlowStep(def, fc)
	require.NoError(t, err)

	result, err := step.Process(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "ok"}, result.Value)

	require.Len(t, fc.childCalls, 1)
	assert.Equal(t, "children/ingest.yaml", fc.childCalls[0].path)
	assert.Equal(t, map[string]any{"a": 1}, fc.childCalls[0].payload)
	assert.Nil(t, fc.childCalls[0].loopIndex)
}

func TestFlowStepPropagatesChildFailure(t *testing.T) {
	def := newFlowDef(t, map[string]any{"path": "child.yaml"})
	bb := blackboard.New(nil, nil, "job-1", "t", "parent.yaml")
	fc := newFakeFlowContext(bb)
	fc.childStatus = Status{Type: "failed", Message: "boom"}

	step, err := newFlowStep(def, fc)
	require.NoError(t, err)

	_, err = step.Process(context.Background(), false)
	assert.Error(t, err)
}

func TestFlowStepRequiresPath(t *testing.T) {
	def := newFlowDef(t, map[string]any{})
	bb := blackboard.New(nil, nil, "job-1", "t", "parent.yaml")
	_, err := newFlowStep(def, newFakeFlowContext(bb))
	assert.Error(t, err)
}
