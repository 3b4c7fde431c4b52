package steps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrunner.dev/flowrunner/blackboard"
	"flowrunner.dev/flowrunner/flowdef"
)

func newSwitchDef(t *testing.T, cfg map[string]any) flowdef.Step {
	t.Helper()
	def, err := flowdef.StepFromMap(map[string]any{
		"name":   "route",
		"type":   "switch",
		"switch": cfg,
	})
	require.NoError(t, err)
	return def
}

func TestSwitchDelegatesToFirstMatchingCase(t *testing.T) {
	def := newSwitchDef(t, map[string]any{
		"data_key": "kind",
		"cases": []any{
			map[string]any{
				"when": "^bug$",
				"step": map[string]any{
					"name": "bug_message",
					"type": "exit",
					"exit": map[string]any{"message": "it's a bug"},
				},
			},
			map[string]any{
				"when": "^feature$",
				"step": map[string]any{
					"name": "feature_message",
					"type": "exit",
					"exit": map[string]any{"message": "it's a feature"},
				},
			},
		},
	})

	bb := blackboard.New(nil, nil, "job-1", "t", "parent.yaml")
	bb.Set("kind", "feature")
	fc := newFakeFlowContext(bb)

	step, err := newSwitchStep(def, fc)
	require.NoError(t, err)

	_, err = step.Process(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, "it's a feature", err.Error())
}

func TestSwitchNoMatchErrors(t *testing.T) {
	def := newSwitchDef(t, map[string]any{
		"data_key": "kind",
		"cases": []any{
			map[string]any{
				"when": "^bug$",
				"step": map[string]any{
					"name": "bug_message",
					"type": "exit",
					"exit": map[string]any{"message": "it's a bug"},
				},
			},
		},
	})

	bb := blackboard.New(nil, nil, "job-1", "t", "parent.yaml")
	bb.Set("kind", "unknown")
	fc := newFakeFlowContext(bb)

	step, err := newSwitchStep(def, fc)
	require.NoError(t, err)

	_, err = step.Process(context.Background(), false)
	assert.Error(t, err)
}

func TestSwitchRequiresCases(t *testing.T) {
	def := newSwitchDef(t, map[string]any{"data_key": "kind"})
	bb := blackboard.New(nil, nil, "job-1", "t", "parent.yaml")
	_, err := newSwitchStep(def, newFakeFlowContext(bb))
	assert.Error(t, err)
}
