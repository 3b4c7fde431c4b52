package steps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrunner.dev/flowrunner/blackboard"
)

func TestFileStepWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	writeDef := buildDef(t, "file", map[string]any{
		"path":     path,
		"type":     "json",
		"mode":     "write",
		"data_key": "payload",
	})
	bb := blackboard.New(nil, nil, "job-1", "t", "flow.yaml")
	bb.Set("payload", map[string]any{"a": 1})

	writeStep, err := newFileStep(writeDef, newFakeFlowContext(bb))
	require.NoError(t, err)
	_, err = writeStep.Process(context.Background(), false)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"a": 1`)

	readDef := buildDef(t, "file", map[string]any{
		"path": path,
		"type": "json",
		"mode": "read",
	})
	readStep, err := newFileStep(readDef, newFakeFlowContext(blackboard.New(nil, nil, "job-1", "t", "flow.yaml")))
	require.NoError(t, err)
	result, err := readStep.Process(context.Background(), false)
	require.NoError(t, err)

	out := result.Value.(map[string]any)
	assert.EqualValues(t, 1, out["a"])
}

func TestFileStepRejectsUnsupportedMode(t *testing.T) {
	def := buildDef(t, "file", map[string]any{"path": "x", "type": "json", "mode": "delete"})
	bb := blackboard.New(nil, nil, "job-1", "t", "flow.yaml")
	_, err := newFileStep(def, newFakeFlowContext(bb))
	assert.Error(t, err)
}
