package flow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFlow(t *testing.T, flowsRoot, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(flowsRoot, name), []byte(content), 0o644))
}

func newTestConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	secretsPath := filepath.Join(dir, "secrets.yaml")
	require.NoError(t, os.WriteFile(secretsPath, []byte("[]"), 0o644))
	return Config{FlowsRoot: dir, TemplatesRoot: dir, SecretsPath: secretsPath}
}

func TestFlowRunsLinearlyToSuccess(t *testing.T) {
	cfg := newTestConfig(t)
	writeFlow(t, cfg.FlowsRoot, "linear.yaml", `
name: linear
steps:
  - name: first
    type: set_fact
    set_fact:
      value: "one"
  - name: second
    type: set_fact
    set_fact:
      value: "two"
`)

	f, err := New(cfg, "linear.yaml", nil, "job-1", nil, make(chan struct{}))
	require.NoError(t, err)

	bb, status := f.Process(context.Background())
	assert.Equal(t, "success", status.Type)
	v, _ := bb.Get("first")
	assert.Equal(t, "one", v)
	v, _ = bb.Get("second")
	assert.Equal(t, "two", v)
}

func TestFlowGotoByName(t *testing.T) {
	cfg := newTestConfig(t)
	writeFlow(t, cfg.FlowsRoot, "goto.yaml", `
name: goto_flow
steps:
  - name: start
    type: goto
    goto:
      step_name: finish
  - name: skipped
    type: set_fact
    set_fact:
      value: "should not run"
  - name: finish
    type: set_fact
    set_fact:
      value: "done"
`)

	f, err := New(cfg, "goto.yaml", nil, "job-1", nil, make(chan struct{}))
	require.NoError(t, err)

	bb, status := f.Process(context.Background())
	assert.Equal(t, "success", status.Type)
	_, ok := bb.Get("skipped")
	assert.False(t, ok)
	v, _ := bb.Get("finish")
	assert.Equal(t, "done", v)
}

func TestFlowEndSentinelStopsEarly(t *testing.T) {
	cfg := newTestConfig(t)
	writeFlow(t, cfg.FlowsRoot, "end.yaml", `
name: end_flow
steps:
  - name: stop_here
    type: goto
    goto:
      step_name: __end__
  - name: never
    type: set_fact
    set_fact:
      value: "nope"
`)

	f, err := New(cfg, "end.yaml", nil, "job-1", nil, make(chan struct{}))
	require.NoError(t, err)

	bb, status := f.Process(context.Background())
	assert.Equal(t, "success", status.Type)
	_, ok := bb.Get("never")
	assert.False(t, ok)
}

func TestFlowExitSentinelReturnsExitStatus(t *testing.T) {
	cfg := newTestConfig(t)
	writeFlow(t, cfg.FlowsRoot, "exit.yaml", `
name: exit_flow
steps:
  - name: quit
    type: goto
    goto:
      step_name: __exit
  - name: never
    type: set_fact
    set_fact:
      value: "nope"
`)

	f, err := New(cfg, "exit.yaml", nil, "job-1", nil, make(chan struct{}))
	require.NoError(t, err)

	_, status := f.Process(context.Background())
	assert.Equal(t, "exit", status.Type)
}

func TestFlowExitStepReturnsExitStatus(t *testing.T) {
	cfg := newTestConfig(t)
	writeFlow(t, cfg.FlowsRoot, "exit_step.yaml", `
name: exit_step_flow
steps:
  - name: bail
    type: exit
    exit:
      message: "stopping early"
`)

	f, err := New(cfg, "exit_step.yaml", nil, "job-1", nil, make(chan struct{}))
	require.NoError(t, err)

	_, status := f.Process(context.Background())
	assert.Equal(t, "exit", status.Type)
	assert.Equal(t, "stopping early", status.Message)
}

func TestFlowIgnoreErrorsDemotesToWarning(t *testing.T) {
	cfg := newTestConfig(t)
	writeFlow(t, cfg.FlowsRoot, "ignore.yaml", `
name: ignore_flow
steps:
  - name: bad_jq
    type: jq
    ignore_errors:
      - ".*"
    jq:
      expression: "invalid("
      data_key: "."
  - name: after
    type: set_fact
    set_fact:
      value: "reached"
`)

	f, err := New(cfg, "ignore.yaml", nil, "job-1", nil, make(chan struct{}))
	require.NoError(t, err)

	bb, status := f.Process(context.Background())
	assert.Equal(t, "success", status.Type)
	v, _ := bb.Get("after")
	assert.Equal(t, "reached", v)
	require.Len(t, bb.Errors(), 1)
	assert.NotEmpty(t, bb.Errors()[0].Ignored)
}

func TestFlowOnErrorGotoRedirects(t *testing.T) {
	cfg := newTestConfig(t)
	writeFlow(t, cfg.FlowsRoot, "onerror.yaml", `
name: on_error_flow
steps:
  - name: bad_jq
    type: jq
    on_error_goto: recover
    jq:
      expression: "invalid("
      data_key: "."
  - name: skipped
    type: set_fact
    set_fact:
      value: "skip"
  - name: recover
    type: set_fact
    set_fact:
      value: "recovered"
`)

	f, err := New(cfg, "onerror.yaml", nil, "job-1", nil, make(chan struct{}))
	require.NoError(t, err)

	bb, status := f.Process(context.Background())
	assert.Equal(t, "success", status.Type)
	v, _ := bb.Get("recover")
	assert.Equal(t, "recovered", v)
	_, ok := bb.Get("skipped")
	assert.False(t, ok)
	assert.Len(t, bb.Errors(), 1)
}

func TestFlowPropagatesUnignoredError(t *testing.T) {
	cfg := newTestConfig(t)
	writeFlow(t, cfg.FlowsRoot, "fail.yaml", `
name: fail_flow
steps:
  - name: bad_jq
    type: jq
    jq:
      expression: "invalid("
      data_key: "."
`)

	f, err := New(cfg, "fail.yaml", nil, "job-1", nil, make(chan struct{}))
	require.NoError(t, err)

	bb, status := f.Process(context.Background())
	assert.Equal(t, "failed", status.Type)
	assert.Len(t, bb.Errors(), 1)
}

func TestFlowStopChannelHaltsRun(t *testing.T) {
	cfg := newTestConfig(t)
	writeFlow(t, cfg.FlowsRoot, "stoppable.yaml", `
name: stoppable_flow
steps:
  - name: one
    type: set_fact
    set_fact:
      value: "one"
`)

	stop := make(chan struct{})
	close(stop)

	f, err := New(cfg, "stoppable.yaml", nil, "job-1", nil, stop)
	require.NoError(t, err)

	_, status := f.Process(context.Background())
	assert.Equal(t, "failed", status.Type)
	assert.Equal(t, "Flow stopped on request.", status.Message)
}

func TestFlowChildFlowRunsWithOwnBlackboard(t *testing.T) {
	cfg := newTestConfig(t)
	writeFlow(t, cfg.FlowsRoot, "child.yaml", `
name: child
steps:
  - name: set_value
    type: set_fact
    set_fact:
      value: "from child"
`)
	writeFlow(t, cfg.FlowsRoot, "parent.yaml", `
name: parent
steps:
  - name: call_child
    type: flow
    flow:
      path: "child.yaml"
`)

	f, err := New(cfg, "parent.yaml", nil, "job-1", nil, make(chan struct{}))
	require.NoError(t, err)

	bb, status := f.Process(context.Background())
	assert.Equal(t, "success", status.Type)
	v, _ := bb.Get("call_child")
	childData, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "from child", childData["set_value"])
}
