package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrunner.dev/flowrunner/common"
	"flowrunner.dev/flowrunner/flow"
	"flowrunner.dev/flowrunner/jobstore"
)

func newTestRunner(t *testing.T) (*Runner, flow.Config) {
	t.Helper()
	dir := t.TempDir()
	secretsPath := filepath.Join(dir, "secrets.yaml")
	require.NoError(t, os.WriteFile(secretsPath, []byte("[]"), 0o644))
	cfg := flow.Config{FlowsRoot: dir, TemplatesRoot: dir, SecretsPath: secretsPath}

	store, err := jobstore.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)

	r := New(cfg, store, 4, common.ServiceLogger("flowrunner-test", "0"))
	return r, cfg
}

func writeFlow(t *testing.T, flowsRoot, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(flowsRoot, name), []byte(content), 0o644))
}

func waitForState(t *testing.T, r *Runner, jobID, want string, timeout time.Duration) jobstore.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := r.store.Get(context.Background(), jobID)
		require.NoError(t, err)
		if job.State == want {
			return *job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached state %q", jobID, want)
	return jobstore.Job{}
}

func TestLaunchAsyncRunsFlowToSuccess(t *testing.T) {
	r, cfg := newTestRunner(t)
	writeFlow(t, cfg.FlowsRoot, "ok.yaml", `
name: ok
steps:
  - name: first
    type: set_fact
    set_fact:
      value: "done"
`)

	jobID, err := r.LaunchAsync(context.Background(), "ok.yaml", nil, time.Second, jobstore.Meta{Source: "api"})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	job := waitForState(t, r, jobID, jobstore.StateFinished, time.Second)
	assert.Equal(t, jobstore.StatusSuccess, job.Status)
	assert.NotEmpty(t, job.Result)
	assert.Contains(t, job.Result, `"first":"done"`)
}

func TestLaunchAsyncRecordsFailedStatus(t *testing.T) {
	r, cfg := newTestRunner(t)
	writeFlow(t, cfg.FlowsRoot, "bad.yaml", `
name: bad
steps:
  - name: first
    type: jq
    jq:
      data_key: "."
      expression: "this is not valid jq("
`)

	jobID, err := r.LaunchAsync(context.Background(), "bad.yaml", nil, time.Second, jobstore.Meta{Source: "api"})
	require.NoError(t, err)

	job := waitForState(t, r, jobID, jobstore.StateFinished, time.Second)
	assert.Equal(t, jobstore.StatusFailed, job.Status)
	assert.NotEmpty(t, job.Errors)
}

func TestLaunchAsyncRejectsDuplicateInFlightPath(t *testing.T) {
	r, cfg := newTestRunner(t)
	writeFlow(t, cfg.FlowsRoot, "slow.yaml", `
name: slow
steps:
  - name: first
    type: sleep
    sleep:
      seconds: 1
`)

	_, err := r.LaunchAsync(context.Background(), "slow.yaml", nil, 5*time.Second, jobstore.Meta{Source: "api"})
	require.NoError(t, err)

	_, err = r.LaunchAsync(context.Background(), "slow.yaml", nil, 5*time.Second, jobstore.Meta{Source: "api"})
	assert.ErrorIs(t, err, jobstore.ErrAlreadyRunning)
}

func TestLaunchAsyncTimesOutLongRunningFlow(t *testing.T) {
	r, cfg := newTestRunner(t)
	writeFlow(t, cfg.FlowsRoot, "stuck.yaml", `
name: stuck
steps:
  - name: first
    type: sleep
    sleep:
      seconds: 10
`)

	jobID, err := r.LaunchAsync(context.Background(), "stuck.yaml", nil, 100*time.Millisecond, jobstore.Meta{Source: "api"})
	require.NoError(t, err)

	job := waitForState(t, r, jobID, jobstore.StateFinished, 2*time.Second)
	assert.Equal(t, jobstore.StatusFailed, job.Status)
	assert.Contains(t, job.Errors, "Flow timed out after 0 seconds")
}
