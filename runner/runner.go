// Package runner launches flow runs asynchronously: it wires jobstore,
// workerpool and flow together, owns the shared worker pool, and enforces
// each run's wall-clock timeout.
package runner

import (
	"context"
	"fmt"
	"time"

	"flowrunner.dev/flowrunner/common"
	"flowrunner.dev/flowrunner/flow"
	"flowrunner.dev/flowrunner/jobstore"
	"flowrunner.dev/flowrunner/steps"
	"flowrunner.dev/flowrunner/workerpool"
)

// Runner launches flow.Flow runs onto a shared bounded worker pool and
// tracks their lifecycle through a jobstore.Store.
type Runner struct {
	cfg    flow.Config
	store  *jobstore.Store
	pool   *workerpool.Pool
	logger *common.ContextLogger
}

// New returns a Runner backed by store, running flows with cfg, submitting
// onto a pool capped at maxWorkers concurrently running flows.
func New(cfg flow.Config, store *jobstore.Store, maxWorkers int, logger *common.ContextLogger) *Runner {
	if logger == nil {
		logger = common.ServiceLogger("flowrunner", "")
	}
	return &Runner{
		cfg:    cfg,
		store:  store,
		pool:   workerpool.New(maxWorkers),
		logger: logger,
	}
}

// LaunchAsync creates a job row for path/meta, submits the run onto the
// worker pool, and returns the job's id without waiting for the run to
// finish. The run is given at most timeout wall-clock time; past that it is
// cancelled and finalized as failed.
func (r *Runner) LaunchAsync(ctx context.Context, path string, payload map[string]any, timeout time.Duration, meta jobstore.Meta) (string, error) {
	meta.FlowPath = path
	meta.Payload = payload
	meta.TimeoutSeconds = int(timeout / time.Second)

	jobID, err := r.store.Create(ctx, meta)
	if err != nil {
		return "", err
	}

	task := r.pool.Submit(context.WithoutCancel(ctx), func(ctx context.Context, cancel <-chan struct{}) error {
		return r.run(ctx, jobID, path, payload, cancel)
	})

	go r.watch(jobID, timeout, task)

	return jobID, nil
}

// run performs one flow invocation and persists its terminal outcome. It is
// the function submitted to the worker pool; its returned error is only
// diagnostic (surfaced via task.Err()), since outcome persistence already
// happened by the time it returns.
func (r *Runner) run(ctx context.Context, jobID, path string, payload map[string]any, cancel <-chan struct{}) error {
	log := r.logger.WithField("job_id", jobID).WithField("flow_path", path)

	now := time.Now().Unix()
	if err := r.store.Update(ctx, jobID, map[string]any{
		"state":      jobstore.StateRunning,
		"start_time": now,
	}); err != nil {
		log.WithError(err).Error("failed to mark job running")
	}

	f, err := flow.New(r.cfg, path, payload, jobID, nil, cancel)
	if err != nil {
		r.finish(ctx, jobID, jobstore.StateFinished, jobstore.StatusFailed, err.Error(), "")
		return err
	}

	bb, status := f.Process(ctx)
	result, encodeErr := bb.MarshalJSON()
	if encodeErr != nil {
		log.WithError(encodeErr).Error("failed to encode job result")
	}

	select {
	case <-cancel:
		// watch closed cancel on timeout and finalizes the job once this returns.
		if err := r.store.Update(ctx, jobID, map[string]any{"result": string(result)}); err != nil {
			log.WithError(err).Error("failed to store result of timed out job")
		}
	default:
		r.finish(ctx, jobID, jobstore.StateFinished, statusFor(status), status.Message, string(result))
	}

	for _, e := range bb.Errors() {
		log.WithField("step", e.Step).WithField("ignored", e.Ignored != "").Debug(fmt.Sprintf("%v", e.Err))
	}

	if status.Type != "success" {
		return fmt.Errorf("%s", status.Message)
	}
	return nil
}

func statusFor(status steps.Status) string {
	switch status.Type {
	case jobstore.StatusExit:
		return jobstore.StatusExit
	case jobstore.StatusFailed:
		return jobstore.StatusFailed
	case "success":
		return jobstore.StatusSuccess
	default:
		return jobstore.StatusError
	}
}

func (r *Runner) finish(ctx context.Context, jobID, state, status, errs, result string) {
	now := time.Now().Unix()
	fields := map[string]any{
		"state":    state,
		"status":   status,
		"end_time": now,
	}
	if result != "" {
		fields["result"] = result
	}
	if errs != "" {
		fields["errors"] = errs
	}
	if err := r.store.Update(ctx, jobID, fields); err != nil {
		r.logger.WithField("job_id", jobID).WithError(err).Error("failed to persist job outcome")
	}
}

// watch enforces timeout on a submitted task: if it does not complete in
// time, its cancellation channel is closed and the job is finalized as
// timed out once the task actually observes the cancellation and returns.
func (r *Runner) watch(jobID string, timeout time.Duration, task *workerpool.Task) {
	select {
	case <-task.Done():
		return
	case <-time.After(timeout):
	}

	ctx := context.Background()
	if err := r.store.Update(ctx, jobID, map[string]any{"state": jobstore.StateStopping}); err != nil {
		r.logger.WithField("job_id", jobID).WithError(err).Error("failed to mark job stopping")
	}

	task.Cancel()
	<-task.Done()

	now := time.Now().Unix()
	message := fmt.Sprintf("Flow timed out after %d seconds", int(timeout/time.Second))
	if err := r.store.Update(ctx, jobID, map[string]any{
		"state":    jobstore.StateFinished,
		"status":   jobstore.StatusFailed,
		"errors":   message,
		"end_time": now,
	}); err != nil {
		r.logger.WithField("job_id", jobID).WithError(err).Error("failed to finalize timed out job")
	}
}
