package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrunner.dev/flowrunner/jobstore"
)

type fakeLauncher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeLauncher) LaunchAsync(ctx context.Context, path string, payload map[string]any, timeout time.Duration, meta jobstore.Meta) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, path)
	return "job-" + path, nil
}

func (f *fakeLauncher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestAddFlowRejectsMissingTrigger(t *testing.T) {
	s := New(&fakeLauncher{}, nil, time.Minute, nil)
	_, err := s.AddFlow(context.Background(), ScheduleDef{Path: "a.yaml"})
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestAddFlowRejectsBothTriggers(t *testing.T) {
	s := New(&fakeLauncher{}, nil, time.Minute, nil)
	_, err := s.AddFlow(context.Background(), ScheduleDef{Path: "a.yaml", Cron: "* * * * *", EverySeconds: 5})
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestAddFlowRejectsDuplicatePath(t *testing.T) {
	s := New(&fakeLauncher{}, nil, time.Minute, nil)
	_, err := s.AddFlow(context.Background(), ScheduleDef{Path: "a.yaml", EverySeconds: 5})
	require.NoError(t, err)

	_, err = s.AddFlow(context.Background(), ScheduleDef{Path: "a.yaml", EverySeconds: 10})
	assert.ErrorIs(t, err, ErrAlreadyAdded)
}

func TestAddFlowRejectsInvalidCronExpression(t *testing.T) {
	s := New(&fakeLauncher{}, nil, time.Minute, nil)
	_, err := s.AddFlow(context.Background(), ScheduleDef{Path: "a.yaml", Cron: "not a cron"})
	assert.Error(t, err)
}

func TestListFlowsReturnsRegisteredEntry(t *testing.T) {
	s := New(&fakeLauncher{}, nil, time.Minute, nil)
	id, err := s.AddFlow(context.Background(), ScheduleDef{Path: "a.yaml", EverySeconds: 30})
	require.NoError(t, err)

	list, err := s.ListFlows(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "a.yaml", list[0].Path)
}

func TestRemoveFlowDeletesEntry(t *testing.T) {
	s := New(&fakeLauncher{}, nil, time.Minute, nil)
	id, err := s.AddFlow(context.Background(), ScheduleDef{Path: "a.yaml", EverySeconds: 30})
	require.NoError(t, err)

	require.NoError(t, s.RemoveFlow(context.Background(), id))

	list, err := s.ListFlows(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 0)

	err = s.RemoveFlow(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartFiresDueIntervalTriggers(t *testing.T) {
	launcher := &fakeLauncher{}
	s := New(launcher, nil, time.Minute, nil)
	id, err := s.AddFlow(context.Background(), ScheduleDef{Path: "a.yaml", EverySeconds: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && launcher.callCount() == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()

	assert.GreaterOrEqual(t, launcher.callCount(), 1)

	list, err := s.ListFlows(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestFireSkipsOnLaunchError(t *testing.T) {
	launcher := &fakeLauncher{err: jobstore.ErrAlreadyRunning}
	s := New(launcher, nil, time.Minute, nil)
	_, err := s.AddFlow(context.Background(), ScheduleDef{Path: "a.yaml", EverySeconds: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	time.Sleep(1200 * time.Millisecond)
	s.Stop()

	list, err := s.ListFlows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list[0].LastJobID)
}
