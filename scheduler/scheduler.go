// Package scheduler fires flow runs on a cron expression or a fixed
// interval, launching each one through a runner.Runner.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"flowrunner.dev/flowrunner/common"
	"flowrunner.dev/flowrunner/jobstore"
)

// ErrAlreadyAdded is returned by AddFlow when a schedule already exists for
// def.Path.
var ErrAlreadyAdded = errors.New("scheduler: a schedule already exists for this flow path")

// ErrNotFound is returned when an id names no schedule.
var ErrNotFound = errors.New("scheduler: schedule not found")

// ErrInvalidTrigger is returned when def names zero or both of Cron and
// EverySeconds.
var ErrInvalidTrigger = errors.New("scheduler: exactly one of cron or every_seconds must be set")

// Launcher is the subset of runner.Runner the scheduler depends on, kept as
// an interface so tests can stub it without a real jobstore/flow stack.
type Launcher interface {
	LaunchAsync(ctx context.Context, path string, payload map[string]any, timeout time.Duration, meta jobstore.Meta) (string, error)
}

// ScheduleDef is the caller-supplied description of a recurring flow run.
type ScheduleDef struct {
	Path           string
	Payload        map[string]any
	Cron           string
	EverySeconds   int
	TimeoutSeconds int
}

// ScheduleInfo is the read-only view returned by ListFlows.
type ScheduleInfo struct {
	ID        string
	Path      string
	Cron      string
	EverySec  int
	LastJobID string
	NextRunAt time.Time
	CreatedAt time.Time
}

type entry struct {
	id   string
	def  ScheduleDef
	cron *cron.Cron // set for cron-driven entries

	mu        sync.Mutex
	lastJobID string
	nextTick  time.Time // for interval entries: next time it is due
	createdAt time.Time
}

// Scheduler owns every active schedule entry. Cron-driven entries each get
// their own cron.Cron instance; every_seconds entries share one ticker-driven
// loop started by Start.
type Scheduler struct {
	launcher       Launcher
	loc            *time.Location
	defaultTimeout time.Duration
	logger         *common.ContextLogger

	mu      sync.RWMutex
	entries map[string]*entry

	stop chan struct{}
	once sync.Once
}

// New returns a Scheduler that launches flows through launcher, resolving
// cron expressions in loc (nil defaults to time.Local).
func New(launcher Launcher, loc *time.Location, defaultTimeout time.Duration, logger *common.ContextLogger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = common.ServiceLogger("flowrunner-scheduler", "")
	}
	return &Scheduler{
		launcher:       launcher,
		loc:            loc,
		defaultTimeout: defaultTimeout,
		logger:         logger,
		entries:        make(map[string]*entry),
		stop:           make(chan struct{}),
	}
}

// AddFlow registers a new schedule and returns its id.
func (s *Scheduler) AddFlow(ctx context.Context, def ScheduleDef) (string, error) {
	if def.Cron == "" && def.EverySeconds <= 0 {
		return "", ErrInvalidTrigger
	}
	if def.Cron != "" && def.EverySeconds > 0 {
		return "", ErrInvalidTrigger
	}
	if def.TimeoutSeconds <= 0 {
		def.TimeoutSeconds = int(s.defaultTimeout / time.Second)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.def.Path == def.Path {
			return "", ErrAlreadyAdded
		}
	}

	e := &entry{id: uuid.NewString(), def: def, createdAt: time.Now()}

	if def.Cron != "" {
		c := cron.New(cron.WithLocation(s.loc))
		if _, err := c.AddFunc(def.Cron, func() { s.fire(e) }); err != nil {
			return "", fmt.Errorf("scheduler: invalid cron expression %q: %w", def.Cron, err)
		}
		c.Start()
		e.cron = c
	} else {
		e.nextTick = time.Now().Add(time.Duration(def.EverySeconds) * time.Second)
	}

	s.entries[e.id] = e
	return e.id, nil
}

// RemoveFlow stops and deletes the schedule named by id.
func (s *Scheduler) RemoveFlow(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.entries, id)
	s.mu.Unlock()

	if e.cron != nil {
		select {
		case <-e.cron.Stop().Done():
		case <-ctx.Done():
		}
	}
	return nil
}

// ListFlows returns every active schedule.
func (s *Scheduler) ListFlows(ctx context.Context) ([]ScheduleInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScheduleInfo, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		info := ScheduleInfo{
			ID:        e.id,
			Path:      e.def.Path,
			Cron:      e.def.Cron,
			EverySec:  e.def.EverySeconds,
			LastJobID: e.lastJobID,
			CreatedAt: e.createdAt,
		}
		if e.cron != nil {
			entries := e.cron.Entries()
			if len(entries) > 0 {
				info.NextRunAt = entries[0].Next
			}
		} else {
			info.NextRunAt = e.nextTick
		}
		e.mu.Unlock()
		out = append(out, info)
	}
	return out, nil
}

// Start spins a background goroutine driving due every_seconds triggers
// once per second via a shared ticker. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case now := <-ticker.C:
				s.tickIntervals(now)
			}
		}
	}()
}

// Stop halts the ticker loop and every cron-driven entry's own instance,
// blocking until in-flight cron jobs return.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.cron != nil {
			<-e.cron.Stop().Done()
		}
	}
}

func (s *Scheduler) tickIntervals(now time.Time) {
	s.mu.RLock()
	due := make([]*entry, 0)
	for _, e := range s.entries {
		if e.cron != nil {
			continue
		}
		e.mu.Lock()
		if !now.Before(e.nextTick) {
			due = append(due, e)
			e.nextTick = now.Add(time.Duration(e.def.EverySeconds) * time.Second)
		}
		e.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, e := range due {
		s.fire(e)
	}
}

func (s *Scheduler) fire(e *entry) {
	timeout := time.Duration(e.def.TimeoutSeconds) * time.Second
	meta := jobstore.Meta{
		Source:       "scheduler",
		ScheduleID:   e.id,
		Cron:         e.def.Cron,
		EverySeconds: e.def.EverySeconds,
	}

	jobID, err := s.launcher.LaunchAsync(context.Background(), e.def.Path, e.def.Payload, timeout, meta)
	if err != nil {
		s.logger.WithField("schedule_id", e.id).WithField("flow_path", e.def.Path).
			WithError(err).Warn("skipped scheduled run")
		return
	}

	e.mu.Lock()
	e.lastJobID = jobID
	e.mu.Unlock()
}
