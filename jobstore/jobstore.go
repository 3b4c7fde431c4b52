// Package jobstore persists the lifecycle of flow runs (jobs) in a single
// SQLite file via GORM, adapting the GORM-model wiring pattern the teacher
// used for Postgres-backed message logging to a local, embedded store.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ErrAlreadyRunning is returned by Create when a non-finished job already
// exists for the same flow path.
var ErrAlreadyRunning = errors.New("jobstore: a job for this flow is already running")

// ErrNotFound is returned when an id names no row.
var ErrNotFound = errors.New("jobstore: job not found")

// Job states, in their only legal transition order: pending -> running ->
// (stopping ->)? finished. No back-transitions.
const (
	StatePending  = "pending"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateFinished = "finished"
)

// Terminal statuses, set once a job reaches StateFinished.
const (
	StatusUnknown = "unknown"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
	StatusExit    = "exit"
)

// Meta is the structured content of a job's opaque meta column: enough to
// identify what was run, with what input, and why (API call vs. schedule
// tick).
type Meta struct {
	FlowPath       string         `json:"flow_path"`
	Payload        map[string]any `json:"payload,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Source         string         `json:"source"` // "api" or "scheduler"
	ScheduleID     string         `json:"schedule_id,omitempty"`
	Cron           string         `json:"cron,omitempty"`
	EverySeconds   int            `json:"every_seconds,omitempty"`
}

// Job is one row of the jobs table. Meta, Result and Errors are kept as
// opaque text columns; the application never queries into them except for
// the flow_path uniqueness probe in Create, which matches on a substring of
// the serialized Meta column (flow_path is application-controlled, so this
// is an acceptable shortcut in place of a dedicated indexed column).
type Job struct {
	ID        string `gorm:"primaryKey"`
	Meta      string
	Result    string
	Errors    string
	State     string `gorm:"index"`
	Status    string
	StartTime *int64
	EndTime   *int64 `gorm:"index"`
}

// TableName pins the table name regardless of struct name, matching the
// teacher's explicit-TableName convention.
func (Job) TableName() string { return "jobs" }

// Store wraps the GORM handle over a single SQLite file.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the SQLite file at path and migrates
// the jobs table. A busy-timeout pragma is set so concurrent goroutines
// (scheduler ticks, API requests, the runner's own goroutines) tolerate
// SQLite's single-writer lock instead of failing immediately.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("jobstore: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, fmt.Errorf("jobstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Create refuses to insert if a non-finished job already exists for
// meta.FlowPath, otherwise inserts a new pending row and returns its id.
func (s *Store) Create(ctx context.Context, meta Meta) (string, error) {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("jobstore: encode meta: %w", err)
	}

	now := time.Now().Unix()
	job := Job{
		ID:        uuid.NewString(),
		Meta:      string(encoded),
		State:     StatePending,
		Status:    StatusUnknown,
		StartTime: &now,
	}

	pattern := fmt.Sprintf(`%%"flow_path":%q%%`, meta.FlowPath)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Job{}).
			Where("state != ? AND meta LIKE ?", StateFinished, pattern).
			Count(&count).Error; err != nil {
			return fmt.Errorf("jobstore: uniqueness check: %w", err)
		}
		if count > 0 {
			return ErrAlreadyRunning
		}
		if err := tx.Create(&job).Error; err != nil {
			return fmt.Errorf("jobstore: create: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// Update applies a partial column update to the row named by id.
func (s *Store) Update(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("jobstore: update %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the job named by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobstore: get %s: %w", id, err)
	}
	return &job, nil
}

// ListFilter narrows List's result set; zero-value fields (nil pointers,
// zero Limit) impose no constraint.
type ListFilter struct {
	Limit     int
	Offset    int
	State     *string
	Status    *string
	StartFrom *int64
	StartTo   *int64
	EndFrom   *int64
	EndTo     *int64
}

// List returns jobs matching filter, newest first by start_time.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Job, error) {
	q := s.db.WithContext(ctx).Model(&Job{})
	q = applyFilter(q, filter.State, filter.Status, filter.StartFrom, filter.StartTo, filter.EndFrom, filter.EndTo)

	q = q.Order("start_time DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var jobs []Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("jobstore: list: %w", err)
	}
	return jobs, nil
}

func applyFilter(q *gorm.DB, state, status *string, startFrom, startTo, endFrom, endTo *int64) *gorm.DB {
	if state != nil {
		q = q.Where("state = ?", *state)
	}
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if startFrom != nil {
		q = q.Where("start_time >= ?", *startFrom)
	}
	if startTo != nil {
		q = q.Where("start_time <= ?", *startTo)
	}
	if endFrom != nil {
		q = q.Where("end_time >= ?", *endFrom)
	}
	if endTo != nil {
		q = q.Where("end_time <= ?", *endTo)
	}
	return q
}

// Delete removes a single job by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Job{})
	if res.Error != nil {
		return fmt.Errorf("jobstore: delete %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFiltered bulk-deletes jobs matching state/status and, if
// olderThanDays is set, whose end_time is older than that many days ago.
// Jobs with a null end_time (never finished) are never age-deleted.
func (s *Store) DeleteFiltered(ctx context.Context, olderThanDays *int, status, state *string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&Job{})
	q = applyFilter(q, state, status, nil, nil, nil, nil)
	if olderThanDays != nil {
		cutoff := time.Now().Add(-time.Duration(*olderThanDays) * 24 * time.Hour).Unix()
		q = q.Where("end_time IS NOT NULL AND end_time < ?", cutoff)
	}

	res := q.Delete(&Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("jobstore: delete filtered: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// AbandonRunning is called once at service startup: every job left in a
// non-finished state by a prior, ungracefully-terminated process is closed
// out as status unknown, with a note appended to its errors column.
func (s *Store) AbandonRunning(ctx context.Context) error {
	var stale []Job
	if err := s.db.WithContext(ctx).Where("state != ?", StateFinished).Find(&stale).Error; err != nil {
		return fmt.Errorf("jobstore: abandon running: %w", err)
	}

	now := time.Now().Unix()
	for _, job := range stale {
		errs := job.Errors + "\nAbandoned due to service restart."
		update := map[string]any{
			"state":    StateFinished,
			"status":   StatusUnknown,
			"errors":   errs,
			"end_time": now,
		}
		if err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(update).Error; err != nil {
			return fmt.Errorf("jobstore: abandon running %s: %w", job.ID, err)
		}
	}
	return nil
}
