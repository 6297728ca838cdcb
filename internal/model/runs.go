package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a BatchRun.
type RunStatus string

const (
	RunRunning               RunStatus = "running"
	RunCompleted             RunStatus = "completed"
	RunCompletedWithFailures RunStatus = "completed_with_failures"
	RunError                 RunStatus = "error"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunCompletedWithFailures, RunError:
		return true
	case RunRunning:
		return false
	}
	return false
}

// RunSource identifies what triggered a batch.
type RunSource string

const (
	SourceManual    RunSource = "manual"
	SourceScheduler RunSource = "scheduler"
	SourceAPI       RunSource = "api"
)

// TaskStatus is the lifecycle state of a TaskRun.
type TaskStatus string

const (
	TaskStarted  TaskStatus = "started"
	TaskRetrying TaskStatus = "retrying"
	TaskSuccess  TaskStatus = "success"
	TaskError    TaskStatus = "error"
	TaskSkipped  TaskStatus = "skipped"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSuccess, TaskError, TaskSkipped:
		return true
	case TaskStarted, TaskRetrying:
		return false
	}
	return false
}

// BatchRun is the audit record of one nightly run for one clinic on one
// clinic-local date. At most one row exists per (clinic_id, local_date);
// the database unique constraint is the source of truth for that.
type BatchRun struct {
	BatchID   uuid.UUID
	ClinicID  int64
	LocalDate time.Time // date component only, clinic-local calendar
	Source    RunSource

	Requested int
	Succeeded int
	Failed    int
	Skipped   int

	StartedAt   time.Time
	HeartbeatAt time.Time
	FinishedAt  *time.Time
	DurationMS  *int64
	P50MS       *int64
	P95MS       *int64

	Status RunStatus
	Notes  *string

	// Metrics is the free-form jsonb document written at finalize; counters
	// that do not warrant their own column (total retries and the like) go
	// here.
	Metrics map[string]any
}

// TaskRun records one patient-screening task inside a batch.
// At most one row exists per (batch_id, patient_id).
type TaskRun struct {
	BatchID   uuid.UUID
	PatientID int64

	Status  TaskStatus
	Retries int

	StartedAt  time.Time
	FinishedAt *time.Time
	DurationMS *int64

	ErrorClass *string
	ErrorMsg   *string

	// Meta carries per-task jsonb written at finish, e.g. how many facts a
	// successful screen produced.
	Meta map[string]any
}

// BatchSummary captures the metrics computed when a batch finalizes.
type BatchSummary struct {
	BatchID      uuid.UUID
	Requested    int
	Succeeded    int
	Failed       int
	Skipped      int
	TotalRetries int
	Duration     time.Duration
	P50          time.Duration
	P95          time.Duration
	FinalState   RunStatus
}
