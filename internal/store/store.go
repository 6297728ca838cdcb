// Package store is the fact store: all persistence for batch bookkeeping,
// clinical/billing facts, and reconciliation results goes through it. It is
// an explicitly passed handle, injected into the scheduler, task runner, and
// aggregator; there is no ambient global pool.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawmark/vetbatch/internal/model"
	embedsql "github.com/pawmark/vetbatch/internal/sql"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps a pgx pool with the query surface of the pipeline.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store around an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for COPY-based bulk loads.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// ---- batch runs ----

// OpenBatch atomically inserts the BatchRun row for (clinic, localDate).
// Returns inserted=false when a row already exists; the database unique
// constraint, not an application lock, decides the race.
func (s *Store) OpenBatch(ctx context.Context, batchID uuid.UUID, clinicID int64, localDate time.Time, source model.RunSource) (bool, error) {
	var got uuid.UUID
	err := s.pool.QueryRow(ctx, embedsql.OpenBatch, batchID, clinicID, localDate, string(source)).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open batch: %w", err)
	}
	return true, nil
}

// LookupBatch fetches the BatchRun for (clinic, localDate).
func (s *Store) LookupBatch(ctx context.Context, clinicID int64, localDate time.Time) (*model.BatchRun, error) {
	var (
		b      model.BatchRun
		source string
		status string
	)
	err := s.pool.QueryRow(ctx, embedsql.LookupBatch, clinicID, localDate).Scan(
		&b.BatchID, &b.ClinicID, &b.LocalDate, &source,
		&b.Requested, &b.Succeeded, &b.Failed, &b.Skipped,
		&b.StartedAt, &b.HeartbeatAt, &b.FinishedAt,
		&b.DurationMS, &b.P50MS, &b.P95MS, &status, &b.Notes, &b.Metrics,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup batch: %w", err)
	}
	b.Source = model.RunSource(source)
	b.Status = model.RunStatus(status)
	return &b, nil
}

// ReopenBatch resets a terminal-error run for a fresh attempt, discarding the
// prior attempt's task rows in the same transaction. The row itself is kept:
// (clinic, date) stays unique and the notes column preserves the history.
func (s *Store) ReopenBatch(ctx context.Context, batchID uuid.UUID, source model.RunSource) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reopen batch: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, embedsql.DeleteBatchTasks, batchID); err != nil {
		return fmt.Errorf("reopen batch: clear tasks: %w", err)
	}
	tag, err := tx.Exec(ctx, embedsql.ReopenBatch, batchID, string(source))
	if err != nil {
		return fmt.Errorf("reopen batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reopen batch %s: not in error state", batchID)
	}
	return tx.Commit(ctx)
}

// Heartbeat refreshes the liveness timestamp of a running batch.
func (s *Store) Heartbeat(ctx context.Context, batchID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, embedsql.HeartbeatBatch, batchID)
	return err
}

// FinalizeBatch writes the terminal counts, percentiles, status, and the
// metrics document.
func (s *Store) FinalizeBatch(ctx context.Context, sum model.BatchSummary) error {
	metrics := map[string]any{"total_retries": sum.TotalRetries}
	_, err := s.pool.Exec(ctx, embedsql.FinalizeBatch,
		sum.BatchID,
		sum.Requested, sum.Succeeded, sum.Failed, sum.Skipped,
		sum.Duration.Milliseconds(),
		sum.P50.Milliseconds(),
		sum.P95.Milliseconds(),
		string(sum.FinalState),
		metrics,
	)
	if err != nil {
		return fmt.Errorf("finalize batch: %w", err)
	}
	return nil
}

// SweepStale marks unfinished runs whose heartbeat is older than the grace
// period as error, so the per-day uniqueness constraint cannot permanently
// block a clinic after a crash. Returns the swept batch ids.
func (s *Store) SweepStale(ctx context.Context, grace time.Duration) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, embedsql.SweepStale, grace.Seconds())
	if err != nil {
		return nil, fmt.Errorf("sweep stale: %w", err)
	}
	defer rows.Close()

	var swept []uuid.UUID
	for rows.Next() {
		var (
			id     uuid.UUID
			clinic int64
			date   time.Time
		)
		if err := rows.Scan(&id, &clinic, &date); err != nil {
			return nil, fmt.Errorf("sweep stale scan: %w", err)
		}
		swept = append(swept, id)
	}
	return swept, rows.Err()
}

// DeleteBatch removes a batch and its task rows. The relational cascade is
// explicit here rather than a database trigger.
func (s *Store) DeleteBatch(ctx context.Context, batchID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete batch: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, embedsql.DeleteBatchTasks, batchID); err != nil {
		return fmt.Errorf("delete batch tasks: %w", err)
	}
	if _, err := tx.Exec(ctx, embedsql.DeleteBatchRun, batchID); err != nil {
		return fmt.Errorf("delete batch run: %w", err)
	}
	return tx.Commit(ctx)
}

// ---- task runs ----

// BeginTask persists the started transition before any work happens, so a
// crash mid-task is recoverable by replay rather than in-memory state.
func (s *Store) BeginTask(ctx context.Context, batchID uuid.UUID, patientID int64) (time.Time, error) {
	var startedAt time.Time
	err := s.pool.QueryRow(ctx, embedsql.BeginTask, batchID, patientID).Scan(&startedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("begin task: %w", err)
	}
	return startedAt, nil
}

// MarkTaskRetrying records a transient failure and the retry count before the
// next attempt starts.
func (s *Store) MarkTaskRetrying(ctx context.Context, batchID uuid.UUID, patientID int64, retries int, errClass, errMsg string) error {
	_, err := s.pool.Exec(ctx, embedsql.MarkTaskRetrying, batchID, patientID, retries, errClass, errMsg)
	if err != nil {
		return fmt.Errorf("mark task retrying: %w", err)
	}
	return nil
}

// FinishTask writes the terminal state of a task. meta may be nil; a
// non-empty map lands in the row's jsonb meta column.
func (s *Store) FinishTask(ctx context.Context, batchID uuid.UUID, patientID int64, status model.TaskStatus, retries int, duration time.Duration, errClass, errMsg *string, meta map[string]any) error {
	var metaArg any
	if len(meta) > 0 {
		metaArg = meta
	}
	_, err := s.pool.Exec(ctx, embedsql.FinishTask,
		batchID, patientID, string(status), retries, duration.Milliseconds(), errClass, errMsg, metaArg)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	return nil
}

// ListTasks returns all task rows of a batch ordered by patient id.
func (s *Store) ListTasks(ctx context.Context, batchID uuid.UUID) ([]model.TaskRun, error) {
	rows, err := s.pool.Query(ctx, embedsql.ListTasks, batchID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.TaskRun
	for rows.Next() {
		var (
			t      model.TaskRun
			status string
		)
		if err := rows.Scan(&t.BatchID, &t.PatientID, &status, &t.Retries,
			&t.StartedAt, &t.FinishedAt, &t.DurationMS, &t.ErrorClass, &t.ErrorMsg, &t.Meta); err != nil {
			return nil, fmt.Errorf("list tasks scan: %w", err)
		}
		t.Status = model.TaskStatus(status)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
