package batch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pawmark/vetbatch/internal/config"
	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/store"
)

// Screener produces recommendation snapshots for one patient on one
// clinic-local date. It is the pluggable screening workflow; everything else
// in the task runner is bookkeeping around it.
type Screener interface {
	Screen(ctx context.Context, patientID int64, date time.Time) ([]model.InterventionFact, error)
}

// TaskOutcome is the terminal result of one patient task.
type TaskOutcome struct {
	PatientID int64
	Status    model.TaskStatus
	Retries   int
	Duration  time.Duration
	Err       error
}

// Runner drives the per-patient task state machine:
// started -> {success, error, skipped}, with a bounded
// error -> retrying -> started loop for transient failures. Every transition
// is persisted before the next step, so a crash mid-task leaves a row that
// the stale sweep can account for.
type Runner struct {
	store      *store.Store
	screener   Screener
	reconciler *Reconciler
	opts       config.SchedulerOptions
}

// NewRunner creates a task runner. reconciler may be nil to disable the
// inline reconcile pass after a successful screen.
func NewRunner(st *store.Store, screener Screener, reconciler *Reconciler, opts config.SchedulerOptions) *Runner {
	return &Runner{store: st, screener: screener, reconciler: reconciler, opts: opts}
}

// RunTask executes one patient's screening task to a terminal state. It never
// returns a task failure as an error; failures are recorded in the outcome
// and the task row, because one patient's failure must not abort siblings.
// The returned error is reserved for bookkeeping writes failing.
func (r *Runner) RunTask(ctx context.Context, h *Handle, patientID int64) (TaskOutcome, error) {
	out := TaskOutcome{PatientID: patientID}

	// State transitions must land even when the budget cancels ctx mid-task;
	// a terminal outcome with no row behind it would leave the task stranded
	// in started and throw off the finalize counts.
	bk := context.WithoutCancel(ctx)

	startedAt, err := r.store.BeginTask(bk, h.BatchID, patientID)
	if err != nil {
		return out, err
	}

	var meta map[string]any
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			out.Status = model.TaskSkipped
			break
		}

		facts, screenErr := r.screener.Screen(ctx, patientID, h.LocalDate)
		if screenErr == nil {
			if err := r.persistFacts(ctx, h, facts); err != nil {
				screenErr = &TaskError{Class: "store", Transient: true, Err: err}
			} else {
				out.Status = model.TaskSuccess
				meta = map[string]any{"facts": len(facts)}
				break
			}
		}

		switch {
		case errors.Is(screenErr, ErrNoEligibleWorkflow):
			out.Status = model.TaskSkipped

		case errors.Is(screenErr, context.Canceled), errors.Is(screenErr, context.DeadlineExceeded):
			// Budget cancellation reached this task mid-flight.
			out.Status = model.TaskSkipped

		case Transient(screenErr) && attempt < r.opts.MaxRetries:
			out.Retries = attempt + 1
			class, msg := Classify(screenErr)
			if err := r.store.MarkTaskRetrying(bk, h.BatchID, patientID, out.Retries, class, msg); err != nil {
				return out, err
			}
			log.Warn().
				Str("batch_id", h.BatchID.String()).
				Int64("patient_id", patientID).
				Int("attempt", out.Retries).
				Str("error_class", class).
				Msg("task retrying")
			if !sleepCtx(ctx, backoff(r.opts.RetryBackoff, attempt)) {
				out.Status = model.TaskSkipped
			} else {
				continue
			}

		default:
			out.Status = model.TaskError
			out.Err = screenErr
		}
		break
	}

	out.Duration = time.Since(startedAt)

	var errClass, errMsg *string
	if out.Err != nil {
		class, msg := Classify(out.Err)
		errClass, errMsg = &class, &msg
	}
	if err := r.store.FinishTask(bk, h.BatchID, patientID, out.Status, out.Retries, out.Duration, errClass, errMsg, meta); err != nil {
		return out, err
	}
	return out, nil
}

// persistFacts upserts the screener's output and runs the inline reconcile
// pass over each touched appointment.
func (r *Runner) persistFacts(ctx context.Context, h *Handle, facts []model.InterventionFact) error {
	appointments := make(map[int64]bool)
	for i := range facts {
		facts[i].SourceBatchID = &h.BatchID
		if _, err := r.store.UpsertIntervention(ctx, &facts[i]); err != nil {
			return err
		}
		appointments[facts[i].AppointmentID] = true
	}
	if r.reconciler == nil {
		return nil
	}
	for apptID := range appointments {
		if err := r.reconciler.ReconcileAppointment(ctx, apptID); err != nil {
			return err
		}
	}
	return nil
}

// backoff doubles deterministically per attempt: base, 2*base, 4*base, ...
func backoff(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

// sleepCtx waits for d, returning false if the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
