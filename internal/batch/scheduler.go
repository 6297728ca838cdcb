// Package batch implements the nightly per-clinic batch engine: the
// scheduler that guarantees at most one run per clinic per clinic-local day,
// the per-patient task runner with its retry state machine, and the
// reconcile pass that ties surfaced recommendations to billing lines.
package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pawmark/vetbatch/internal/config"
	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/store"
)

// Handle identifies an open batch run.
type Handle struct {
	BatchID   uuid.UUID
	Clinic    model.Clinic
	LocalDate time.Time
	Source    model.RunSource

	startedAt time.Time
}

// Scheduler opens, executes, and finalizes batch runs. The per-day
// exactly-once guarantee lives in the batch_runs unique constraint; the
// scheduler only interprets the outcome of the insert race.
type Scheduler struct {
	store  *store.Store
	runner *Runner
	opts   config.SchedulerOptions

	now func() time.Time
}

func NewScheduler(st *store.Store, runner *Runner, opts config.SchedulerOptions) *Scheduler {
	return &Scheduler{store: st, runner: runner, opts: opts, now: time.Now}
}

// Open claims the batch slot for (clinic, localDate). It refuses with
// ErrOutsideWindow when the clinic's local clock is outside the batch window
// and with ErrAlreadyRun when the slot is taken by a run that is not in a
// terminal error state. A terminal-error run is reopened in place, reusing
// its row, so the per-day constraint is never violated by a retry.
func (s *Scheduler) Open(ctx context.Context, clinicID int64, localDate time.Time, source model.RunSource) (*Handle, error) {
	clinic, err := s.store.GetClinic(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("open batch: %w", err)
	}

	ok, err := InWindow(*clinic, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("clinic %d at %s: %w", clinicID, s.now().Format(time.RFC3339), ErrOutsideWindow)
	}

	h := &Handle{
		BatchID:   uuid.New(),
		Clinic:    *clinic,
		LocalDate: localDate,
		Source:    source,
		startedAt: s.now(),
	}

	inserted, err := s.store.OpenBatch(ctx, h.BatchID, clinicID, localDate, source)
	if err != nil {
		return nil, err
	}
	if inserted {
		log.Info().
			Str("batch_id", h.BatchID.String()).
			Int64("clinic_id", clinicID).
			Str("local_date", localDate.Format("2006-01-02")).
			Str("source", string(source)).
			Msg("batch opened")
		return h, nil
	}

	existing, err := s.store.LookupBatch(ctx, clinicID, localDate)
	if err != nil {
		return nil, fmt.Errorf("open batch: lost insert race and lookup failed: %w", err)
	}
	if existing.Status != model.RunError {
		return nil, fmt.Errorf("clinic %d date %s held by batch %s (%s): %w",
			clinicID, localDate.Format("2006-01-02"), existing.BatchID, existing.Status, ErrAlreadyRun)
	}

	if err := s.store.ReopenBatch(ctx, existing.BatchID, source); err != nil {
		return nil, err
	}
	h.BatchID = existing.BatchID
	log.Info().
		Str("batch_id", h.BatchID.String()).
		Int64("clinic_id", clinicID).
		Msg("error batch reopened")
	return h, nil
}

// Run executes the batch over the given patients and finalizes it. Worker
// concurrency is bounded by the clinic's max_parallel_tasks; the wall-clock
// budget cancels outstanding work cooperatively, with a grace period for
// in-flight tasks. Run always finalizes the row, even on a cancelled budget,
// so requested = succeeded + failed + skipped holds afterwards.
func (s *Scheduler) Run(ctx context.Context, h *Handle, patients []int64) (model.BatchSummary, error) {
	budgetCtx, cancelBudget := context.WithTimeout(ctx, s.opts.BatchBudget)
	defer cancelBudget()
	taskCtx, stopTasks := graceContext(ctx, budgetCtx, s.opts.CancelGrace)
	defer stopTasks()

	stopHB := s.heartbeatLoop(ctx, h.BatchID)
	defer stopHB()

	parallel := h.Clinic.MaxParallelTasks
	if parallel <= 0 {
		parallel = s.opts.DefaultMaxParallel
	}
	sem := semaphore.NewWeighted(int64(parallel))

	var g errgroup.Group
	for _, pid := range patients {
		pid := pid
		g.Go(func() error {
			var err error
			if acqErr := sem.Acquire(budgetCtx, 1); acqErr != nil {
				// Budget exhausted before this task started.
				_, err = s.skipUnstarted(ctx, h, pid)
			} else {
				_, err = s.runner.RunTask(taskCtx, h, pid)
				sem.Release(1)
			}
			return err
		})
	}
	runErr := g.Wait()

	// Finalize from the task rows, not in-memory outcomes: the rows are what
	// survives a dropped outcome, and the write must land even when the
	// caller's context is already cancelled.
	finCtx := context.WithoutCancel(ctx)
	tasks, err := s.store.ListTasks(finCtx, h.BatchID)
	if err != nil {
		return model.BatchSummary{BatchID: h.BatchID}, err
	}
	sum := summarize(h, tasks, s.now().Sub(h.startedAt))
	if err := s.store.FinalizeBatch(finCtx, sum); err != nil {
		return sum, err
	}
	log.Info().
		Str("batch_id", h.BatchID.String()).
		Int("requested", sum.Requested).
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Str("status", string(sum.FinalState)).
		Dur("duration", sum.Duration).
		Msg("batch finalized")
	return sum, runErr
}

// skipUnstarted records a task that never got a worker slot.
func (s *Scheduler) skipUnstarted(ctx context.Context, h *Handle, patientID int64) (TaskOutcome, error) {
	out := TaskOutcome{PatientID: patientID, Status: model.TaskSkipped}
	if _, err := s.store.BeginTask(ctx, h.BatchID, patientID); err != nil {
		return out, err
	}
	err := s.store.FinishTask(ctx, h.BatchID, patientID, model.TaskSkipped, 0, 0, nil, nil, nil)
	return out, err
}

// SweepStale marks unfinished runs with a dead heartbeat as error so their
// per-day slot can be reclaimed by a reopen. Called by the sweep command and
// on every daemon tick.
func (s *Scheduler) SweepStale(ctx context.Context) (int, error) {
	swept, err := s.store.SweepStale(ctx, s.opts.StaleAfter)
	if err != nil {
		return 0, err
	}
	for _, id := range swept {
		log.Warn().Str("batch_id", id.String()).Msg("stale batch swept to error")
	}
	return len(swept), nil
}

// heartbeatLoop refreshes the run's liveness timestamp until the returned
// stop function is called.
func (s *Scheduler) heartbeatLoop(ctx context.Context, batchID uuid.UUID) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(s.opts.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := s.store.Heartbeat(ctx, batchID); err != nil {
					log.Warn().Err(err).Str("batch_id", batchID.String()).Msg("heartbeat failed")
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// graceContext derives a context that outlives the budget by the grace
// period: in-flight tasks get that long to finish after the budget expires.
// Parent cancellation still propagates immediately.
func graceContext(parent, budget context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-ctx.Done():
		case <-budget.Done():
			t := time.NewTimer(grace)
			defer t.Stop()
			select {
			case <-t.C:
				cancel()
			case <-ctx.Done():
			}
		}
	}()
	return ctx, cancel
}

// summarize folds the batch's task rows into its terminal metrics.
func summarize(h *Handle, tasks []model.TaskRun, elapsed time.Duration) model.BatchSummary {
	sum := model.BatchSummary{
		BatchID:   h.BatchID,
		Requested: len(tasks),
		Duration:  elapsed,
	}
	durations := make([]time.Duration, 0, len(tasks))
	for _, t := range tasks {
		sum.TotalRetries += t.Retries
		switch t.Status {
		case model.TaskSuccess:
			sum.Succeeded++
		case model.TaskError:
			sum.Failed++
		default:
			// Skipped, plus any row a crash stranded short of terminal.
			sum.Skipped++
		}
		if (t.Status == model.TaskSuccess || t.Status == model.TaskError) && t.DurationMS != nil {
			durations = append(durations, time.Duration(*t.DurationMS)*time.Millisecond)
		}
	}
	sum.P50 = quantile(durations, 0.50)
	sum.P95 = quantile(durations, 0.95)
	if sum.Failed > 0 {
		sum.FinalState = model.RunCompletedWithFailures
	} else {
		sum.FinalState = model.RunCompleted
	}
	return sum
}

// quantile is nearest-rank over a copy of ds; zero when ds is empty.
func quantile(ds []time.Duration, q float64) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(ds))
	copy(sorted, ds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(q*float64(len(sorted)-1) + 0.5)
	return sorted[idx]
}
