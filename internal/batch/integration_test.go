package batch_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawmark/vetbatch/internal/batch"
	"github.com/pawmark/vetbatch/internal/config"
	"github.com/pawmark/vetbatch/internal/db"
	"github.com/pawmark/vetbatch/internal/logging"
	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/store"
)

const (
	testPort     = 15434
	testDB       = "vetbatchtest"
	testUser     = "postgres"
	testPassword = "postgres"
)

var (
	testDSN string
	pg      *embeddedpostgres.EmbeddedPostgres
)

func TestMain(m *testing.M) {
	testDSN = fmt.Sprintf("postgresql://%s:%s@localhost:%d/%s?sslmode=disable",
		testUser, testPassword, testPort, testDB)

	pg = embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(uint32(testPort)).
			Database(testDB).
			Username(testUser).
			Password(testPassword).
			Version(embeddedpostgres.V16).
			RuntimePath(filepath.Join(os.TempDir(), "vetbatch-pg-batch")).
			StartTimeout(30 * time.Second),
	)

	if err := pg.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start embedded postgres: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := pg.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to stop embedded postgres: %v\n", err)
	}
	os.Exit(code)
}

// setupDB connects, resets all schemas, and applies migrations.
func setupDB(t *testing.T) (*pgxpool.Pool, *store.Store) {
	t.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testDSN)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	for _, schema := range []string{"ops", "vet", "ingest"} {
		if _, err := pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Fatalf("drop schema %s: %v", schema, err)
		}
	}

	log := logging.Setup("text")
	if err := db.ApplyMigrations(ctx, pool, log); err != nil {
		pool.Close()
		t.Fatalf("migrations: %v", err)
	}

	t.Cleanup(func() { pool.Close() })
	return pool, store.New(pool)
}

// fullDayClinic registers a clinic whose window is always open.
func fullDayClinic(t *testing.T, st *store.Store, clinicID int64) model.Clinic {
	t.Helper()
	c := model.Clinic{
		ClinicID:         clinicID,
		Name:             fmt.Sprintf("Clinic %d", clinicID),
		Timezone:         "UTC",
		WindowStartMin:   0,
		WindowEndMin:     1439,
		MaxParallelTasks: 2,
	}
	if err := st.UpsertClinic(context.Background(), c); err != nil {
		t.Fatalf("upsert clinic: %v", err)
	}
	return c
}

func testOpts() config.SchedulerOptions {
	return config.SchedulerOptions{
		MaxRetries:         3,
		RetryBackoff:       5 * time.Millisecond,
		BatchBudget:        time.Minute,
		CancelGrace:        time.Second,
		StaleAfter:         time.Hour,
		HeartbeatInterval:  50 * time.Millisecond,
		DefaultMaxParallel: 2,
	}
}

// stubScreener lets each test script per-patient behavior.
type stubScreener struct {
	screen func(patientID int64, date time.Time) ([]model.InterventionFact, error)
}

func (s *stubScreener) Screen(ctx context.Context, patientID int64, date time.Time) ([]model.InterventionFact, error) {
	return s.screen(patientID, date)
}

// blockingScreener parks every screen until its context is cancelled.
type blockingScreener struct{}

func (blockingScreener) Screen(ctx context.Context, patientID int64, date time.Time) ([]model.InterventionFact, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// oneFact produces a single selected recommendation per patient.
func oneFact(clinicID, patientID int64, date time.Time) []model.InterventionFact {
	return []model.InterventionFact{{
		AppointmentID:   9000 + patientID,
		DogID:           patientID,
		VetID:           clinicID,
		Name:            "Heartworm Test",
		Category:        "preventive",
		Selected:        true,
		ComplianceState: model.ComplianceSelected,
		AppointmentDate: date,
	}}
}

var testDate = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

func TestBatch_PartialFailureAccounting(t *testing.T) {
	_, st := setupDB(t)
	ctx := context.Background()
	clinic := fullDayClinic(t, st, 1)

	screener := &stubScreener{screen: func(pid int64, date time.Time) ([]model.InterventionFact, error) {
		if pid == 3 {
			return nil, &batch.TaskError{Class: "record_corrupt", Transient: false, Err: errors.New("unreadable chart")}
		}
		return oneFact(clinic.ClinicID, pid, date), nil
	}}

	runner := batch.NewRunner(st, screener, nil, testOpts())
	sched := batch.NewScheduler(st, runner, testOpts())

	handle, err := sched.Open(ctx, clinic.ClinicID, testDate, model.SourceManual)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sum, err := sched.Run(ctx, handle, []int64{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Requested != 5 || sum.Succeeded != 4 || sum.Failed != 1 || sum.Skipped != 0 {
		t.Errorf("summary counts: %+v", sum)
	}
	if sum.Succeeded+sum.Failed+sum.Skipped != sum.Requested {
		t.Error("requested != succeeded + failed + skipped")
	}
	if sum.FinalState != model.RunCompletedWithFailures {
		t.Errorf("final state: %s", sum.FinalState)
	}

	run, err := st.LookupBatch(ctx, clinic.ClinicID, testDate)
	if err != nil {
		t.Fatalf("LookupBatch: %v", err)
	}
	if run.Status != model.RunCompletedWithFailures || run.Requested != 5 || run.Succeeded != 4 || run.Failed != 1 {
		t.Errorf("persisted run: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("finished_at not set")
	}

	tasks, err := st.ListTasks(ctx, handle.BatchID)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 5 {
		t.Fatalf("tasks: got %d, want 5", len(tasks))
	}
	for _, task := range tasks {
		if task.PatientID == 3 {
			if task.Status != model.TaskError {
				t.Errorf("patient 3 status: %s", task.Status)
			}
			// A permanent error must fail immediately, without retries.
			if task.Retries != 0 {
				t.Errorf("patient 3 retries: %d, want 0", task.Retries)
			}
			if task.ErrorClass == nil || *task.ErrorClass != "record_corrupt" {
				t.Errorf("patient 3 error class: %v", task.ErrorClass)
			}
		} else if task.Status != model.TaskSuccess {
			t.Errorf("patient %d status: %s", task.PatientID, task.Status)
		} else if got, ok := task.Meta["facts"].(float64); !ok || got != 1 {
			t.Errorf("patient %d meta facts: %v", task.PatientID, task.Meta["facts"])
		}
	}

	// The successful tasks persisted their recommendation snapshots.
	facts, err := st.InterventionsForAppointment(ctx, 9001)
	if err != nil {
		t.Fatalf("InterventionsForAppointment: %v", err)
	}
	if len(facts) != 1 || facts[0].SourceBatchID == nil || *facts[0].SourceBatchID != handle.BatchID {
		t.Errorf("patient 1 facts: %+v", facts)
	}
}

func TestBatch_AlreadyRun(t *testing.T) {
	_, st := setupDB(t)
	ctx := context.Background()
	clinic := fullDayClinic(t, st, 2)

	screener := &stubScreener{screen: func(pid int64, date time.Time) ([]model.InterventionFact, error) {
		return oneFact(clinic.ClinicID, pid, date), nil
	}}
	runner := batch.NewRunner(st, screener, nil, testOpts())
	sched := batch.NewScheduler(st, runner, testOpts())

	handle, err := sched.Open(ctx, clinic.ClinicID, testDate, model.SourceManual)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := sched.Run(ctx, handle, []int64{1}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := sched.Open(ctx, clinic.ClinicID, testDate, model.SourceManual); !errors.Is(err, batch.ErrAlreadyRun) {
		t.Errorf("second Open: got %v, want ErrAlreadyRun", err)
	}

	// A different date is a fresh slot.
	if _, err := sched.Open(ctx, clinic.ClinicID, testDate.AddDate(0, 0, 1), model.SourceManual); err != nil {
		t.Errorf("next-day Open: %v", err)
	}
}

func TestBatch_OutsideWindow(t *testing.T) {
	_, st := setupDB(t)
	ctx := context.Background()

	// A window that never contains the current UTC minute.
	now := time.Now().UTC()
	mins := now.Hour()*60 + now.Minute()
	c := model.Clinic{
		ClinicID:       3,
		Name:           "Closed Clinic",
		Timezone:       "UTC",
		WindowStartMin: (mins + 100) % 1440,
		WindowEndMin:   (mins + 101) % 1440,
	}
	if err := st.UpsertClinic(ctx, c); err != nil {
		t.Fatalf("upsert clinic: %v", err)
	}

	sched := batch.NewScheduler(st, nil, testOpts())
	if _, err := sched.Open(ctx, c.ClinicID, testDate, model.SourceScheduler); !errors.Is(err, batch.ErrOutsideWindow) {
		t.Errorf("Open: got %v, want ErrOutsideWindow", err)
	}

	// Refused before any row was written: the day slot stays free.
	if _, err := st.LookupBatch(ctx, c.ClinicID, testDate); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no batch row, got err=%v", err)
	}
}

func TestBatch_TransientRetries(t *testing.T) {
	_, st := setupDB(t)
	ctx := context.Background()
	clinic := fullDayClinic(t, st, 4)

	attempts := 0
	screener := &stubScreener{screen: func(pid int64, date time.Time) ([]model.InterventionFact, error) {
		attempts++
		if attempts <= 2 {
			return nil, &batch.TaskError{Class: "pims_timeout", Transient: true, Err: errors.New("connection reset")}
		}
		return oneFact(clinic.ClinicID, pid, date), nil
	}}
	runner := batch.NewRunner(st, screener, nil, testOpts())
	sched := batch.NewScheduler(st, runner, testOpts())

	handle, err := sched.Open(ctx, clinic.ClinicID, testDate, model.SourceManual)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sum, err := sched.Run(ctx, handle, []int64{1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Succeeded != 1 || sum.FinalState != model.RunCompleted {
		t.Errorf("summary: %+v", sum)
	}

	tasks, err := st.ListTasks(ctx, handle.BatchID)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != model.TaskSuccess || tasks[0].Retries != 2 {
		t.Errorf("task: %+v", tasks[0])
	}

	// The retry total also lands in the finalized metrics document.
	run, err := st.LookupBatch(ctx, clinic.ClinicID, testDate)
	if err != nil {
		t.Fatalf("LookupBatch: %v", err)
	}
	if got, ok := run.Metrics["total_retries"].(float64); !ok || got != 2 {
		t.Errorf("metrics total_retries: %v", run.Metrics["total_retries"])
	}
}

func TestBatch_SkippedPatients(t *testing.T) {
	_, st := setupDB(t)
	ctx := context.Background()
	clinic := fullDayClinic(t, st, 5)

	screener := &stubScreener{screen: func(pid int64, date time.Time) ([]model.InterventionFact, error) {
		if pid == 2 {
			return nil, batch.ErrNoEligibleWorkflow
		}
		return oneFact(clinic.ClinicID, pid, date), nil
	}}
	runner := batch.NewRunner(st, screener, nil, testOpts())
	sched := batch.NewScheduler(st, runner, testOpts())

	handle, err := sched.Open(ctx, clinic.ClinicID, testDate, model.SourceManual)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sum, err := sched.Run(ctx, handle, []int64{1, 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Succeeded != 1 || sum.Skipped != 1 || sum.Failed != 0 {
		t.Errorf("summary: %+v", sum)
	}
	// Skips are not failures.
	if sum.FinalState != model.RunCompleted {
		t.Errorf("final state: %s", sum.FinalState)
	}
}

func TestBatch_BudgetCancellationFinalizes(t *testing.T) {
	_, st := setupDB(t)
	ctx := context.Background()
	clinic := fullDayClinic(t, st, 8) // max_parallel_tasks = 2

	opts := testOpts()
	opts.BatchBudget = 100 * time.Millisecond
	opts.CancelGrace = 150 * time.Millisecond

	// Two tasks occupy the worker slots and never finish on their own; the
	// third waits for a slot that the budget expiry takes away.
	runner := batch.NewRunner(st, blockingScreener{}, nil, opts)
	sched := batch.NewScheduler(st, runner, opts)

	handle, err := sched.Open(ctx, clinic.ClinicID, testDate, model.SourceScheduler)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sum, err := sched.Run(ctx, handle, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Requested != 3 || sum.Skipped != 3 || sum.Succeeded != 0 || sum.Failed != 0 {
		t.Errorf("summary counts: %+v", sum)
	}
	// Running out of budget is not a failure state.
	if sum.FinalState != model.RunCompleted {
		t.Errorf("final state: %s", sum.FinalState)
	}

	// Every task row reached a terminal state despite the cancelled task
	// context, and the run itself finalized.
	tasks, err := st.ListTasks(ctx, handle.BatchID)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("tasks: got %d, want 3", len(tasks))
	}
	for _, task := range tasks {
		if task.Status != model.TaskSkipped {
			t.Errorf("patient %d status: %s, want skipped", task.PatientID, task.Status)
		}
		if task.FinishedAt == nil {
			t.Errorf("patient %d has no finished_at", task.PatientID)
		}
	}

	run, err := st.LookupBatch(ctx, clinic.ClinicID, testDate)
	if err != nil {
		t.Fatalf("LookupBatch: %v", err)
	}
	if run.Status != model.RunCompleted || run.Requested != 3 || run.Skipped != 3 {
		t.Errorf("persisted run: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("finished_at not set")
	}
}

func TestBatch_SweepStaleAndReopen(t *testing.T) {
	pool, st := setupDB(t)
	ctx := context.Background()
	clinic := fullDayClinic(t, st, 6)

	screener := &stubScreener{screen: func(pid int64, date time.Time) ([]model.InterventionFact, error) {
		return oneFact(clinic.ClinicID, pid, date), nil
	}}
	runner := batch.NewRunner(st, screener, nil, testOpts())
	sched := batch.NewScheduler(st, runner, testOpts())

	handle, err := sched.Open(ctx, clinic.ClinicID, testDate, model.SourceScheduler)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Simulate a crashed run: heartbeat older than the grace period, never
	// finalized.
	if _, err := pool.Exec(ctx,
		"UPDATE ops.batch_runs SET heartbeat_at = now() - interval '2 hours' WHERE batch_id = $1",
		handle.BatchID); err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}

	n, err := sched.SweepStale(ctx)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept: got %d, want 1", n)
	}

	run, err := st.LookupBatch(ctx, clinic.ClinicID, testDate)
	if err != nil {
		t.Fatalf("LookupBatch: %v", err)
	}
	if run.Status != model.RunError {
		t.Fatalf("swept status: %s", run.Status)
	}

	// The day slot is reclaimable now: Open reuses the same row.
	reopened, err := sched.Open(ctx, clinic.ClinicID, testDate, model.SourceManual)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.BatchID != handle.BatchID {
		t.Errorf("reopened batch id %s, want original %s", reopened.BatchID, handle.BatchID)
	}

	sum, err := sched.Run(ctx, reopened, []int64{1, 2})
	if err != nil {
		t.Fatalf("Run after reopen: %v", err)
	}
	if sum.FinalState != model.RunCompleted || sum.Succeeded != 2 {
		t.Errorf("summary after reopen: %+v", sum)
	}

	run, err = st.LookupBatch(ctx, clinic.ClinicID, testDate)
	if err != nil {
		t.Fatalf("LookupBatch after reopen: %v", err)
	}
	if run.Status != model.RunCompleted {
		t.Errorf("final status: %s", run.Status)
	}
	if run.Notes == nil || *run.Notes == "" {
		t.Error("expected sweep/reopen history in notes")
	}
}

func TestBatch_DeleteCascades(t *testing.T) {
	_, st := setupDB(t)
	ctx := context.Background()
	clinic := fullDayClinic(t, st, 7)

	screener := &stubScreener{screen: func(pid int64, date time.Time) ([]model.InterventionFact, error) {
		return oneFact(clinic.ClinicID, pid, date), nil
	}}
	runner := batch.NewRunner(st, screener, nil, testOpts())
	sched := batch.NewScheduler(st, runner, testOpts())

	handle, err := sched.Open(ctx, clinic.ClinicID, testDate, model.SourceManual)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := sched.Run(ctx, handle, []int64{1, 2, 3}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := st.DeleteBatch(ctx, handle.BatchID); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if _, err := st.LookupBatch(ctx, clinic.ClinicID, testDate); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("run not deleted: %v", err)
	}
	tasks, err := st.ListTasks(ctx, handle.BatchID)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("tasks not cascaded: %d left", len(tasks))
	}
}
