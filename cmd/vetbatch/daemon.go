package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pawmark/vetbatch/internal/batch"
	"github.com/pawmark/vetbatch/internal/db"
	"github.com/pawmark/vetbatch/internal/exitcode"
	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/store"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the batch scheduler loop",
	Long:  "On each cron tick: sweep stale runs, then open and run a batch for every clinic whose local window is open, has a screening plan, and has not run today.",
	RunE:  runDaemon,
}

func init() {
	f := daemonCmd.Flags()
	f.StringVar(&cfg.Cron, "cron", "*/5 * * * *", "Cron expression for scheduler ticks")
	f.StringVar(&cfg.PlanDir, "plan-dir", "", "Directory of per-clinic screening plans, <clinic_id>.yaml (required)")
	_ = daemonCmd.MarkFlagRequired("plan-dir")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := setup()

	if err := cfg.ValidateWithDSN(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}

	expr, err := cronexpr.Parse(cfg.Cron)
	if err != nil {
		log.Error().Err(err).Str("cron", cfg.Cron).Msg("invalid cron expression")
		os.Exit(exitcode.UsageError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DSN)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	defer pool.Close()
	st := store.New(pool)

	log.Info().Str("cron", cfg.Cron).Str("plan_dir", cfg.PlanDir).Msg("scheduler daemon started")

	for {
		next := expr.Next(time.Now())
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler daemon stopping")
			return nil
		case <-time.After(time.Until(next)):
		}
		tick(ctx, st, log)
	}
}

// tick is one scheduler pass: sweep stale runs, then try every clinic.
// Failures are per-clinic; one clinic never blocks the others.
func tick(ctx context.Context, st *store.Store, log zerolog.Logger) {
	sweeper := batch.NewScheduler(st, nil, cfg.Scheduler)
	if n, err := sweeper.SweepStale(ctx); err != nil {
		log.Error().Err(err).Msg("stale sweep failed")
	} else if n > 0 {
		log.Info().Int("swept", n).Msg("stale runs swept")
	}

	clinics, err := st.ListClinics(ctx)
	if err != nil {
		log.Error().Err(err).Msg("clinic list failed")
		return
	}

	for _, clinic := range clinics {
		if err := tryClinic(ctx, st, clinic); err != nil {
			// Conflicts and closed windows are the normal steady state.
			if errors.Is(err, batch.ErrAlreadyRun) || errors.Is(err, batch.ErrOutsideWindow) {
				continue
			}
			log.Error().Err(err).Int64("clinic_id", clinic.ClinicID).Msg("clinic batch failed")
		}
	}
}

// tryClinic opens and runs one clinic's batch from its plan file.
func tryClinic(ctx context.Context, st *store.Store, clinic model.Clinic) error {
	planPath := filepath.Join(cfg.PlanDir, fmt.Sprintf("%d.yaml", clinic.ClinicID))
	if _, err := os.Stat(planPath); err != nil {
		// No plan staged for this clinic; nothing to run.
		return nil
	}
	plan, err := batch.LoadPlan(planPath)
	if err != nil {
		return err
	}
	if plan.ClinicID != clinic.ClinicID {
		return fmt.Errorf("plan %s: clinic_id %d does not match file", planPath, plan.ClinicID)
	}

	localDate, err := batch.LocalDate(clinic, time.Now())
	if err != nil {
		return err
	}

	reconciler := batch.NewReconciler(st, cfg.Match)
	runner := batch.NewRunner(st, batch.NewPlanScreener(plan), reconciler, cfg.Scheduler)
	sched := batch.NewScheduler(st, runner, cfg.Scheduler)

	handle, err := sched.Open(ctx, clinic.ClinicID, localDate, model.SourceScheduler)
	if err != nil {
		return err
	}
	_, err = sched.Run(ctx, handle, plan.PatientIDs())
	return err
}
