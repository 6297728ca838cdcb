package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawmark/vetbatch/internal/batch"
	"github.com/pawmark/vetbatch/internal/db"
	"github.com/pawmark/vetbatch/internal/exitcode"
	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a screening batch for one clinic from a screening plan file",
	RunE:  runBatch,
}

func init() {
	f := runCmd.Flags()
	f.Int64Var(&cfg.ClinicID, "clinic", 0, "Clinic id (required)")
	f.StringVar(&cfg.Date, "date", "", "Clinic-local date YYYY-MM-DD (default: clinic's current local date)")
	f.StringVar(&cfg.Source, "source", string(model.SourceManual), "Run source: manual, scheduler, or api")
	f.StringVar(&cfg.PlanPath, "plan", "", "Screening plan YAML file (required)")
	_ = runCmd.MarkFlagRequired("clinic")
	_ = runCmd.MarkFlagRequired("plan")
	rootCmd.AddCommand(runCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := setup()
	ctx := context.Background()

	if err := cfg.ValidateWithDSN(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}

	plan, err := batch.LoadPlan(cfg.PlanPath)
	if err != nil {
		log.Error().Err(err).Msg("screening plan invalid")
		os.Exit(exitcode.ValidationError)
	}
	if plan.ClinicID != cfg.ClinicID {
		log.Error().
			Int64("plan_clinic", plan.ClinicID).
			Int64("flag_clinic", cfg.ClinicID).
			Msg("plan clinic does not match --clinic")
		os.Exit(exitcode.ValidationError)
	}

	pool, err := db.NewPool(ctx, cfg.DSN)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	defer pool.Close()
	st := store.New(pool)

	reconciler := batch.NewReconciler(st, cfg.Match)
	runner := batch.NewRunner(st, batch.NewPlanScreener(plan), reconciler, cfg.Scheduler)
	sched := batch.NewScheduler(st, runner, cfg.Scheduler)

	clinic, err := st.GetClinic(ctx, cfg.ClinicID)
	if err != nil {
		log.Error().Err(err).Int64("clinic_id", cfg.ClinicID).Msg("clinic lookup failed")
		os.Exit(exitcode.ValidationError)
	}

	localDate, err := resolveDate(*clinic, cfg.Date)
	if err != nil {
		log.Error().Err(err).Msg("invalid --date")
		os.Exit(exitcode.UsageError)
	}

	handle, err := sched.Open(ctx, cfg.ClinicID, localDate, model.RunSource(cfg.Source))
	if err != nil {
		switch {
		case errors.Is(err, batch.ErrAlreadyRun):
			log.Error().Err(err).Msg("batch already ran")
			os.Exit(exitcode.ConflictError)
		case errors.Is(err, batch.ErrOutsideWindow):
			log.Error().Err(err).Msg("outside clinic batch window")
			os.Exit(exitcode.WindowError)
		default:
			log.Error().Err(err).Msg("failed to open batch")
			os.Exit(exitcode.PipelineError)
		}
	}

	sum, err := sched.Run(ctx, handle, plan.PatientIDs())
	if err != nil {
		log.Error().Err(err).Str("batch_id", handle.BatchID.String()).Msg("batch run failed")
		os.Exit(exitcode.PipelineError)
	}

	fmt.Printf("Batch %s: %d requested, %d succeeded, %d failed, %d skipped (%s)\n",
		handle.BatchID, sum.Requested, sum.Succeeded, sum.Failed, sum.Skipped, sum.FinalState)
	if sum.Failed > 0 {
		os.Exit(exitcode.PartialSuccess)
	}
	return nil
}

// resolveDate parses an explicit YYYY-MM-DD or falls back to the clinic's
// current local date.
func resolveDate(clinic model.Clinic, date string) (time.Time, error) {
	if date == "" {
		return batch.LocalDate(clinic, time.Now())
	}
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return t.UTC(), nil
}
