package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawmark/vetbatch/internal/db"
	"github.com/pawmark/vetbatch/internal/exitcode"
	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show batch and task state for a clinic and date",
	RunE:  runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.Int64Var(&cfg.ClinicID, "clinic", 0, "Clinic id (required)")
	f.StringVar(&cfg.Date, "date", "", "Clinic-local date YYYY-MM-DD (required)")
	_ = statusCmd.MarkFlagRequired("clinic")
	_ = statusCmd.MarkFlagRequired("date")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	log := setup()
	ctx := context.Background()

	if err := cfg.ValidateWithDSN(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}
	date, err := time.Parse("2006-01-02", cfg.Date)
	if err != nil {
		log.Error().Err(err).Msg("invalid --date")
		os.Exit(exitcode.UsageError)
	}

	pool, err := db.NewPool(ctx, cfg.DSN)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	defer pool.Close()
	st := store.New(pool)

	run, err := st.LookupBatch(ctx, cfg.ClinicID, date.UTC())
	if errors.Is(err, store.ErrNotFound) {
		fmt.Printf("No batch ran for clinic %d on %s\n", cfg.ClinicID, cfg.Date)
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("batch lookup failed")
		os.Exit(exitcode.PipelineError)
	}

	fmt.Printf("Batch:     %s\n", run.BatchID)
	fmt.Printf("Status:    %s%s\n", run.Status, staleSuffix(run))
	fmt.Printf("Source:    %s\n", run.Source)
	fmt.Printf("Counts:    %d requested, %d succeeded, %d failed, %d skipped\n",
		run.Requested, run.Succeeded, run.Failed, run.Skipped)
	fmt.Printf("Started:   %s\n", run.StartedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Printf("Finished:  %s\n", run.FinishedAt.Format(time.RFC3339))
	}
	if run.P50MS != nil && run.P95MS != nil {
		fmt.Printf("Task time: p50 %dms, p95 %dms\n", *run.P50MS, *run.P95MS)
	}
	if run.Notes != nil && *run.Notes != "" {
		fmt.Printf("Notes:     %s\n", *run.Notes)
	}

	tasks, err := st.ListTasks(ctx, run.BatchID)
	if err != nil {
		log.Error().Err(err).Msg("task list failed")
		os.Exit(exitcode.PipelineError)
	}
	if len(tasks) > 0 {
		fmt.Println("\nTasks:")
		for _, t := range tasks {
			line := fmt.Sprintf("  patient %-8d %-9s retries=%d", t.PatientID, t.Status, t.Retries)
			if t.DurationMS != nil {
				line += fmt.Sprintf(" %dms", *t.DurationMS)
			}
			if t.ErrorClass != nil {
				line += fmt.Sprintf(" [%s]", *t.ErrorClass)
			}
			fmt.Println(line)
		}
	}
	return nil
}

// staleSuffix flags a running batch whose heartbeat has gone quiet.
func staleSuffix(run *model.BatchRun) string {
	if run.Status == model.RunRunning && time.Since(run.HeartbeatAt) > cfg.Scheduler.StaleAfter {
		return " (stale: no heartbeat since " + run.HeartbeatAt.Format(time.RFC3339) + ")"
	}
	return ""
}
