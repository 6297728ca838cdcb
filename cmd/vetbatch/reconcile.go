package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawmark/vetbatch/internal/batch"
	"github.com/pawmark/vetbatch/internal/db"
	"github.com/pawmark/vetbatch/internal/exitcode"
	"github.com/pawmark/vetbatch/internal/store"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-run recommendation-to-billing matching",
	Long:  "Re-runs the matching pass for one appointment (--appointment) or every appointment of a clinic on a date (--clinic --date). Safe to repeat after new invoice exports land.",
	RunE:  runReconcile,
}

func init() {
	f := reconcileCmd.Flags()
	f.Int64Var(&cfg.AppointmentID, "appointment", 0, "Appointment id to reconcile")
	f.Int64Var(&cfg.ClinicID, "clinic", 0, "Clinic id (with --date)")
	f.StringVar(&cfg.Date, "date", "", "Clinic-local date YYYY-MM-DD (with --clinic)")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	log := setup()
	ctx := context.Background()

	if err := cfg.ValidateWithDSN(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}
	if cfg.AppointmentID == 0 && (cfg.ClinicID == 0 || cfg.Date == "") {
		log.Error().Msg("either --appointment or --clinic with --date is required")
		os.Exit(exitcode.UsageError)
	}

	pool, err := db.NewPool(ctx, cfg.DSN)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	defer pool.Close()

	reconciler := batch.NewReconciler(store.New(pool), cfg.Match)

	if cfg.AppointmentID != 0 {
		if err := reconciler.ReconcileAppointment(ctx, cfg.AppointmentID); err != nil {
			log.Error().Err(err).Msg("reconcile failed")
			os.Exit(exitcode.PipelineError)
		}
		fmt.Printf("Reconciled appointment %d\n", cfg.AppointmentID)
		return nil
	}

	date, err := time.Parse("2006-01-02", cfg.Date)
	if err != nil {
		log.Error().Err(err).Msg("invalid --date")
		os.Exit(exitcode.UsageError)
	}
	n, err := reconciler.ReconcileClinicDate(ctx, cfg.ClinicID, date.UTC())
	if err != nil {
		log.Error().Err(err).Msg("reconcile failed")
		os.Exit(exitcode.PipelineError)
	}
	fmt.Printf("Reconciled %d appointment(s) for clinic %d on %s\n", n, cfg.ClinicID, cfg.Date)
	return nil
}
