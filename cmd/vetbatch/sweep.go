package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pawmark/vetbatch/internal/batch"
	"github.com/pawmark/vetbatch/internal/db"
	"github.com/pawmark/vetbatch/internal/exitcode"
	"github.com/pawmark/vetbatch/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark stale unfinished batch runs as error",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	log := setup()
	ctx := context.Background()

	if err := cfg.ValidateWithDSN(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}

	pool, err := db.NewPool(ctx, cfg.DSN)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	defer pool.Close()

	sched := batch.NewScheduler(store.New(pool), nil, cfg.Scheduler)
	n, err := sched.SweepStale(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sweep failed")
		os.Exit(exitcode.PipelineError)
	}

	fmt.Printf("Swept %d stale batch run(s)\n", n)
	return nil
}
