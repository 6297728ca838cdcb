package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pawmark/vetbatch/internal/db"
	"github.com/pawmark/vetbatch/internal/exitcode"
	"github.com/pawmark/vetbatch/internal/ingest"
	"github.com/pawmark/vetbatch/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a PIMS invoice export (Parquet) into the fact tables",
	RunE:  runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&cfg.FilePath, "file", "", "Path to Parquet invoice export (required)")
	f.Int64Var(&cfg.ClinicID, "clinic", 0, "Clinic id the export belongs to (required)")
	f.BoolVar(&cfg.Force, "force", false, "Re-ingest even if file SHA already exists")
	f.BoolVar(&cfg.KeepStaging, "keep-staging", false, "Keep staging rows after promote")
	_ = ingestCmd.MarkFlagRequired("file")
	_ = ingestCmd.MarkFlagRequired("clinic")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	log := setup()
	ctx := context.Background()

	if err := cfg.ValidateWithDSN(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}
	if err := cfg.ValidateIngest(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}

	pool, err := db.NewPool(ctx, cfg.DSN)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	defer pool.Close()

	summary, err := ingest.Run(ctx, store.New(pool), &cfg)
	if err != nil {
		var pe *ingest.PipelineError
		if errors.As(err, &pe) {
			log.Error().Err(pe.Err).Str("phase", pe.Phase).Msg("ingest failed")
			if pe.Phase == "preflight" {
				os.Exit(exitcode.ValidationError)
			}
			os.Exit(exitcode.PipelineError)
		}
		log.Error().Err(err).Msg("ingest failed")
		os.Exit(exitcode.PipelineError)
	}

	fmt.Printf("Ingest complete: %d rows staged, %d headers, %d lines promoted (%.1fs)\n",
		summary.RowsStaged, summary.HeadersPromoted, summary.LinesPromoted,
		summary.DurationTotal.Seconds())
	return nil
}
