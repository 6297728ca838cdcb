package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pawmark/vetbatch/internal/db"
	"github.com/pawmark/vetbatch/internal/exitcode"
	"github.com/pawmark/vetbatch/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the recommendation-to-billing compliance view for a clinic",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().Int64Var(&cfg.ClinicID, "clinic", 0, "Clinic id (required)")
	_ = reportCmd.MarkFlagRequired("clinic")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
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

	links, err := store.New(pool).LinksForClinic(ctx, cfg.ClinicID)
	if err != nil {
		log.Error().Err(err).Msg("report query failed")
		os.Exit(exitcode.PipelineError)
	}

	if len(links) == 0 {
		fmt.Printf("No appointment-invoice links for clinic %d\n", cfg.ClinicID)
		return nil
	}

	var totalPR, totalRR int64
	fmt.Printf("%-14s %-12s %7s %7s %12s %12s %4s\n",
		"appointment", "invoice", "lines", "matched", "billed", "missed", "win")
	for _, l := range links {
		win := ""
		if l.AttributionWin {
			win = "yes"
		}
		fmt.Printf("%-14d %-12d %7d %7d %12s %12s %4s\n",
			l.AppointmentID, l.InvoiceID, l.LineCount, l.MatchedCount,
			dollars(l.PRAmountCents), dollars(l.RRAmountCents), win)
		totalPR += l.PRAmountCents
		totalRR += l.RRAmountCents
	}
	fmt.Printf("\nTotal recommended-and-billed: %s\n", dollars(totalPR))
	fmt.Printf("Total recommended-not-billed: %s\n", dollars(totalRR))
	return nil
}

func dollars(cents int64) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}
