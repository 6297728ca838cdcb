package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pawmark/vetbatch/internal/config"
	"github.com/pawmark/vetbatch/internal/exitcode"
	"github.com/pawmark/vetbatch/internal/logging"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "vetbatch",
	Short: "Nightly per-clinic screening batches and billing reconciliation",
	Long:  "Runs per-clinic patient screening batches, ingests PIMS invoice exports, and reconciles surfaced recommendations against billed invoice lines in Postgres.",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.DSN, "dsn", os.Getenv("DATABASE_URL"), "Postgres connection string (or set DATABASE_URL)")
	pf.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&cfg.TuningFile, "config", "", "Optional YAML tuning file (match + scheduler parameters)")
}

// setup initializes logging and the tuning configuration. Exits on an
// invalid tuning file; every command calls it first.
func setup() zerolog.Logger {
	log := logging.Setup(cfg.LogFormat)

	if cfg.TuningFile != "" {
		if err := cfg.LoadFromFile(cfg.TuningFile); err != nil {
			log.Error().Err(err).Str("file", cfg.TuningFile).Msg("tuning config invalid")
			os.Exit(exitcode.UsageError)
		}
	} else {
		cfg.ApplyDefaults()
	}
	return log
}
