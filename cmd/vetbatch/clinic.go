package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pawmark/vetbatch/internal/db"
	"github.com/pawmark/vetbatch/internal/exitcode"
	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/store"
)

var clinicFlags struct {
	id       int64
	name     string
	timezone string
	start    int
	end      int
	parallel int
	pims     string
}

var clinicCmd = &cobra.Command{
	Use:   "clinic",
	Short: "Manage clinic scheduling configuration",
}

var clinicSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update a clinic",
	RunE:  runClinicSet,
}

var clinicListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clinics",
	RunE:  runClinicList,
}

func init() {
	f := clinicSetCmd.Flags()
	f.Int64Var(&clinicFlags.id, "id", 0, "Clinic id (required)")
	f.StringVar(&clinicFlags.name, "name", "", "Clinic name (required)")
	f.StringVar(&clinicFlags.timezone, "timezone", "America/New_York", "IANA timezone name")
	f.IntVar(&clinicFlags.start, "window-start", 60, "Batch window start, minutes past local midnight")
	f.IntVar(&clinicFlags.end, "window-end", 300, "Batch window end, minutes past local midnight")
	f.IntVar(&clinicFlags.parallel, "max-parallel", 0, "Max parallel screening tasks (0 = scheduler default)")
	f.StringVar(&clinicFlags.pims, "pims", "", "PIMS vendor name")
	_ = clinicSetCmd.MarkFlagRequired("id")
	_ = clinicSetCmd.MarkFlagRequired("name")

	clinicCmd.AddCommand(clinicSetCmd, clinicListCmd)
	rootCmd.AddCommand(clinicCmd)
}

func runClinicSet(cmd *cobra.Command, args []string) error {
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

	c := model.Clinic{
		ClinicID:         clinicFlags.id,
		Name:             clinicFlags.name,
		Timezone:         clinicFlags.timezone,
		WindowStartMin:   clinicFlags.start,
		WindowEndMin:     clinicFlags.end,
		MaxParallelTasks: clinicFlags.parallel,
	}
	if clinicFlags.pims != "" {
		c.PIMS = &clinicFlags.pims
	}
	if err := store.New(pool).UpsertClinic(ctx, c); err != nil {
		log.Error().Err(err).Msg("clinic upsert failed")
		os.Exit(exitcode.PipelineError)
	}
	fmt.Printf("Clinic %d (%s) saved\n", c.ClinicID, c.Name)
	return nil
}

func runClinicList(cmd *cobra.Command, args []string) error {
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

	clinics, err := store.New(pool).ListClinics(ctx)
	if err != nil {
		log.Error().Err(err).Msg("clinic list failed")
		os.Exit(exitcode.PipelineError)
	}

	for _, c := range clinics {
		fmt.Printf("%-6d %-30s %-20s window %02d:%02d-%02d:%02d parallel=%d\n",
			c.ClinicID, c.Name, c.Timezone,
			c.WindowStartMin/60, c.WindowStartMin%60,
			c.WindowEndMin/60, c.WindowEndMin%60,
			c.MaxParallelTasks)
	}
	return nil
}
