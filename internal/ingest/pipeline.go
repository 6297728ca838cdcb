// Package ingest loads PIMS invoice exports into the fact tables:
// preflight -> stage -> promote -> cleanup. Each phase is resumable; the
// pims_files status machine records how far a file got.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pawmark/vetbatch/internal/config"
	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/store"
)

// PipelineError wraps an error with the phase where it occurred.
type PipelineError struct {
	Phase string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Run executes the full ingest pipeline for one invoice export file.
func Run(ctx context.Context, st *store.Store, cfg *config.Config) (*model.IngestSummary, error) {
	totalStart := time.Now()

	log.Info().Str("file", cfg.FilePath).Int64("clinic_id", cfg.ClinicID).Msg("starting preflight")
	pf, err := Preflight(ctx, st, cfg.FilePath, cfg.ClinicID, cfg.Force)
	if err != nil {
		return nil, &PipelineError{Phase: "preflight", Err: err}
	}

	if pf.AlreadyLoaded {
		log.Info().
			Int64("pims_file_id", pf.PIMSFileID).
			Str("sha256", pf.FileSHA256).
			Msg("file already ingested, skipping (use --force to re-ingest)")
		return &model.IngestSummary{
			FilePath:      pf.FilePath,
			FileSHA256:    pf.FileSHA256,
			PIMSFileID:    pf.PIMSFileID,
			IngestBatchID: pf.IngestBatchID.String(),
			DurationTotal: time.Since(totalStart),
		}, nil
	}

	log.Info().Msg("starting staging")
	if err := st.UpdatePIMSStatus(ctx, pf.PIMSFileID, "staging"); err != nil {
		return nil, &PipelineError{Phase: "stage", Err: err}
	}

	stageResult, err := Stage(ctx, st, pf)
	if err != nil {
		_ = st.UpdatePIMSStatus(ctx, pf.PIMSFileID, "failed")
		return nil, &PipelineError{Phase: "stage", Err: err}
	}

	if err := st.UpdatePIMSStatus(ctx, pf.PIMSFileID, "staged"); err != nil {
		return nil, &PipelineError{Phase: "stage", Err: err}
	}

	log.Info().Msg("starting promote")
	if err := st.UpdatePIMSStatus(ctx, pf.PIMSFileID, "promoting"); err != nil {
		return nil, &PipelineError{Phase: "promote", Err: err}
	}

	promoteResult, err := Promote(ctx, st, pf)
	if err != nil {
		_ = st.UpdatePIMSStatus(ctx, pf.PIMSFileID, "failed")
		return nil, &PipelineError{Phase: "promote", Err: err}
	}

	if err := st.UpdatePIMSStatus(ctx, pf.PIMSFileID, "promoted"); err != nil {
		return nil, &PipelineError{Phase: "promote", Err: err}
	}

	if !cfg.KeepStaging {
		log.Info().Msg("cleaning up staging")
		if err := Cleanup(ctx, st, pf.IngestBatchID); err != nil {
			log.Warn().Err(err).Msg("staging cleanup failed (non-fatal)")
		}
	}

	summary := &model.IngestSummary{
		FilePath:        pf.FilePath,
		FileSHA256:      pf.FileSHA256,
		PIMSFileID:      pf.PIMSFileID,
		IngestBatchID:   pf.IngestBatchID.String(),
		RowsRead:        stageResult.RowsRead,
		RowsStaged:      stageResult.RowsStaged,
		RowsRejected:    stageResult.RowsRejected,
		HeadersPromoted: promoteResult.Headers,
		LinesPromoted:   promoteResult.Lines,
		DurationStage:   stageResult.Duration,
		DurationPromote: promoteResult.Duration,
		DurationTotal:   time.Since(totalStart),
	}

	log.Info().
		Int64("rows_read", summary.RowsRead).
		Int64("rows_staged", summary.RowsStaged).
		Int64("rows_rejected", summary.RowsRejected).
		Int64("headers_promoted", summary.HeadersPromoted).
		Int64("lines_promoted", summary.LinesPromoted).
		Str("total_duration", summary.DurationTotal.String()).
		Msg("ingest pipeline complete")

	return summary, nil
}
