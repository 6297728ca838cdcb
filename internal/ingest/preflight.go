package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pawmark/vetbatch/internal/normalize"
	"github.com/pawmark/vetbatch/internal/pimsread"
	"github.com/pawmark/vetbatch/internal/store"
)

// PreflightResult holds all context resolved during the preflight phase.
type PreflightResult struct {
	FilePath   string
	FileSHA256 string
	FileSize   int64

	// ClinicID is the clinic the export belongs to, verified to exist.
	ClinicID int64
	// PIMSFileID is the registration row for this file, inserted or looked
	// up by (clinic_id, sha256).
	PIMSFileID int64
	// IngestBatchID tags this run's staging rows for promote and cleanup.
	IngestBatchID uuid.UUID
	// NumRows is the row count from the Parquet file metadata.
	NumRows int64
	// AlreadyLoaded is true when this exact file content was already promoted
	// for this clinic and force mode is off.
	AlreadyLoaded bool
}

// Preflight hashes the file, validates the Parquet schema, verifies the
// clinic, and registers the file. Registration is content-addressed: the same
// bytes for the same clinic hit the existing row, which is what makes
// re-running the whole pipeline on the same export a no-op.
func Preflight(ctx context.Context, st *store.Store, filePath string, clinicID int64, force bool) (*PreflightResult, error) {
	start := time.Now()

	sha, err := normalize.FileHash(filePath)
	if err != nil {
		return nil, fmt.Errorf("preflight hash: %w", err)
	}

	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("preflight stat: %w", err)
	}

	reader, err := pimsread.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("preflight open: %w", err)
	}
	defer reader.Close()

	if err := pimsread.ValidateSchema(reader.Schema()); err != nil {
		return nil, fmt.Errorf("preflight validate: %w", err)
	}
	numRows := reader.NumRows()

	if _, err := st.GetClinic(ctx, clinicID); err != nil {
		return nil, fmt.Errorf("preflight clinic %d: %w", clinicID, err)
	}

	pimsFileID, alreadyLoaded, err := registerFile(ctx, st, clinicID, filePath, sha, stat.Size(), force)
	if err != nil {
		return nil, fmt.Errorf("preflight register file: %w", err)
	}

	log.Info().
		Str("file", filepath.Base(filePath)).
		Str("sha256", sha).
		Int64("rows", numRows).
		Int64("pims_file_id", pimsFileID).
		Dur("duration", time.Since(start)).
		Msg("preflight complete")

	return &PreflightResult{
		FilePath:      filePath,
		FileSHA256:    sha,
		FileSize:      stat.Size(),
		ClinicID:      clinicID,
		PIMSFileID:    pimsFileID,
		IngestBatchID: uuid.New(),
		NumRows:       numRows,
		AlreadyLoaded: alreadyLoaded,
	}, nil
}

func registerFile(ctx context.Context, st *store.Store, clinicID int64, filePath, sha string, size int64, force bool) (int64, bool, error) {
	id, status, already, err := st.RegisterPIMSFile(ctx, clinicID, filepath.Base(filePath), sha, size)
	if err != nil {
		return 0, false, err
	}
	if !already {
		return id, false, nil
	}

	if !force && status == "promoted" {
		return id, true, nil
	}

	// Reset status for re-ingestion.
	if err := st.UpdatePIMSStatus(ctx, id, "pending"); err != nil {
		return 0, false, fmt.Errorf("reset pims status: %w", err)
	}
	return id, false, nil
}
