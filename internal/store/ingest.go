package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	embedsql "github.com/pawmark/vetbatch/internal/sql"
)

// RegisterPIMSFile registers an invoice export by content hash. When the file
// was seen before, the existing id and status are returned with already=true;
// the caller decides whether that means skip or re-ingest.
func (s *Store) RegisterPIMSFile(ctx context.Context, clinicID int64, fileName, sha256 string, sizeBytes int64) (id int64, status string, already bool, err error) {
	err = s.pool.QueryRow(ctx, embedsql.RegisterPIMSFile, clinicID, fileName, sha256, sizeBytes).Scan(&id)
	if err == nil {
		return id, "pending", false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, "", false, fmt.Errorf("register pims file: %w", err)
	}

	// ON CONFLICT DO NOTHING returned no rows: the file already exists.
	err = s.pool.QueryRow(ctx, embedsql.LookupPIMSFile, clinicID, sha256).Scan(&id, &status)
	if err != nil {
		return 0, "", false, fmt.Errorf("lookup existing pims file: %w", err)
	}
	return id, status, true, nil
}

// UpdatePIMSStatus advances the status machine of a registered export file.
func (s *Store) UpdatePIMSStatus(ctx context.Context, pimsFileID int64, status string) error {
	_, err := s.pool.Exec(ctx, embedsql.UpdatePIMSStatus, pimsFileID, status)
	if err != nil {
		return fmt.Errorf("update pims status: %w", err)
	}
	return nil
}

// PromoteHeaders upserts invoice headers from a staged batch into the fact
// table, keyed by (clinic, external invoice id).
func (s *Store) PromoteHeaders(ctx context.Context, batchID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, embedsql.PromoteHeaders, batchID)
	if err != nil {
		return 0, fmt.Errorf("promote headers: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PromoteLines upserts invoice lines from a staged batch, preserving any
// reconciliation columns already filled by the matching engine.
func (s *Store) PromoteLines(ctx context.Context, batchID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, embedsql.PromoteLines, batchID)
	if err != nil {
		return 0, fmt.Errorf("promote lines: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteStagingBatch deletes staging rows for a specific ingest batch.
func (s *Store) DeleteStagingBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, embedsql.DeleteStagingBatch, batchID)
	if err != nil {
		return 0, fmt.Errorf("delete staging batch: %w", err)
	}
	return tag.RowsAffected(), nil
}
