package ingest

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pawmark/vetbatch/internal/store"
)

// Cleanup deletes the staging rows of one ingest batch.
func Cleanup(ctx context.Context, st *store.Store, batchID uuid.UUID) error {
	deleted, err := st.DeleteStagingBatch(ctx, batchID)
	if err != nil {
		return err
	}
	log.Info().
		Int64("rows_deleted", deleted).
		Str("ingest_batch_id", batchID.String()).
		Msg("staging cleaned up")
	return nil
}
