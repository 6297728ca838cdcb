package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pawmark/vetbatch/internal/store"
)

// PromoteResult holds metrics from the promote phase.
type PromoteResult struct {
	Headers  int64
	Lines    int64
	Duration time.Duration
}

// Promote upserts staged rows into the fact tables: headers first (lines
// reference them), keyed by the stable external ids. Re-promoting the same
// batch lands on the same fact rows, and the line upsert preserves any
// reconciliation columns the matching engine already filled.
func Promote(ctx context.Context, st *store.Store, pf *PreflightResult) (*PromoteResult, error) {
	start := time.Now()

	headers, err := st.PromoteHeaders(ctx, pf.IngestBatchID)
	if err != nil {
		return nil, fmt.Errorf("promote headers: %w", err)
	}

	lines, err := st.PromoteLines(ctx, pf.IngestBatchID)
	if err != nil {
		return nil, fmt.Errorf("promote lines: %w", err)
	}

	dur := time.Since(start)
	log.Info().
		Int64("headers", headers).
		Int64("lines", lines).
		Str("duration", dur.String()).
		Msg("promote complete")

	return &PromoteResult{Headers: headers, Lines: lines, Duration: dur}, nil
}
