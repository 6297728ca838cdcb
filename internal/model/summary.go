package model

import "time"

// IngestSummary captures metrics from a single invoice export ingest run.
type IngestSummary struct {
	FilePath        string
	FileSHA256      string
	PIMSFileID      int64
	IngestBatchID   string
	RowsRead        int64
	RowsStaged      int64
	RowsRejected    int64
	HeadersPromoted int64
	LinesPromoted   int64
	DurationStage   time.Duration
	DurationPromote time.Duration
	DurationTotal   time.Duration
}
