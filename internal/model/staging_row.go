package model

import (
	"time"

	"github.com/google/uuid"
)

// StagingInvoiceLine is the normalized, DB-ready representation of one
// invoice export row. Money values are stored as int64 cents.
type StagingInvoiceLine struct {
	IngestBatchID uuid.UUID
	PIMSFileID    int64

	SourceRowNumber int64
	SourceRowHash   []byte

	// Header fields
	ExternalInvoiceID string
	ClinicID          int64
	DogID             int64
	InvoiceDate       time.Time
	InvoiceTotalCents int64
	Currency          string
	Open              bool

	// Line fields
	ExternalLineID  string
	LineDate        time.Time
	Code            *string
	CodeNorm        *string
	Description     string
	DescriptionNorm string
	Quantity        float64
	AmountCents     int64
}

// StagingColumns returns the ordered column names for COPY into
// ingest.stage_invoice_lines.
func StagingColumns() []string {
	return []string{
		"ingest_batch_id",
		"pims_file_id",
		"source_row_number",
		"source_row_hash",
		"external_invoice_id",
		"clinic_id",
		"dog_id",
		"invoice_date",
		"invoice_total_cents",
		"currency",
		"open",
		"external_line_id",
		"line_date",
		"code",
		"code_norm",
		"description",
		"description_norm",
		"quantity",
		"amount_cents",
	}
}

// CopyValues returns the row values in the same order as StagingColumns(),
// suitable for pgx CopyFromSource.
func (r *StagingInvoiceLine) CopyValues() []any {
	return []any{
		r.IngestBatchID,
		r.PIMSFileID,
		r.SourceRowNumber,
		r.SourceRowHash,
		r.ExternalInvoiceID,
		r.ClinicID,
		r.DogID,
		r.InvoiceDate,
		r.InvoiceTotalCents,
		r.Currency,
		r.Open,
		r.ExternalLineID,
		r.LineDate,
		r.Code,
		r.CodeNorm,
		r.Description,
		r.DescriptionNorm,
		r.Quantity,
		r.AmountCents,
	}
}
