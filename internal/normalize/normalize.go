package normalize

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pawmark/vetbatch/internal/model"
)

// ToStagingLine converts a Parquet-read InvoiceExportRow into a normalized
// StagingInvoiceLine for the given clinic. Rows with an unparseable invoice
// or line date are rejected rather than silently defaulted, since both dates
// participate in attribution-window checks downstream.
func ToStagingLine(row *model.InvoiceExportRow, batchID uuid.UUID, pimsFileID, clinicID, rowNum int64) (*model.StagingInvoiceLine, error) {
	if row.ExternalInvoiceID == "" {
		return nil, fmt.Errorf("row %d: missing external_invoice_id", rowNum)
	}
	if row.ExternalLineID == "" {
		return nil, fmt.Errorf("row %d: missing external_line_id", rowNum)
	}

	invoiceDate := ParseDate(row.InvoiceDate)
	if invoiceDate == nil {
		return nil, fmt.Errorf("row %d: unparseable invoice_date %q", rowNum, row.InvoiceDate)
	}
	lineDate := ParseDate(row.LineDate)
	if lineDate == nil {
		return nil, fmt.Errorf("row %d: unparseable line_date %q", rowNum, row.LineDate)
	}

	descNorm := NormalizeName(&row.Description)
	if descNorm == nil {
		return nil, fmt.Errorf("row %d: empty description", rowNum)
	}

	currency := "USD"
	if row.Currency != nil && *row.Currency != "" {
		currency = *row.Currency
	}

	quantity := 1.0
	if row.Quantity != nil {
		quantity = *row.Quantity
	}

	s := &model.StagingInvoiceLine{
		IngestBatchID:   batchID,
		PIMSFileID:      pimsFileID,
		SourceRowNumber: rowNum,

		ExternalInvoiceID: row.ExternalInvoiceID,
		ClinicID:          clinicID,
		DogID:             row.DogID,
		InvoiceDate:       *invoiceDate,
		InvoiceTotalCents: AmountToCents(row.InvoiceTotal),
		Currency:          currency,
		Open:              row.Open,

		ExternalLineID:  row.ExternalLineID,
		LineDate:        *lineDate,
		Code:            row.Code,
		CodeNorm:        NormalizeCode(row.Code),
		Description:     row.Description,
		DescriptionNorm: *descNorm,
		Quantity:        quantity,
		AmountCents:     AmountToCents(row.Amount),
	}

	// Stable content hash over the identifying fields; re-ingesting the same
	// export must produce the same hash per line.
	s.SourceRowHash = RowHash(rowNum,
		row.ExternalInvoiceID,
		row.ExternalLineID,
		row.Description,
		derefStr(row.Code),
		row.LineDate,
	)

	return s, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
