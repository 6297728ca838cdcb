package model

// InvoiceExportRow mirrors the Parquet schema of a normalized PIMS invoice
// export: one row per invoice line, with the header fields denormalized onto
// every line. Money fields are float64 matching the Parquet representation;
// they get converted to integer cents during normalization.
type InvoiceExportRow struct {
	// Header fields, repeated on every line of the invoice.
	ExternalInvoiceID string  `parquet:"external_invoice_id"`
	DogID             int64   `parquet:"dog_id"`
	InvoiceDate       string  `parquet:"invoice_date"`
	InvoiceTotal      float64 `parquet:"invoice_total"`
	Currency          *string `parquet:"currency,optional"`
	Open              bool    `parquet:"open"`

	// Line fields.
	ExternalLineID string   `parquet:"external_line_id"`
	LineDate       string   `parquet:"line_date"`
	Code           *string  `parquet:"code,optional"`
	Description    string   `parquet:"description"`
	Quantity       *float64 `parquet:"quantity,optional"`
	Amount         float64  `parquet:"amount"`
}
