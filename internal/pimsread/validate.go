package pimsread

import (
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// requiredColumns are the export columns ingestion cannot proceed without.
// The stable external identifiers are what make re-ingestion idempotent, so
// their absence is a schema error, not a per-row reject.
var requiredColumns = []string{
	"external_invoice_id",
	"external_line_id",
	"dog_id",
	"invoice_date",
	"line_date",
	"description",
	"amount",
}

// ValidateSchema checks that the Parquet schema carries every required
// invoice export column.
func ValidateSchema(schema *parquet.Schema) error {
	columns := make(map[string]bool)
	for _, field := range schema.Fields() {
		columns[strings.ToLower(field.Name())] = true
	}

	var missing []string
	for _, col := range requiredColumns {
		if !columns[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}
