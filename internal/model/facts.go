package model

import (
	"time"

	"github.com/google/uuid"
)

// ComplianceState describes what happened to a recommendation during the
// appointment it was surfaced at.
type ComplianceState string

const (
	ComplianceSelected    ComplianceState = "selected"
	ComplianceDeclined    ComplianceState = "declined"
	ComplianceDiscussed   ComplianceState = "discussed"
	ComplianceNotSelected ComplianceState = "not_selected"
)

// MatchTier is the discrete confidence bucket assigned to a scored match.
// Zero means unmatched.
type MatchTier int16

const (
	TierUnmatched MatchTier = 0
	TierExact     MatchTier = 1 // exact normalized code match
	TierHigh      MatchTier = 2 // fuzzy match at or above the tier-2 threshold
	TierLow       MatchTier = 3 // candidate between the floor and the threshold
)

// Clinic carries the per-clinic scheduling configuration consumed by the
// batch scheduler. Timezone is an IANA name, window bounds are minutes past
// local midnight.
type Clinic struct {
	ClinicID         int64
	Name             string
	Timezone         string
	WindowStartMin   int
	WindowEndMin     int
	MaxParallelTasks int
	PIMS             *string
}

// InterventionFact is an immutable snapshot of a recommendation surfaced
// (and possibly selected) during an appointment. Only the Matched* and
// MatchScore reconciliation fields are ever updated after creation.
type InterventionFact struct {
	FactID        int64
	AppointmentID int64
	DogID         int64
	VetID         int64

	Name            string
	Category        string
	Subcategory     *string
	ServiceCode     *string
	EstimatedCents  *int64
	Selected        bool
	ComplianceState ComplianceState
	AppointmentDate time.Time

	SourceBatchID *uuid.UUID

	// Reconciliation fields, filled in by the matching engine.
	MatchedInvoiceID *int64
	MatchedLineID    *int64
	MatchedCents     *int64
	MatchScore       *float64
}

// InvoiceHeaderFact is an immutable snapshot of a PIMS invoice header.
type InvoiceHeaderFact struct {
	InvoiceID         int64
	ExternalInvoiceID string
	ClinicID          int64
	DogID             int64
	InvoiceDate       time.Time // clinic-local calendar date
	TotalCents        int64
	Currency          string
	Open              bool
	SourceFileID      *int64
}

// InvoiceLineFact is an immutable snapshot of one PIMS invoice line.
// Only the reconciliation fields (RecoName through AttributionWin) are
// owned and mutated by the matching engine.
type InvoiceLineFact struct {
	LineID         int64
	InvoiceID      int64
	ExternalLineID string

	LineDate        time.Time
	Code            *string
	CodeNorm        *string
	Description     string
	DescriptionNorm string
	Quantity        float64
	AmountCents     int64
	RowHash         []byte

	// Reconciliation fields.
	RecoName        *string
	MatchTier       MatchTier
	MatchScore      *float64
	AttributedToPtr bool
	AttributionWin  bool
}

// ApptInvoiceLink is the derived, idempotently upserted aggregate linking an
// appointment to an invoice. It is a materialized view over matched lines,
// not a source of truth.
type ApptInvoiceLink struct {
	VetID         int64
	AppointmentID int64
	InvoiceID     int64

	PRAmountCents int64 // recommended and billed
	RRAmountCents int64 // recommended but not billed
	LineCount     int
	MatchedCount  int

	AttributionWin bool
	UpdatedAt      time.Time
}
