// Package attribution rolls matched facts up into per-(appointment, invoice)
// aggregates. Compute is pure; Aggregator persists its output through the
// idempotent link upsert, so recomputing after new matches lands on the same
// row with fresh numbers.
package attribution

import (
	"context"
	"fmt"

	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/store"
)

// Summary is the computed aggregate for one appointment/invoice pair before
// it is written to vet.appt_invoice_links.
type Summary struct {
	VetID         int64
	AppointmentID int64
	InvoiceID     int64

	// PRAmountCents is billed revenue attributable to recommendations: the
	// sum of matched line amounts across this appointment's interventions
	// that resolved to this invoice.
	PRAmountCents int64

	// RRAmountCents is recommended-but-not-billed revenue: estimates of
	// selected interventions that found no invoice line anywhere.
	RRAmountCents int64

	LineCount      int
	MatchedCount   int
	AttributionWin bool
}

// Compute derives the aggregate from one appointment's interventions and one
// invoice's lines. Interventions matched to a different invoice contribute
// nothing to PR here; unmatched selected ones contribute their estimate to RR
// regardless, since RR is a property of the appointment, not the invoice.
func Compute(vetID, appointmentID, invoiceID int64, interventions []model.InterventionFact, lines []model.InvoiceLineFact) Summary {
	s := Summary{
		VetID:         vetID,
		AppointmentID: appointmentID,
		InvoiceID:     invoiceID,
		LineCount:     len(lines),
	}

	for _, f := range interventions {
		switch {
		case f.MatchedInvoiceID != nil && *f.MatchedInvoiceID == invoiceID:
			if f.MatchedCents != nil {
				s.PRAmountCents += *f.MatchedCents
			}
		case f.MatchedInvoiceID == nil && f.Selected:
			if f.EstimatedCents != nil {
				s.RRAmountCents += *f.EstimatedCents
			}
		}
	}

	for _, l := range lines {
		if l.AttributedToPtr {
			s.MatchedCount++
		}
		if l.AttributionWin {
			s.AttributionWin = true
		}
	}
	return s
}

// Link converts the summary into its storage shape.
func (s Summary) Link() model.ApptInvoiceLink {
	return model.ApptInvoiceLink{
		VetID:          s.VetID,
		AppointmentID:  s.AppointmentID,
		InvoiceID:      s.InvoiceID,
		PRAmountCents:  s.PRAmountCents,
		RRAmountCents:  s.RRAmountCents,
		LineCount:      s.LineCount,
		MatchedCount:   s.MatchedCount,
		AttributionWin: s.AttributionWin,
	}
}

// Aggregator recomputes and persists link rows.
type Aggregator struct {
	store *store.Store
}

func New(st *store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Aggregate loads the appointment's interventions and the invoice's lines,
// computes the summary, and upserts the link row. Calling it again after a
// reconcile pass simply overwrites the aggregate with current values.
func (a *Aggregator) Aggregate(ctx context.Context, vetID, appointmentID, invoiceID int64) (Summary, error) {
	interventions, err := a.store.InterventionsForAppointment(ctx, appointmentID)
	if err != nil {
		return Summary{}, fmt.Errorf("aggregate appointment %d: %w", appointmentID, err)
	}
	lines, err := a.store.LinesForInvoice(ctx, invoiceID)
	if err != nil {
		return Summary{}, fmt.Errorf("aggregate invoice %d: %w", invoiceID, err)
	}

	sum := Compute(vetID, appointmentID, invoiceID, interventions, lines)
	if err := a.store.UpsertLink(ctx, sum.Link()); err != nil {
		return Summary{}, fmt.Errorf("aggregate link upsert: %w", err)
	}
	return sum, nil
}
