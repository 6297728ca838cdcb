package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pawmark/vetbatch/internal/model"
	embedsql "github.com/pawmark/vetbatch/internal/sql"
)

// UpsertIntervention writes a recommendation snapshot, keyed by
// (appointment, name) so re-running a screening task is idempotent. The
// reconciliation columns are never touched here.
func (s *Store) UpsertIntervention(ctx context.Context, f *model.InterventionFact) (int64, error) {
	var factID int64
	err := s.pool.QueryRow(ctx, embedsql.UpsertIntervention,
		f.AppointmentID, f.DogID, f.VetID, f.Name, f.Category, f.Subcategory,
		f.ServiceCode, f.EstimatedCents, f.Selected, string(f.ComplianceState),
		f.AppointmentDate, f.SourceBatchID,
	).Scan(&factID)
	if err != nil {
		return 0, fmt.Errorf("upsert intervention: %w", err)
	}
	return factID, nil
}

// InterventionsForAppointment returns all recommendation snapshots of one
// appointment, ordered by fact id.
func (s *Store) InterventionsForAppointment(ctx context.Context, appointmentID int64) ([]model.InterventionFact, error) {
	rows, err := s.pool.Query(ctx, embedsql.InterventionsForAppt, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("interventions for appointment: %w", err)
	}
	defer rows.Close()

	var facts []model.InterventionFact
	for rows.Next() {
		var (
			f     model.InterventionFact
			state string
		)
		if err := rows.Scan(&f.FactID, &f.AppointmentID, &f.DogID, &f.VetID,
			&f.Name, &f.Category, &f.Subcategory, &f.ServiceCode,
			&f.EstimatedCents, &f.Selected, &state, &f.AppointmentDate,
			&f.SourceBatchID, &f.MatchedInvoiceID, &f.MatchedLineID,
			&f.MatchedCents, &f.MatchScore); err != nil {
			return nil, fmt.Errorf("interventions scan: %w", err)
		}
		f.ComplianceState = model.ComplianceState(state)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// AppointmentsForClinicDate lists appointment ids that have recommendation
// snapshots for the given clinic and clinic-local date.
func (s *Store) AppointmentsForClinicDate(ctx context.Context, vetID int64, date time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx, embedsql.AppointmentsForClinicDate, vetID, date)
	if err != nil {
		return nil, fmt.Errorf("appointments for clinic date: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("appointments scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CandidateLines returns all invoice lines for a patient with a line date in
// [from, to]. Window filtering by appointment date happens again inside the
// matching engine; this bound just keeps the candidate set small.
func (s *Store) CandidateLines(ctx context.Context, dogID int64, from, to time.Time) ([]model.InvoiceLineFact, error) {
	rows, err := s.pool.Query(ctx, embedsql.CandidateLines, dogID, from, to)
	if err != nil {
		return nil, fmt.Errorf("candidate lines: %w", err)
	}
	defer rows.Close()

	var lines []model.InvoiceLineFact
	for rows.Next() {
		var (
			l    model.InvoiceLineFact
			tier int16
		)
		if err := rows.Scan(&l.LineID, &l.InvoiceID, &l.ExternalLineID,
			&l.LineDate, &l.Code, &l.CodeNorm, &l.Description,
			&l.DescriptionNorm, &l.Quantity, &l.AmountCents, &l.RowHash,
			&l.RecoName, &tier, &l.MatchScore,
			&l.AttributedToPtr, &l.AttributionWin); err != nil {
			return nil, fmt.Errorf("candidate lines scan: %w", err)
		}
		l.MatchTier = model.MatchTier(tier)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// LinesForInvoice returns every line of one invoice, ordered by line id.
func (s *Store) LinesForInvoice(ctx context.Context, invoiceID int64) ([]model.InvoiceLineFact, error) {
	rows, err := s.pool.Query(ctx, embedsql.LinesForInvoice, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("lines for invoice: %w", err)
	}
	defer rows.Close()

	var lines []model.InvoiceLineFact
	for rows.Next() {
		var (
			l    model.InvoiceLineFact
			tier int16
		)
		if err := rows.Scan(&l.LineID, &l.InvoiceID, &l.ExternalLineID,
			&l.LineDate, &l.Code, &l.CodeNorm, &l.Description,
			&l.DescriptionNorm, &l.Quantity, &l.AmountCents, &l.RowHash,
			&l.RecoName, &tier, &l.MatchScore,
			&l.AttributedToPtr, &l.AttributionWin); err != nil {
			return nil, fmt.Errorf("lines for invoice scan: %w", err)
		}
		l.MatchTier = model.MatchTier(tier)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// UpdateLineMatch fills the reconciliation columns of one invoice line.
func (s *Store) UpdateLineMatch(ctx context.Context, lineID int64, recoName *string, tier model.MatchTier, score *float64, attributed, win bool) error {
	_, err := s.pool.Exec(ctx, embedsql.UpdateLineMatch,
		lineID, recoName, int16(tier), score, attributed, win)
	if err != nil {
		return fmt.Errorf("update line match: %w", err)
	}
	return nil
}

// UpdateInterventionMatch fills the reconciliation columns of one
// intervention fact. Passing all-nil clears a previous assignment.
func (s *Store) UpdateInterventionMatch(ctx context.Context, factID int64, invoiceID, lineID, amountCents *int64, score *float64) error {
	_, err := s.pool.Exec(ctx, embedsql.UpdateInterventionMatch,
		factID, invoiceID, lineID, amountCents, score)
	if err != nil {
		return fmt.Errorf("update intervention match: %w", err)
	}
	return nil
}

// UpsertLink recomputes the (vet, appointment, invoice) aggregate.
// Safe to call any number of times with the same inputs.
func (s *Store) UpsertLink(ctx context.Context, l model.ApptInvoiceLink) error {
	_, err := s.pool.Exec(ctx, embedsql.UpsertLink,
		l.VetID, l.AppointmentID, l.InvoiceID,
		l.PRAmountCents, l.RRAmountCents,
		l.LineCount, l.MatchedCount, l.AttributionWin)
	if err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}
	return nil
}

// GetLink fetches one aggregate row.
func (s *Store) GetLink(ctx context.Context, vetID, appointmentID, invoiceID int64) (*model.ApptInvoiceLink, error) {
	var l model.ApptInvoiceLink
	err := s.pool.QueryRow(ctx, embedsql.GetLink, vetID, appointmentID, invoiceID).Scan(
		&l.VetID, &l.AppointmentID, &l.InvoiceID,
		&l.PRAmountCents, &l.RRAmountCents,
		&l.LineCount, &l.MatchedCount, &l.AttributionWin, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return &l, nil
}

// LinksForClinic returns all aggregates of a clinic for compliance reporting.
func (s *Store) LinksForClinic(ctx context.Context, vetID int64) ([]model.ApptInvoiceLink, error) {
	rows, err := s.pool.Query(ctx, embedsql.LinksForClinic, vetID)
	if err != nil {
		return nil, fmt.Errorf("links for clinic: %w", err)
	}
	defer rows.Close()

	var links []model.ApptInvoiceLink
	for rows.Next() {
		var l model.ApptInvoiceLink
		if err := rows.Scan(&l.VetID, &l.AppointmentID, &l.InvoiceID,
			&l.PRAmountCents, &l.RRAmountCents,
			&l.LineCount, &l.MatchedCount, &l.AttributionWin, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("links scan: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// ServiceCodeMap loads the code-to-recommendation mapping table.
func (s *Store) ServiceCodeMap(ctx context.Context) ([]model.ServiceCodeMapping, error) {
	rows, err := s.pool.Query(ctx, embedsql.ServiceCodeMap)
	if err != nil {
		return nil, fmt.Errorf("service code map: %w", err)
	}
	defer rows.Close()

	var mappings []model.ServiceCodeMapping
	for rows.Next() {
		var m model.ServiceCodeMapping
		if err := rows.Scan(&m.CodeNorm, &m.RecoName, &m.Category); err != nil {
			return nil, fmt.Errorf("service code map scan: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}
