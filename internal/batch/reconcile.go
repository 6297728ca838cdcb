package batch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pawmark/vetbatch/internal/attribution"
	"github.com/pawmark/vetbatch/internal/config"
	"github.com/pawmark/vetbatch/internal/match"
	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/normalize"
	"github.com/pawmark/vetbatch/internal/store"
)

// Reconciler runs the recommendation-to-billing matching pass for an
// appointment and refreshes the derived link aggregates. It is safe to
// re-execute at any time: the pass recomputes every reconciliation column
// from scratch, so late-arriving invoice lines simply shift the assignments
// on the next run.
type Reconciler struct {
	store *store.Store
	agg   *attribution.Aggregator
	opts  config.MatchOptions
}

func NewReconciler(st *store.Store, opts config.MatchOptions) *Reconciler {
	return &Reconciler{store: st, agg: attribution.New(st), opts: opts}
}

// lineVerdict is the pass's working decision for one candidate line.
type lineVerdict struct {
	line       model.InvoiceLineFact
	recoName   *string
	tier       model.MatchTier
	score      *float64
	attributed bool
	win        bool
}

// ReconcileAppointment matches the appointment's interventions against the
// patient's invoice lines inside the attribution window, persists the
// reconciliation columns on both sides, and upserts the affected
// (appointment, invoice) aggregates.
func (r *Reconciler) ReconcileAppointment(ctx context.Context, appointmentID int64) error {
	facts, err := r.store.InterventionsForAppointment(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("reconcile appointment %d: %w", appointmentID, err)
	}
	if len(facts) == 0 {
		return nil
	}
	dogID, vetID, apptDate := facts[0].DogID, facts[0].VetID, facts[0].AppointmentDate

	from := apptDate.AddDate(0, 0, -r.opts.WindowDays)
	to := apptDate.AddDate(0, 0, r.opts.WindowDays)
	candidates, err := r.store.CandidateLines(ctx, dogID, from, to)
	if err != nil {
		return fmt.Errorf("reconcile appointment %d: %w", appointmentID, err)
	}

	mappings, err := r.store.ServiceCodeMap(ctx)
	if err != nil {
		return fmt.Errorf("reconcile appointment %d: %w", appointmentID, err)
	}
	codes := match.NewCodeMap(mappings)

	verdicts := make(map[int64]*lineVerdict, len(candidates))
	for _, l := range candidates {
		verdicts[l.LineID] = &lineVerdict{line: l}
	}

	// Deterministic fact order so re-runs claim lines identically.
	sort.Slice(facts, func(i, j int) bool { return facts[i].FactID < facts[j].FactID })

	claimed := make(map[int64]bool)
	touched := make(map[int64]bool)
	for i := range facts {
		fact := facts[i]
		scored := match.Match(fact, candidates, codes, r.opts)

		var assigned *match.ScoredMatch
		for k := range scored {
			m := scored[k]
			if m.Tier == model.TierUnmatched {
				// Below the floor: the line keeps no trace of this fact.
				continue
			}
			v := verdicts[m.LineID]
			// Record the best verdict each line received across facts. A
			// claimed line's verdict is pinned to the fact it was attributed
			// to; a later fact scoring it higher must not relabel it.
			if !claimed[m.LineID] && (v.score == nil || m.Score > *v.score) {
				score := m.Score
				name := fact.Name
				v.score, v.tier, v.recoName = &score, m.Tier, &name
			}
			// A line feeds at most one intervention; walk down the ranking
			// when a better-scoring sibling already claimed this one.
			if assigned == nil && attributable(m.Tier) && !claimed[m.LineID] {
				assigned = &scored[k]
			}
		}

		if assigned == nil {
			if err := r.store.UpdateInterventionMatch(ctx, fact.FactID, nil, nil, nil, nil); err != nil {
				return err
			}
			continue
		}

		claimed[assigned.LineID] = true
		touched[assigned.InvoiceID] = true
		v := verdicts[assigned.LineID]
		score := assigned.Score
		name := fact.Name
		v.score, v.tier, v.recoName, v.attributed = &score, assigned.Tier, &name, true

		amount := v.line.AmountCents
		if err := r.store.UpdateInterventionMatch(ctx, fact.FactID,
			&assigned.InvoiceID, &assigned.LineID, &amount, &score); err != nil {
			return err
		}
	}

	markWinner(verdicts, apptDate)

	for _, v := range verdicts {
		if err := r.store.UpdateLineMatch(ctx, v.line.LineID,
			v.recoName, v.tier, v.score, v.attributed, v.win); err != nil {
			return err
		}
	}

	for invoiceID := range touched {
		if _, err := r.agg.Aggregate(ctx, vetID, appointmentID, invoiceID); err != nil {
			return err
		}
	}

	log.Debug().
		Int64("appointment_id", appointmentID).
		Int("interventions", len(facts)).
		Int("candidates", len(candidates)).
		Int("invoices_linked", len(touched)).
		Msg("appointment reconciled")
	return nil
}

// ReconcileClinicDate re-runs the pass for every appointment of a clinic on a
// clinic-local date. Used by the standalone reconcile command after new
// invoice exports land.
func (r *Reconciler) ReconcileClinicDate(ctx context.Context, clinicID int64, date time.Time) (int, error) {
	appointments, err := r.store.AppointmentsForClinicDate(ctx, clinicID, date)
	if err != nil {
		return 0, fmt.Errorf("reconcile clinic %d: %w", clinicID, err)
	}
	for _, apptID := range appointments {
		if err := r.ReconcileAppointment(ctx, apptID); err != nil {
			return 0, err
		}
	}
	return len(appointments), nil
}

func attributable(t model.MatchTier) bool {
	return t == model.TierExact || t == model.TierHigh
}

// markWinner flags the attributed lines of the pointer invoice: among the
// invoices holding attributed lines, the one whose closest attributed line
// date is nearest the appointment date, ties to the lowest invoice id.
func markWinner(verdicts map[int64]*lineVerdict, apptDate time.Time) {
	type invoiceDist struct {
		invoiceID int64
		days      int
	}
	best := invoiceDist{invoiceID: -1, days: -1}
	for _, v := range verdicts {
		if !v.attributed {
			continue
		}
		d := normalize.DaysBetween(v.line.LineDate, apptDate)
		if best.invoiceID == -1 || d < best.days ||
			(d == best.days && v.line.InvoiceID < best.invoiceID) {
			best = invoiceDist{invoiceID: v.line.InvoiceID, days: d}
		}
	}
	if best.invoiceID == -1 {
		return
	}
	for _, v := range verdicts {
		v.win = v.attributed && v.line.InvoiceID == best.invoiceID
	}
}
