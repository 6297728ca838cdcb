// Package match scores recommendation facts against candidate invoice lines.
// The engine is pure: no I/O beyond its inputs, no randomness, no dependence
// on candidate order beyond the documented tie-break. Re-running it on
// identical inputs yields identical assignments, which is what makes it safe
// to re-execute whenever new invoice lines arrive.
package match

import (
	"sort"
	"strings"
	"time"

	"github.com/pawmark/vetbatch/internal/config"
	"github.com/pawmark/vetbatch/internal/model"
	"github.com/pawmark/vetbatch/internal/normalize"
)

// CodeMap looks up the recommendation a normalized service code fulfils.
type CodeMap map[string]model.ServiceCodeMapping

// NewCodeMap builds a CodeMap from the rows of vet.service_code_map.
func NewCodeMap(mappings []model.ServiceCodeMapping) CodeMap {
	m := make(CodeMap, len(mappings))
	for _, e := range mappings {
		m[e.CodeNorm] = e
	}
	return m
}

// ScoredMatch is the engine's verdict on one in-window candidate line.
type ScoredMatch struct {
	LineID    int64
	InvoiceID int64
	Score     float64
	Tier      model.MatchTier
	Primary   bool
}

// Match scores the intervention against every candidate line inside the
// attribution window. Lines outside the window are excluded before scoring,
// not down-weighted; they never appear in the result. Exactly one result can
// be Primary: the highest-scoring tier-1/tier-2 line, ties broken by earliest
// line date, then lowest line id.
func Match(fact model.InterventionFact, candidates []model.InvoiceLineFact, codes CodeMap, opts config.MatchOptions) []ScoredMatch {
	factName := normName(fact.Name)
	factCode := normCode(fact.ServiceCode)

	matches := make([]ScoredMatch, 0, len(candidates))
	dateOf := make(map[int64]time.Time, len(candidates)) // for the tie-break

	for _, line := range candidates {
		if normalize.DaysBetween(line.LineDate, fact.AppointmentDate) > opts.WindowDays {
			continue
		}

		m := ScoredMatch{LineID: line.LineID, InvoiceID: line.InvoiceID}
		if exactCode(fact, factName, factCode, line, codes) {
			m.Score = 1.0
			m.Tier = model.TierExact
		} else {
			m.Score = fuzzyScore(fact, factName, line, codes, opts)
			m.Tier = tierFor(m.Score, opts)
		}
		matches = append(matches, m)
		dateOf[line.LineID] = line.LineDate
	}

	// Stable presentation order: best first.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		di, dj := dateOf[matches[i].LineID], dateOf[matches[j].LineID]
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return matches[i].LineID < matches[j].LineID
	})

	// The first attributable entry in sorted order is the primary match.
	for i := range matches {
		if matches[i].Tier == model.TierExact || matches[i].Tier == model.TierHigh {
			matches[i].Primary = true
			break
		}
	}
	return matches
}

// exactCode reports whether the line's normalized code resolves to this
// recommendation, either through the mapping table or by matching the
// intervention's own service code.
func exactCode(fact model.InterventionFact, factName, factCode string, line model.InvoiceLineFact, codes CodeMap) bool {
	if line.CodeNorm == nil || *line.CodeNorm == "" {
		return false
	}
	if factCode != "" && factCode == *line.CodeNorm {
		return true
	}
	if e, ok := codes[*line.CodeNorm]; ok {
		return normName(e.RecoName) == factName
	}
	return false
}

// fuzzyScore blends textual similarity with amount plausibility.
func fuzzyScore(fact model.InterventionFact, factName string, line model.InvoiceLineFact, codes CodeMap, opts config.MatchOptions) float64 {
	nameSim := Similarity(factName, line.DescriptionNorm)

	// A mapped code whose category agrees with the recommendation lifts a
	// weak description match: the code book is more reliable than free text.
	if line.CodeNorm != nil {
		if e, ok := codes[*line.CodeNorm]; ok && strings.EqualFold(e.Category, fact.Category) {
			if catSim := Similarity(normName(e.RecoName), factName); catSim > nameSim {
				nameSim = catSim
			}
		}
	}

	return opts.NameWeight*nameSim + opts.AmountWeight*amountPlausibility(fact.EstimatedCents, line.AmountCents)
}

// amountPlausibility is the ratio of the smaller to the larger amount, or a
// neutral 0.5 when the recommendation carries no estimate.
func amountPlausibility(estimated *int64, actual int64) float64 {
	if estimated == nil || *estimated <= 0 || actual <= 0 {
		return 0.5
	}
	lo, hi := float64(*estimated), float64(actual)
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo / hi
}

func tierFor(score float64, opts config.MatchOptions) model.MatchTier {
	switch {
	case score >= opts.Tier2Threshold:
		return model.TierHigh
	case score >= opts.Tier3Floor:
		return model.TierLow
	default:
		return model.TierUnmatched
	}
}

func normName(s string) string {
	if n := normalize.NormalizeName(&s); n != nil {
		return *n
	}
	return ""
}

func normCode(s *string) string {
	if n := normalize.NormalizeCode(s); n != nil {
		return *n
	}
	return ""
}
