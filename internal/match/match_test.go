package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawmark/vetbatch/internal/config"
	"github.com/pawmark/vetbatch/internal/model"
)

var apptDate = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

func opts() config.MatchOptions {
	return config.DefaultMatchOptions()
}

func fact(name string, estimatedCents int64) model.InterventionFact {
	f := model.InterventionFact{
		AppointmentID:   100,
		DogID:           7,
		VetID:           1,
		Name:            name,
		Category:        "preventive",
		Selected:        true,
		ComplianceState: model.ComplianceSelected,
		AppointmentDate: apptDate,
	}
	if estimatedCents > 0 {
		f.EstimatedCents = &estimatedCents
	}
	return f
}

func line(id int64, desc string, cents int64, date time.Time) model.InvoiceLineFact {
	return model.InvoiceLineFact{
		LineID:          id,
		InvoiceID:       500,
		ExternalLineID:  "L",
		LineDate:        date,
		Description:     desc,
		DescriptionNorm: desc,
		Quantity:        1,
		AmountCents:     cents,
	}
}

func withCode(l model.InvoiceLineFact, code string) model.InvoiceLineFact {
	l.Code = &code
	l.CodeNorm = &code
	return l
}

func TestMatch_FuzzyHighConfidence(t *testing.T) {
	f := fact("Heartworm Test", 4500)
	lines := []model.InvoiceLineFact{
		line(1, "heartworm antigen test", 4500, apptDate),
	}

	got := Match(f, lines, nil, opts())
	require.Len(t, got, 1)

	// token-set dice 0.8, perfect amount plausibility: 0.8*0.8 + 0.2*1.0
	assert.InDelta(t, 0.84, got[0].Score, 1e-9)
	assert.Equal(t, model.TierHigh, got[0].Tier)
	assert.True(t, got[0].Primary)
}

func TestMatch_ExactCodeShortCircuits(t *testing.T) {
	f := fact("Heartworm Test", 4500)
	codes := NewCodeMap([]model.ServiceCodeMapping{
		{CodeNorm: "HWTEST", RecoName: "Heartworm Test", Category: "preventive"},
	})
	lines := []model.InvoiceLineFact{
		withCode(line(1, "misc lab work", 9900, apptDate), "HWTEST"),
	}

	got := Match(f, lines, codes, opts())
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, model.TierExact, got[0].Tier)
	assert.True(t, got[0].Primary)
}

func TestMatch_ServiceCodeOnFact(t *testing.T) {
	f := fact("Rabies Vaccination", 3200)
	code := "VAC-RAB"
	f.ServiceCode = &code

	lines := []model.InvoiceLineFact{
		withCode(line(1, "vaccine", 3200, apptDate), "VACRAB"),
	}

	got := Match(f, lines, nil, opts())
	require.Len(t, got, 1)
	assert.Equal(t, model.TierExact, got[0].Tier)
}

func TestMatch_HigherScoreWinsPrimary(t *testing.T) {
	f := fact("Dental Cleaning", 0) // no estimate: neutral amount term
	lines := []model.InvoiceLineFact{
		line(1, "dental", 40000, apptDate),
		line(2, "dental cleaning", 41200, apptDate),
	}

	got := Match(f, lines, nil, opts())
	require.Len(t, got, 2)

	// Sorted best-first: the full-phrase line (0.9) beats the partial (~0.63).
	assert.Equal(t, int64(2), got[0].LineID)
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
	assert.True(t, got[0].Primary)

	assert.Equal(t, int64(1), got[1].LineID)
	assert.Equal(t, model.TierLow, got[1].Tier)
	assert.False(t, got[1].Primary)
}

func TestMatch_TieBreakEarliestDateThenLowestID(t *testing.T) {
	f := fact("Fecal Exam", 0)
	earlier := apptDate.AddDate(0, 0, -2)

	lines := []model.InvoiceLineFact{
		line(9, "fecal exam", 2850, apptDate),
		line(3, "fecal exam", 2850, earlier),
		line(5, "fecal exam", 2850, earlier),
	}

	got := Match(f, lines, nil, opts())
	require.Len(t, got, 3)

	// Equal scores: earliest line date first, then lowest line id.
	assert.Equal(t, int64(3), got[0].LineID)
	assert.Equal(t, int64(5), got[1].LineID)
	assert.Equal(t, int64(9), got[2].LineID)
	assert.True(t, got[0].Primary)
	assert.False(t, got[1].Primary)
	assert.False(t, got[2].Primary)
}

func TestMatch_WindowExcludesNotDownWeights(t *testing.T) {
	f := fact("Heartworm Test", 4500)
	lines := []model.InvoiceLineFact{
		line(1, "heartworm antigen test", 4500, apptDate.AddDate(0, 0, 10)),
		line(2, "heartworm antigen test", 4500, apptDate.AddDate(0, 0, 7)),
	}

	got := Match(f, lines, nil, opts())
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].LineID)
}

func TestMatch_BelowFloorIsUnmatched(t *testing.T) {
	f := fact("Heartworm Test", 0)
	lines := []model.InvoiceLineFact{
		line(1, "nail trim", 1800, apptDate),
	}

	got := Match(f, lines, nil, opts())
	require.Len(t, got, 1)
	assert.Equal(t, model.TierUnmatched, got[0].Tier)
	assert.False(t, got[0].Primary)
}

func TestMatch_DeterministicAcrossInputOrder(t *testing.T) {
	f := fact("Heartworm Test", 4500)
	a := line(1, "heartworm antigen test", 4500, apptDate)
	b := line(2, "heartworm test", 4500, apptDate.AddDate(0, 0, 1))
	c := line(3, "wellness examination", 6200, apptDate)

	first := Match(f, []model.InvoiceLineFact{a, b, c}, nil, opts())
	second := Match(f, []model.InvoiceLineFact{c, b, a}, nil, opts())
	assert.Equal(t, first, second)
}

func TestMatch_AmountPlausibilityLowersScore(t *testing.T) {
	f := fact("Heartworm Test", 4500)
	cheap := Match(f, []model.InvoiceLineFact{line(1, "heartworm test", 450, apptDate)}, nil, opts())
	exact := Match(f, []model.InvoiceLineFact{line(1, "heartworm test", 4500, apptDate)}, nil, opts())
	require.Len(t, cheap, 1)
	require.Len(t, exact, 1)
	assert.Less(t, cheap[0].Score, exact[0].Score)
}
