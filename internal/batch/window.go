package batch

import (
	"fmt"
	"time"

	"github.com/pawmark/vetbatch/internal/model"
)

// InWindow reports whether now falls inside the clinic's batch window,
// evaluated on the clinic's local wall clock. A window whose end precedes its
// start wraps past midnight (22:00-02:00).
func InWindow(c model.Clinic, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return false, fmt.Errorf("clinic %d timezone %q: %w", c.ClinicID, c.Timezone, err)
	}
	local := now.In(loc)
	mins := local.Hour()*60 + local.Minute()

	if c.WindowStartMin <= c.WindowEndMin {
		return mins >= c.WindowStartMin && mins <= c.WindowEndMin, nil
	}
	return mins >= c.WindowStartMin || mins <= c.WindowEndMin, nil
}

// LocalDate returns the clinic-local calendar date of now, as a UTC-midnight
// timestamp. Two clinics in different timezones can be on different dates at
// the same instant; per-day uniqueness is per this date, not the UTC one.
func LocalDate(c model.Clinic, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("clinic %d timezone %q: %w", c.ClinicID, c.Timezone, err)
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
