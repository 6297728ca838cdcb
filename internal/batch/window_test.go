package batch

import (
	"testing"
	"time"

	"github.com/pawmark/vetbatch/internal/model"
)

func clinic(tz string, startMin, endMin int) model.Clinic {
	return model.Clinic{
		ClinicID:       1,
		Name:           "Test Clinic",
		Timezone:       tz,
		WindowStartMin: startMin,
		WindowEndMin:   endMin,
	}
}

func TestInWindow_LocalClockNotUTC(t *testing.T) {
	// Window 01:00-05:00 local. 06:30 UTC is 02:30 in New York (EDT),
	// inside the window, while UTC itself is well outside it.
	c := clinic("America/New_York", 60, 300)
	now := time.Date(2025, 6, 10, 6, 30, 0, 0, time.UTC)

	ok, err := InWindow(c, now)
	if err != nil {
		t.Fatalf("InWindow: %v", err)
	}
	if !ok {
		t.Error("expected 02:30 local to be inside the 01:00-05:00 window")
	}
}

func TestInWindow_SameInstantDifferentClinics(t *testing.T) {
	now := time.Date(2025, 6, 10, 6, 30, 0, 0, time.UTC)

	ny := clinic("America/New_York", 60, 300)
	tokyo := clinic("Asia/Tokyo", 60, 300) // 15:30 local at this instant

	okNY, err := InWindow(ny, now)
	if err != nil {
		t.Fatalf("InWindow ny: %v", err)
	}
	okTokyo, err := InWindow(tokyo, now)
	if err != nil {
		t.Fatalf("InWindow tokyo: %v", err)
	}

	if !okNY {
		t.Error("New York clinic should be in window")
	}
	if okTokyo {
		t.Error("Tokyo clinic should be outside window")
	}
}

func TestInWindow_WrapsPastMidnight(t *testing.T) {
	// 22:00-02:00 local.
	c := clinic("UTC", 1320, 120)

	cases := []struct {
		hour, min int
		want      bool
	}{
		{23, 0, true},
		{1, 30, true},
		{2, 0, true},
		{2, 1, false},
		{12, 0, false},
		{21, 59, false},
		{22, 0, true},
	}
	for _, tc := range cases {
		now := time.Date(2025, 6, 10, tc.hour, tc.min, 0, 0, time.UTC)
		ok, err := InWindow(c, now)
		if err != nil {
			t.Fatalf("InWindow: %v", err)
		}
		if ok != tc.want {
			t.Errorf("%02d:%02d: got %v, want %v", tc.hour, tc.min, ok, tc.want)
		}
	}
}

func TestInWindow_BadTimezone(t *testing.T) {
	c := clinic("Not/AZone", 0, 1439)
	if _, err := InWindow(c, time.Now()); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestLocalDate_CrossesDateline(t *testing.T) {
	// 2025-06-10 23:30 UTC is already 2025-06-11 in Tokyo but still
	// 2025-06-10 in New York.
	now := time.Date(2025, 6, 10, 23, 30, 0, 0, time.UTC)

	tokyoDate, err := LocalDate(clinic("Asia/Tokyo", 0, 1439), now)
	if err != nil {
		t.Fatalf("LocalDate tokyo: %v", err)
	}
	nyDate, err := LocalDate(clinic("America/New_York", 0, 1439), now)
	if err != nil {
		t.Fatalf("LocalDate ny: %v", err)
	}

	if got := tokyoDate.Format("2006-01-02"); got != "2025-06-11" {
		t.Errorf("tokyo date: got %s, want 2025-06-11", got)
	}
	if got := nyDate.Format("2006-01-02"); got != "2025-06-10" {
		t.Errorf("ny date: got %s, want 2025-06-10", got)
	}
	if !tokyoDate.Equal(tokyoDate.Truncate(24 * time.Hour)) {
		t.Error("local date should be a UTC midnight timestamp")
	}
}
