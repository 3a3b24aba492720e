package timewindow

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("Loading %s: %v", name, err)
	}
	return loc
}

func TestForDate_BoundaryMembership(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	w, err := ForDate(loc, "09:00", 2025, time.January, 15)
	if err != nil {
		t.Fatal(err)
	}

	if w.Label != "2025-01-15" {
		t.Errorf("Expected label 2025-01-15, got %s", w.Label)
	}

	// Exactly at the start boundary belongs to this window.
	atStart := time.Date(2025, 1, 15, 9, 0, 0, 0, loc)
	if !w.Contains(atStart.UTC()) {
		t.Error("Expected instant at window start to be contained")
	}

	// Exactly at the end boundary belongs to the next window.
	atEnd := time.Date(2025, 1, 16, 9, 0, 0, 0, loc)
	if w.Contains(atEnd.UTC()) {
		t.Error("Expected instant at window end to be excluded")
	}

	justBefore := atStart.Add(-time.Second)
	if w.Contains(justBefore.UTC()) {
		t.Error("Expected instant before window start to be excluded")
	}
}

func TestForDate_DSTSpringForward(t *testing.T) {
	// US DST starts 2025-03-09; the window spanning it is 23 hours.
	loc := mustLoc(t, "America/New_York")
	w, err := ForDate(loc, "09:00", 2025, time.March, 9)
	if err != nil {
		t.Fatal(err)
	}

	if d := w.EndUTC.Sub(w.StartUTC); d != 23*time.Hour {
		t.Errorf("Expected 23h window across spring forward, got %v", d)
	}
}

func TestForDate_DSTFallBack(t *testing.T) {
	// US DST ends 2025-11-02; the window spanning it is 25 hours.
	loc := mustLoc(t, "America/New_York")
	w, err := ForDate(loc, "09:00", 2025, time.November, 2)
	if err != nil {
		t.Fatal(err)
	}

	if d := w.EndUTC.Sub(w.StartUTC); d != 25*time.Hour {
		t.Errorf("Expected 25h window across fall back, got %v", d)
	}
}

func TestForDate_MonthRollover(t *testing.T) {
	loc := mustLoc(t, "UTC")
	w, err := ForDate(loc, "08:30", 2025, time.January, 31)
	if err != nil {
		t.Fatal(err)
	}

	wantEnd := time.Date(2025, 2, 1, 8, 30, 0, 0, loc)
	if !w.EndLocal.Equal(wantEnd) {
		t.Errorf("Expected end %v, got %v", wantEnd, w.EndLocal)
	}
}

func TestCompute_ExplicitDate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	windows, err := Compute("UTC", "09:00", 5, "2025-01-15", now)
	if err != nil {
		t.Fatal(err)
	}

	if len(windows) != 1 {
		t.Fatalf("Expected 1 window for explicit date, got %d", len(windows))
	}
	if windows[0].Label != "2025-01-15" {
		t.Errorf("Expected label 2025-01-15, got %s", windows[0].Label)
	}
}

func TestCompute_RollingDays(t *testing.T) {
	now := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	windows, err := Compute("UTC", "09:00", 3, "", now)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"2025-06-08", "2025-06-09", "2025-06-10"}
	if len(windows) != len(want) {
		t.Fatalf("Expected %d windows, got %d", len(want), len(windows))
	}
	for i, label := range want {
		if windows[i].Label != label {
			t.Errorf("Window %d: expected %s, got %s", i, label, windows[i].Label)
		}
	}
}

func TestCompute_RollingDaysAcrossMonthStart(t *testing.T) {
	// Windows reaching back past the first of the month take their
	// labels from the normalized start date in the prior month.
	now := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)
	windows, err := Compute("UTC", "09:00", 3, "", now)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"2025-05-30", "2025-05-31", "2025-06-01"}
	if len(windows) != len(want) {
		t.Fatalf("Expected %d windows, got %d", len(want), len(windows))
	}
	for i, label := range want {
		if windows[i].Label != label {
			t.Errorf("Window %d: expected %s, got %s", i, label, windows[i].Label)
		}
		if got := windows[i].StartLocal.Format("2006-01-02"); got != label {
			t.Errorf("Window %d: label %s does not match start date %s", i, label, got)
		}
	}
}

func TestCompute_Errors(t *testing.T) {
	now := time.Now()

	if _, err := Compute("Not/AZone", "09:00", 1, "", now); err == nil {
		t.Error("Expected error for unknown timezone")
	}
	if _, err := Compute("UTC", "09:00", 0, "", now); err == nil {
		t.Error("Expected error for zero days")
	}
	if _, err := Compute("UTC", "09:00", 1, "15-01-2025", now); err == nil {
		t.Error("Expected error for malformed date")
	}
}
