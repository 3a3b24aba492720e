// Package timewindow computes the rolling workday-to-workday reporting
// windows. A window is a half-open local-time interval
// [D@workday_start, D+1@workday_start); the local bounds are fixed
// while the absolute duration may be 23, 24 or 25 hours across DST
// transitions.
package timewindow

import (
	"fmt"
	"time"

	"mailtriage/internal/config"
)

// Window is one reporting interval. Label is the local calendar date
// of the window's start.
type Window struct {
	Label      string // YYYY-MM-DD
	StartLocal time.Time
	EndLocal   time.Time
	StartUTC   time.Time
	EndUTC     time.Time
}

// Contains reports whether an absolute instant falls inside the
// half-open window. A message timestamped exactly at the start
// boundary belongs to this window, not the prior one.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.StartUTC) && t.Before(w.EndUTC)
}

// ForDate computes the window for local calendar date d.
func ForDate(loc *time.Location, workdayStart string, year int, month time.Month, day int) (Window, error) {
	hh, mm, err := config.ParseWorkdayStart(workdayStart)
	if err != nil {
		return Window{}, err
	}

	// time.Date normalizes day+1 across month ends and resolves the
	// wall clock in loc, which keeps the local bounds fixed across DST.
	start := time.Date(year, month, day, hh, mm, 0, 0, loc)
	end := time.Date(year, month, day+1, hh, mm, 0, 0, loc)

	return Window{
		Label:      start.Format("2006-01-02"),
		StartLocal: start,
		EndLocal:   end,
		StartUTC:   start.UTC(),
		EndUTC:     end.UTC(),
	}, nil
}

// Compute returns the requested windows in chronological order:
// either the single window for an explicit date (YYYY-MM-DD), or days
// consecutive windows ending at now's local date.
func Compute(tzName, workdayStart string, days int, date string, now time.Time) ([]Window, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tzName, err)
	}

	if date != "" {
		d, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return nil, fmt.Errorf("date must be YYYY-MM-DD, got %q", date)
		}
		w, err := ForDate(loc, workdayStart, d.Year(), d.Month(), d.Day())
		if err != nil {
			return nil, err
		}
		return []Window{w}, nil
	}

	if days < 1 {
		return nil, fmt.Errorf("days must be >= 1, got %d", days)
	}

	local := now.In(loc)
	year, month, day := local.Date()

	windows := make([]Window, 0, days)
	for i := days - 1; i >= 0; i-- {
		w, err := ForDate(loc, workdayStart, year, month, day-i)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, nil
}
