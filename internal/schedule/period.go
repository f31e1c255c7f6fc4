// Package schedule maps wall-clock times to configured class periods.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrPeriodOverlap indicates a period's time range intersects
	// another active period.
	ErrPeriodOverlap = errors.New("period overlaps an existing active period")

	// ErrPeriodNotFound indicates no period exists with the given ID.
	ErrPeriodNotFound = errors.New("period not found")
)

// Period is one block in the daily timetable. Times are local
// wall-clock "HH:MM" or "HH:MM:SS" strings; the range is half-open
// [start, end).
type Period struct {
	ID              string `json:"period_id"`
	Name            string `json:"period_name"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Subject         string `json:"subject,omitempty"`
	Teacher         string `json:"teacher,omitempty"`
	IsBreak         bool   `json:"is_break"`
	IsActive        bool   `json:"is_active"`
}

// Validate checks times parse and the range is non-empty.
func (p Period) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("period name must not be empty")
	}

	start, err := parseMinutes(p.StartTime)
	if err != nil {
		return fmt.Errorf("invalid start_time %q: %w", p.StartTime, err)
	}
	end, err := parseMinutes(p.EndTime)
	if err != nil {
		return fmt.Errorf("invalid end_time %q: %w", p.EndTime, err)
	}

	if start >= end {
		return fmt.Errorf("start_time %q must be before end_time %q", p.StartTime, p.EndTime)
	}
	return nil
}

// startMinutes returns the start as minutes past midnight. Must only
// be called on validated periods.
func (p Period) startMinutes() int {
	m, _ := parseMinutes(p.StartTime)
	return m
}

func (p Period) endMinutes() int {
	m, _ := parseMinutes(p.EndTime)
	return m
}

// overlaps reports whether two half-open ranges intersect.
func (p Period) overlaps(other Period) bool {
	return p.startMinutes() < other.endMinutes() && other.startMinutes() < p.endMinutes()
}

func parseMinutes(clock string) (int, error) {
	t, err := time.Parse("15:04:05", clock)
	if err != nil {
		t, err = time.Parse("15:04", clock)
	}
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// sortPeriods orders periods by start time, then name for stability.
func sortPeriods(periods []Period) {
	sort.Slice(periods, func(i, j int) bool {
		si, sj := periods[i].startMinutes(), periods[j].startMinutes()
		if si != sj {
			return si < sj
		}
		return periods[i].Name < periods[j].Name
	})
}
