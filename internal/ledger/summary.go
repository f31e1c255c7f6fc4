package ledger

import (
	"context"
	"fmt"

	"github.com/banshee-data/presence.report/internal/schedule"
)

// PeriodCount is the number of people recorded present in one period.
type PeriodCount struct {
	PeriodID   string `json:"period_id"`
	PeriodName string `json:"period_name"`
	Present    int    `json:"present"`
}

// Aggregator combines stored attendance with the timetable to produce
// percentages. Percentages need the timetable because the database
// only knows about periods someone actually attended.
type Aggregator struct {
	ledger   *Ledger
	resolver *schedule.Resolver
}

// NewAggregator builds an aggregator over a ledger and timetable.
func NewAggregator(ledger *Ledger, resolver *schedule.Resolver) *Aggregator {
	return &Aggregator{ledger: ledger, resolver: resolver}
}

// countablePeriods returns the number of active non-break periods, the
// denominator for attendance percentages.
func (a *Aggregator) countablePeriods() int {
	n := 0
	for _, p := range a.resolver.Periods() {
		if p.IsActive && !p.IsBreak {
			n++
		}
	}
	return n
}

// DaySummaries returns per-person roll-ups for a date with attendance
// percentages filled in. An empty timetable yields zero percentages
// rather than a division error.
func (a *Aggregator) DaySummaries(ctx context.Context, date string) ([]DaySummary, error) {
	summaries, err := a.ledger.GetSummaries(ctx, date)
	if err != nil {
		return nil, err
	}

	total := a.countablePeriods()
	for i := range summaries {
		if total > 0 {
			pct := 100 * float64(summaries[i].PeriodsPresent) / float64(total)
			if pct > 100 {
				pct = 100
			}
			summaries[i].AttendancePct = pct
		}
	}
	return summaries, nil
}

// PeriodSummary is the attendance of one period on one date, relative
// to a known class size.
type PeriodSummary struct {
	PeriodID   string  `json:"period_id"`
	PeriodName string  `json:"period_name"`
	Present    int     `json:"present"`
	Absent     int     `json:"absent"`
	Percent    float64 `json:"percent"`
}

// PeriodSummaries returns present/absent counts and a percentage for
// every period with records on the date. studentCount is the class
// size; zero yields zero percentages rather than a division error.
func (a *Aggregator) PeriodSummaries(ctx context.Context, date string, studentCount int) ([]PeriodSummary, error) {
	counts, err := a.PeriodCounts(ctx, date)
	if err != nil {
		return nil, err
	}

	summaries := make([]PeriodSummary, 0, len(counts))
	for _, c := range counts {
		s := PeriodSummary{
			PeriodID:   c.PeriodID,
			PeriodName: c.PeriodName,
			Present:    c.Present,
		}
		if studentCount > 0 {
			if absent := studentCount - c.Present; absent > 0 {
				s.Absent = absent
			}
			s.Percent = 100 * float64(c.Present) / float64(studentCount)
			if s.Percent > 100 {
				s.Percent = 100
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// DailyPercent returns overall attendance for a date: period presences
// over studentCount times the active non-break periods. Zero students
// or an empty timetable yields 0.
func (a *Aggregator) DailyPercent(ctx context.Context, date string, studentCount int) (float64, error) {
	total := studentCount * a.countablePeriods()
	if total <= 0 {
		return 0, nil
	}

	var presences int
	err := a.ledger.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(periods_present), 0) FROM day_summary WHERE date = ?`,
		date).Scan(&presences)
	if err != nil {
		return 0, fmt.Errorf("failed to sum presences for %s: %w", date, err)
	}

	pct := 100 * float64(presences) / float64(total)
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// PeriodCounts returns how many people were marked present in each
// period of a date, ordered by each period's first entry.
func (a *Aggregator) PeriodCounts(ctx context.Context, date string) ([]PeriodCount, error) {
	rows, err := a.ledger.db.QueryContext(ctx, `
		SELECT period_id, period_name, COALESCE(SUM(present), 0)
		FROM period_attendance
		WHERE date = ?
		GROUP BY period_id, period_name
		ORDER BY MIN(entry_time)`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query period counts for %s: %w", date, err)
	}
	defer rows.Close()

	var counts []PeriodCount
	for rows.Next() {
		var c PeriodCount
		if err := rows.Scan(&c.PeriodID, &c.PeriodName, &c.Present); err != nil {
			return nil, fmt.Errorf("failed to scan period count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
