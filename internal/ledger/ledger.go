package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/schedule"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

var (
	// ErrOutsideWindow indicates the attendance window is closed and
	// window enforcement is on.
	ErrOutsideWindow = errors.New("outside attendance window")

	// ErrNoEntry indicates an exit was seen for someone who never
	// entered. Returned by the flat-file ledger; the database ledger
	// records the orphan exit instead.
	ErrNoEntry = errors.New("no entry recorded for this period")
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
	hhmmLayout = "15:04"
)

// PeriodRecord is one person's attendance for one period of one day.
type PeriodRecord struct {
	Date            string  `json:"date"`
	RollNo          string  `json:"roll_no"`
	PeriodID        string  `json:"period_id"`
	PeriodName      string  `json:"period_name"`
	EntryTime       string  `json:"entry_time,omitempty"`
	ExitTime        string  `json:"exit_time,omitempty"`
	Present         bool    `json:"present"`
	DurationSeconds int     `json:"duration_seconds"`
	AttendancePct   float64 `json:"attendance_pct"`
}

// DaySummary is one person's roll-up across all periods of a day.
type DaySummary struct {
	Date           string  `json:"date"`
	RollNo         string  `json:"roll_no"`
	PeriodsPresent int     `json:"periods_present"`
	TotalSeconds   int     `json:"total_seconds"`
	AttendancePct  float64 `json:"attendance_pct"`
}

// StudentDay collects one person's records and summary for a day.
type StudentDay struct {
	RollNo  string         `json:"roll_no"`
	Periods []PeriodRecord `json:"periods"`
	Summary DaySummary     `json:"summary"`
}

// DayDocument is the full attendance document for one date.
type DayDocument struct {
	Date     string       `json:"date"`
	Students []StudentDay `json:"students"`
}

// Ledger records entries and exits against the attendance database.
// Entries are write-once: re-entering a room during the same period
// never overwrites the original entry time. Exits are write-latest:
// every exit observation replaces the previous one, so the final exit
// of the period wins.
type Ledger struct {
	db    *DB
	clock timeutil.Clock

	// mu serialises mark operations so the read-modify-write of the
	// day summary is race-free without relying on SQLite locking.
	mu sync.Mutex

	enforceWindow bool
	windowStart   int // minutes past midnight
	windowEnd     int
}

// NewLedger builds a ledger over an opened database.
func NewLedger(db *DB, cfg *config.PipelineConfig, clock timeutil.Clock) *Ledger {
	return &Ledger{
		db:            db,
		clock:         clock,
		enforceWindow: cfg.GetEnforceWindow(),
		windowStart:   mustMinutes(cfg.GetWindowStart()),
		windowEnd:     mustMinutes(cfg.GetWindowEnd()),
	}
}

// mustMinutes parses "HH:MM" or "HH:MM:SS" wall-clock strings.
func mustMinutes(clock string) int {
	t, err := time.Parse(timeLayout, clock)
	if err != nil {
		t, err = time.Parse(hhmmLayout, clock)
	}
	if err != nil {
		return 0
	}
	return t.Hour()*60 + t.Minute()
}

// MarkEntry records that rollNo entered during the given period today.
// Returns true if a new record was written, false if an entry already
// existed (the call is an idempotent no-op).
func (l *Ledger) MarkEntry(ctx context.Context, rollNo string, period schedule.Period) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if err := l.checkWindow(now); err != nil {
		return false, err
	}

	date := now.Format(dateLayout)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin entry tx: %w", err)
	}
	defer tx.Rollback()

	// The conflict branch only fires for an exit-only record, which
	// gains its entry here. A record that already has an entry keeps it.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO period_attendance (date, roll_no, period_id, period_name, entry_time, present)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(date, roll_no, period_id) DO UPDATE SET
			entry_time = excluded.entry_time,
			present = 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE period_attendance.entry_time IS NULL`,
		date, rollNo, period.ID, period.Name, now.Format(timeLayout))
	if err != nil {
		return false, fmt.Errorf("failed to insert entry: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}

	if inserted > 0 {
		if err := refreshDaySummary(ctx, tx, date, rollNo); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit entry: %w", err)
	}
	return inserted > 0, nil
}

// MarkExit records that rollNo left during the given period today and
// recomputes the stay duration. Repeated exits overwrite each other.
// An exit with no matching entry is still recorded with zero duration;
// duration is only ever computed here, so a late entry fills the slot
// and the next exit recomputes it.
func (l *Ledger) MarkExit(ctx context.Context, rollNo string, period schedule.Period) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	date := now.Format(dateLayout)
	exit := now.Format(timeLayout)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin exit tx: %w", err)
	}
	defer tx.Rollback()

	var entry sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT entry_time FROM period_attendance
		WHERE date = ? AND roll_no = ? AND period_id = ?`,
		date, rollNo, period.ID).Scan(&entry)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO period_attendance (date, roll_no, period_id, period_name, exit_time)
			VALUES (?, ?, ?, ?, ?)`,
			date, rollNo, period.ID, period.Name, exit)
		if err != nil {
			return fmt.Errorf("failed to insert orphan exit: %w", err)
		}
		if err := refreshDaySummary(ctx, tx, date, rollNo); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit exit: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up entry: %w", err)
	}

	var duration int
	var pct float64
	if entry.Valid {
		duration = stayDuration(entry.String, exit)
		pct = attendancePct(duration, period)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE period_attendance
		SET exit_time = ?, duration_seconds = ?, attendance_pct = ?, updated_at = CURRENT_TIMESTAMP
		WHERE date = ? AND roll_no = ? AND period_id = ?`,
		exit, duration, pct, date, rollNo, period.ID)
	if err != nil {
		return fmt.Errorf("failed to update exit: %w", err)
	}

	if err := refreshDaySummary(ctx, tx, date, rollNo); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exit: %w", err)
	}
	return nil
}

func (l *Ledger) checkWindow(now time.Time) error {
	if !l.enforceWindow {
		return nil
	}
	minute := now.Hour()*60 + now.Minute()
	if minute < l.windowStart || minute >= l.windowEnd {
		return ErrOutsideWindow
	}
	return nil
}

// stayDuration returns the seconds between two "HH:MM:SS" stamps.
// An exit stamp earlier than the entry means the stay wrapped past
// midnight, so a day is added before the subtraction.
func stayDuration(entry, exit string) int {
	in, err := time.Parse(timeLayout, entry)
	if err != nil {
		return 0
	}
	out, err := time.Parse(timeLayout, exit)
	if err != nil {
		return 0
	}

	d := out.Sub(in)
	if d < 0 {
		d += 24 * time.Hour
	}
	if d < 0 {
		d = 0
	}
	return int(d.Seconds())
}

// attendancePct returns the stay duration as a percentage of the
// period length, capped at 100.
func attendancePct(durationSeconds int, period schedule.Period) float64 {
	length := (mustMinutes(period.EndTime) - mustMinutes(period.StartTime)) * 60
	if length <= 0 {
		return 0
	}
	pct := 100 * float64(durationSeconds) / float64(length)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// refreshDaySummary recomputes the per-day roll-up for one person
// inside the caller's transaction.
func refreshDaySummary(ctx context.Context, tx *sql.Tx, date, rollNo string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO day_summary (date, roll_no, periods_present, total_seconds, updated_at)
		SELECT date, roll_no, COALESCE(SUM(present), 0), COALESCE(SUM(duration_seconds), 0), CURRENT_TIMESTAMP
		FROM period_attendance
		WHERE date = ? AND roll_no = ?
		GROUP BY date, roll_no
		ON CONFLICT(date, roll_no) DO UPDATE SET
			periods_present = excluded.periods_present,
			total_seconds = excluded.total_seconds,
			updated_at = excluded.updated_at`,
		date, rollNo)
	if err != nil {
		return fmt.Errorf("failed to refresh day summary: %w", err)
	}
	return nil
}

// GetDay returns the full attendance document for a date. Students are
// ordered by roll number and periods by entry time.
func (l *Ledger) GetDay(ctx context.Context, date string) (*DayDocument, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT date, roll_no, period_id, period_name, COALESCE(entry_time, ''),
		       COALESCE(exit_time, ''), present, duration_seconds, attendance_pct
		FROM period_attendance
		WHERE date = ?
		ORDER BY roll_no, entry_time`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query day %s: %w", date, err)
	}
	defer rows.Close()

	doc := &DayDocument{Date: date}
	byRoll := make(map[string]*StudentDay)
	var order []string

	for rows.Next() {
		var r PeriodRecord
		if err := rows.Scan(&r.Date, &r.RollNo, &r.PeriodID, &r.PeriodName,
			&r.EntryTime, &r.ExitTime, &r.Present, &r.DurationSeconds, &r.AttendancePct); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		student, ok := byRoll[r.RollNo]
		if !ok {
			student = &StudentDay{RollNo: r.RollNo}
			byRoll[r.RollNo] = student
			order = append(order, r.RollNo)
		}
		student.Periods = append(student.Periods, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read day rows: %w", err)
	}

	for _, rollNo := range order {
		student := byRoll[rollNo]
		summary, err := l.getSummary(ctx, date, rollNo)
		if err != nil {
			return nil, err
		}
		student.Summary = summary
		doc.Students = append(doc.Students, *student)
	}

	return doc, nil
}

// GetRecord returns the attendance record for one person and period.
func (l *Ledger) GetRecord(ctx context.Context, date, rollNo, periodID string) (PeriodRecord, bool, error) {
	var r PeriodRecord
	err := l.db.QueryRowContext(ctx, `
		SELECT date, roll_no, period_id, period_name, COALESCE(entry_time, ''),
		       COALESCE(exit_time, ''), present, duration_seconds, attendance_pct
		FROM period_attendance
		WHERE date = ? AND roll_no = ? AND period_id = ?`,
		date, rollNo, periodID).
		Scan(&r.Date, &r.RollNo, &r.PeriodID, &r.PeriodName,
			&r.EntryTime, &r.ExitTime, &r.Present, &r.DurationSeconds, &r.AttendancePct)
	if errors.Is(err, sql.ErrNoRows) {
		return PeriodRecord{}, false, nil
	}
	if err != nil {
		return PeriodRecord{}, false, fmt.Errorf("failed to query record: %w", err)
	}
	return r, true, nil
}

// GetSummaries returns the per-person day roll-ups for a date, ordered
// by roll number.
func (l *Ledger) GetSummaries(ctx context.Context, date string) ([]DaySummary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT date, roll_no, periods_present, total_seconds
		FROM day_summary
		WHERE date = ?
		ORDER BY roll_no`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries for %s: %w", date, err)
	}
	defer rows.Close()

	var summaries []DaySummary
	for rows.Next() {
		var s DaySummary
		if err := rows.Scan(&s.Date, &s.RollNo, &s.PeriodsPresent, &s.TotalSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (l *Ledger) getSummary(ctx context.Context, date, rollNo string) (DaySummary, error) {
	var s DaySummary
	err := l.db.QueryRowContext(ctx, `
		SELECT date, roll_no, periods_present, total_seconds
		FROM day_summary
		WHERE date = ? AND roll_no = ?`, date, rollNo).
		Scan(&s.Date, &s.RollNo, &s.PeriodsPresent, &s.TotalSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return DaySummary{Date: date, RollNo: rollNo}, nil
	}
	if err != nil {
		return DaySummary{}, fmt.Errorf("failed to query summary: %w", err)
	}
	return s, nil
}
