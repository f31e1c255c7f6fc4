package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// SimpleRecord is one person's whole-day record in the flat-file
// ledger: first entry and last exit, no period breakdown.
type SimpleRecord struct {
	Entry           string `json:"entry"`
	Exit            string `json:"exit,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
}

// SimpleLedger is the flat-file predecessor of the database ledger:
// one JSON file per day mapping roll number to entry or exit stamps.
// Kept for deployments that export the day files to an external
// system. Safe for concurrent use.
type SimpleLedger struct {
	dir   string
	clock timeutil.Clock

	mu sync.Mutex
}

// NewSimpleLedger creates a flat-file ledger writing into dir.
func NewSimpleLedger(dir string, clock timeutil.Clock) *SimpleLedger {
	return &SimpleLedger{dir: dir, clock: clock}
}

func (s *SimpleLedger) dayPath(date string) string {
	return filepath.Join(s.dir, fmt.Sprintf("attendance_%s.json", date))
}

// MarkEntry records the first entry of the day for rollNo. Later
// entries are ignored. Returns true if a new record was written.
func (s *SimpleLedger) MarkEntry(rollNo string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	date := now.Format(dateLayout)

	day, err := s.loadDay(date)
	if err != nil {
		return false, err
	}

	if _, exists := day[rollNo]; exists {
		return false, nil
	}

	day[rollNo] = SimpleRecord{Entry: now.Format(timeLayout)}
	return true, s.saveDay(date, day)
}

// MarkExit records the latest exit of the day for rollNo and
// recomputes the duration. Returns ErrNoEntry if no entry exists.
func (s *SimpleLedger) MarkExit(rollNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	date := now.Format(dateLayout)

	day, err := s.loadDay(date)
	if err != nil {
		return err
	}

	record, exists := day[rollNo]
	if !exists {
		return ErrNoEntry
	}

	record.Exit = now.Format(timeLayout)
	record.DurationSeconds = stayDuration(record.Entry, record.Exit)
	day[rollNo] = record

	return s.saveDay(date, day)
}

// Day returns the records for a date. A missing day file yields an
// empty map.
func (s *SimpleLedger) Day(date string) (map[string]SimpleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadDay(date)
}

// loadDay reads a day file. Missing files yield an empty day; corrupt
// files are logged and replaced rather than blocking marks.
// Caller must hold s.mu.
func (s *SimpleLedger) loadDay(date string) (map[string]SimpleRecord, error) {
	data, err := os.ReadFile(s.dayPath(date))
	if os.IsNotExist(err) {
		return make(map[string]SimpleRecord), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read day file for %s: %w", date, err)
	}

	day := make(map[string]SimpleRecord)
	if err := json.Unmarshal(data, &day); err != nil {
		monitoring.Logf("ledger: day file for %s is corrupt, starting fresh: %v", date, err)
		return make(map[string]SimpleRecord), nil
	}
	return day, nil
}

// saveDay writes a day file atomically via temp file rename.
// Caller must hold s.mu.
func (s *SimpleLedger) saveDay(date string, day map[string]SimpleRecord) error {
	data, err := json.MarshalIndent(day, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode day file: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger dir: %w", err)
	}

	path := s.dayPath(date)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write day file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace day file: %w", err)
	}
	return nil
}
