package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/presence.report/internal/monitoring"
)

// Resolver holds the timetable and answers "which period is it?"
// with a grace window on each side of every period, so someone
// arriving a few minutes early is credited to the right period.
// Safe for concurrent use.
type Resolver struct {
	path  string
	grace time.Duration

	mu      sync.RWMutex
	periods []Period
}

// NewResolver creates a resolver backed by a JSON file at path.
func NewResolver(path string, graceMinutes int) *Resolver {
	return &Resolver{
		path:  path,
		grace: time.Duration(graceMinutes) * time.Minute,
	}
}

// Load reads the timetable file. A missing or corrupt file yields an
// empty timetable rather than an error so the appliance always comes
// up; corruption is logged.
func (r *Resolver) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.periods = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read timetable %s: %w", r.path, err)
	}

	var periods []Period
	if err := json.Unmarshal(data, &periods); err != nil {
		monitoring.Logf("schedule: timetable %s is corrupt, starting empty: %v", r.path, err)
		r.periods = nil
		return nil
	}

	sortPeriods(periods)
	r.periods = periods
	return nil
}

// save writes the timetable atomically via a temp file rename.
// Caller must hold r.mu.
func (r *Resolver) save() error {
	data, err := json.MarshalIndent(r.periods, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode timetable: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create timetable dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write timetable: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace timetable: %w", err)
	}
	return nil
}

// Periods returns a copy of the timetable sorted by start time.
func (r *Resolver) Periods() []Period {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Period, len(r.periods))
	copy(out, r.periods)
	return out
}

// Get returns the period with the given ID.
func (r *Resolver) Get(id string) (Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.periods {
		if p.ID == id {
			return p, nil
		}
	}
	return Period{}, ErrPeriodNotFound
}

// Upsert validates and inserts or replaces a period, then persists
// the timetable. A period without an ID is assigned one. Active
// periods must not overlap other active periods; inactive periods are
// exempt so old timetables can be kept around.
func (r *Resolver) Upsert(p Period) (Period, error) {
	if err := p.Validate(); err != nil {
		return Period{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = fmt.Sprintf("per_%s", uuid.NewString())
	}
	p.DurationMinutes = p.endMinutes() - p.startMinutes()

	if p.IsActive {
		for _, existing := range r.periods {
			if existing.ID == p.ID || !existing.IsActive {
				continue
			}
			if p.overlaps(existing) {
				return Period{}, fmt.Errorf("%q vs %q: %w", p.Name, existing.Name, ErrPeriodOverlap)
			}
		}
	}

	replaced := false
	for i, existing := range r.periods {
		if existing.ID == p.ID {
			r.periods[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		r.periods = append(r.periods, p)
	}
	sortPeriods(r.periods)

	if err := r.save(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Delete removes a period by ID and persists the timetable.
func (r *Resolver) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.periods {
		if p.ID == id {
			r.periods = append(r.periods[:i], r.periods[i+1:]...)
			return r.save()
		}
	}
	return ErrPeriodNotFound
}

// Current resolves the active period for the given time. A time inside
// a period's own range wins outright; otherwise the grace window
// around each period is consulted, earliest start first. Returns false
// when no active period claims the time.
func (r *Resolver) Current(now time.Time) (Period, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	minute := minutesOfDay(now)
	graceMin := int(r.grace.Minutes())

	for _, p := range r.periods {
		if !p.IsActive {
			continue
		}
		if minute >= p.startMinutes() && minute < p.endMinutes() {
			return p, true
		}
	}

	for _, p := range r.periods {
		if !p.IsActive {
			continue
		}
		// Closed interval: an exit at exactly end+grace still counts.
		if minute >= p.startMinutes()-graceMin && minute <= p.endMinutes()+graceMin {
			return p, true
		}
	}

	return Period{}, false
}

// Next returns the first active period starting after the given time.
func (r *Resolver) Next(now time.Time) (Period, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	minute := minutesOfDay(now)
	for _, p := range r.periods {
		if p.IsActive && p.startMinutes() > minute {
			return p, true
		}
	}
	return Period{}, false
}
