package schedule

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestResolver builds a resolver with a standard morning timetable:
// a class, a short break, then another class.
func newTestResolver(t *testing.T) *Resolver {
	t.Helper()

	r := NewResolver(filepath.Join(t.TempDir(), "timetable.json"), 5)
	require.NoError(t, r.Load())

	for _, p := range []Period{
		{Name: "Mathematics", StartTime: "09:00", EndTime: "10:00", IsActive: true},
		{Name: "Morning Break", StartTime: "10:00", EndTime: "10:10", IsBreak: true, IsActive: true},
		{Name: "Physics", StartTime: "10:10", EndTime: "11:10", IsActive: true},
	} {
		_, err := r.Upsert(p)
		require.NoError(t, err)
	}
	return r
}

func at(hh, mm int) time.Time {
	return time.Date(2025, 3, 10, hh, mm, 0, 0, time.Local)
}

func TestCurrentResolution(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	tests := []struct {
		name  string
		now   time.Time
		want  string
		found bool
	}{
		{"inside first period", at(9, 30), "Mathematics", true},
		{"end of period belongs to next", at(10, 0), "Morning Break", true},
		{"late in first period beats break grace", at(9, 58), "Mathematics", true},
		{"inside break beats first period grace", at(10, 3), "Morning Break", true},
		{"early arrival within grace", at(8, 56), "Mathematics", true},
		{"exactly at end plus grace", at(11, 15), "Physics", true},
		{"one minute past grace", at(11, 16), "", false},
		{"after last period grace", at(12, 0), "", false},
		{"well before school", at(6, 0), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, ok := r.Current(tt.now)
			require.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, p.Name)
		})
	}
}

func TestNext(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	p, ok := r.Next(at(9, 30))
	require.True(t, ok)
	assert.Equal(t, "Morning Break", p.Name)

	_, ok = r.Next(at(11, 0))
	assert.False(t, ok)
}

func TestUpsertOverlap(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	// Active overlap with Mathematics is rejected.
	_, err := r.Upsert(Period{Name: "Chemistry", StartTime: "09:30", EndTime: "10:30", IsActive: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPeriodOverlap))

	// The same range is fine while inactive.
	_, err = r.Upsert(Period{Name: "Chemistry", StartTime: "09:30", EndTime: "10:30"})
	require.NoError(t, err)

	// Updating a period in place does not collide with itself.
	p, ok := r.Current(at(9, 30))
	require.True(t, ok)
	p.EndTime = "09:55"
	_, err = r.Upsert(p)
	require.NoError(t, err)
}

func TestUpsertValidation(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	_, err := r.Upsert(Period{Name: "Bad", StartTime: "10:00", EndTime: "09:00", IsActive: true})
	require.Error(t, err)

	_, err = r.Upsert(Period{Name: "Bad", StartTime: "25:00", EndTime: "26:00"})
	require.Error(t, err)

	_, err = r.Upsert(Period{StartTime: "09:00", EndTime: "10:00"})
	require.Error(t, err)
}

func TestUpsertAssignsID(t *testing.T) {
	t.Parallel()

	r := NewResolver(filepath.Join(t.TempDir(), "timetable.json"), 5)
	require.NoError(t, r.Load())

	p, err := r.Upsert(Period{Name: "Mathematics", StartTime: "09:00", EndTime: "10:00", IsActive: true})
	require.NoError(t, err)
	assert.Contains(t, p.ID, "per_")
	assert.Equal(t, 60, p.DurationMinutes)

	// Timetables exported with seconds parse the same way.
	p, err = r.Upsert(Period{Name: "Physics", StartTime: "10:10:00", EndTime: "11:10:00", IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, 60, p.DurationMinutes)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	periods := r.Periods()
	require.Len(t, periods, 3)

	require.NoError(t, r.Delete(periods[0].ID))
	assert.Len(t, r.Periods(), 2)

	err := r.Delete("per_nonexistent")
	assert.True(t, errors.Is(err, ErrPeriodNotFound))
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "timetable.json")

	first := NewResolver(path, 5)
	require.NoError(t, first.Load())
	_, err := first.Upsert(Period{Name: "Mathematics", StartTime: "09:00", EndTime: "10:00", IsActive: true})
	require.NoError(t, err)
	_, err = first.Upsert(Period{Name: "Physics", StartTime: "10:10", EndTime: "11:10", IsActive: true})
	require.NoError(t, err)

	second := NewResolver(path, 5)
	require.NoError(t, second.Load())

	if diff := cmp.Diff(first.Periods(), second.Periods()); diff != "" {
		t.Errorf("timetable changed across reload (-want +got):\n%s", diff)
	}
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		r := NewResolver(filepath.Join(t.TempDir(), "nope.json"), 5)
		require.NoError(t, r.Load())
		assert.Empty(t, r.Periods())
	})

	t.Run("corrupt file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "timetable.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		r := NewResolver(path, 5)
		require.NoError(t, r.Load())
		assert.Empty(t, r.Periods())
	})
}

func TestPeriodsSortedByStart(t *testing.T) {
	t.Parallel()

	r := NewResolver(filepath.Join(t.TempDir(), "timetable.json"), 5)
	require.NoError(t, r.Load())

	_, err := r.Upsert(Period{Name: "Physics", StartTime: "10:10", EndTime: "11:10", IsActive: true})
	require.NoError(t, err)
	_, err = r.Upsert(Period{Name: "Mathematics", StartTime: "09:00", EndTime: "10:00", IsActive: true})
	require.NoError(t, err)

	periods := r.Periods()
	require.Len(t, periods, 2)
	assert.Equal(t, "Mathematics", periods[0].Name)
	assert.Equal(t, "Physics", periods[1].Name)
}
