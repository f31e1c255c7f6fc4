package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/schedule"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

func setupAggregator(t *testing.T) (*Aggregator, *Ledger, *timeutil.MockClock) {
	t.Helper()

	l, clock := setupLedger(t, config.EmptyPipelineConfig())

	resolver := schedule.NewResolver(filepath.Join(t.TempDir(), "timetable.json"), 5)
	require.NoError(t, resolver.Load())
	for _, p := range []schedule.Period{
		{ID: "per_maths", Name: "Mathematics", StartTime: "09:00", EndTime: "10:00", IsActive: true},
		{ID: "per_break", Name: "Morning Break", StartTime: "10:00", EndTime: "10:10", IsBreak: true, IsActive: true},
		{ID: "per_physics", Name: "Physics", StartTime: "10:10", EndTime: "11:10", IsActive: true},
	} {
		_, err := resolver.Upsert(p)
		require.NoError(t, err)
	}

	return NewAggregator(l, resolver), l, clock
}

func TestDaySummariesPercentage(t *testing.T) {
	t.Parallel()

	agg, l, _ := setupAggregator(t)
	ctx := context.Background()

	// Present for one of two countable periods (the break is excluded
	// from the denominator).
	_, err := l.MarkEntry(ctx, "21CS042", mathsPeriod)
	require.NoError(t, err)

	summaries, err := agg.DaySummaries(ctx, "2025-03-10")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.InDelta(t, 50.0, summaries[0].AttendancePct, 0.001)
}

func TestDaySummariesEmptyTimetable(t *testing.T) {
	t.Parallel()

	l, _ := setupLedger(t, config.EmptyPipelineConfig())
	resolver := schedule.NewResolver(filepath.Join(t.TempDir(), "timetable.json"), 5)
	require.NoError(t, resolver.Load())
	agg := NewAggregator(l, resolver)
	ctx := context.Background()

	_, err := l.MarkEntry(ctx, "21CS042", mathsPeriod)
	require.NoError(t, err)

	// No periods configured: percentage stays zero instead of dividing
	// by zero.
	summaries, err := agg.DaySummaries(ctx, "2025-03-10")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 0.0, summaries[0].AttendancePct)
}

func TestPeriodCounts(t *testing.T) {
	t.Parallel()

	agg, l, clock := setupAggregator(t)
	ctx := context.Background()

	physics := schedule.Period{ID: "per_physics", Name: "Physics", StartTime: "10:10", EndTime: "11:10", IsActive: true}

	_, err := l.MarkEntry(ctx, "21CS042", mathsPeriod)
	require.NoError(t, err)
	_, err = l.MarkEntry(ctx, "21CS099", mathsPeriod)
	require.NoError(t, err)

	clock.Advance(70 * time.Minute) // into physics
	_, err = l.MarkEntry(ctx, "21CS042", physics)
	require.NoError(t, err)

	counts, err := agg.PeriodCounts(ctx, "2025-03-10")
	require.NoError(t, err)
	require.Len(t, counts, 2)

	// Ordered by first entry time.
	assert.Equal(t, "Mathematics", counts[0].PeriodName)
	assert.Equal(t, 2, counts[0].Present)
	assert.Equal(t, "Physics", counts[1].PeriodName)
	assert.Equal(t, 1, counts[1].Present)
}

func TestPeriodSummaries(t *testing.T) {
	t.Parallel()

	agg, l, _ := setupAggregator(t)
	ctx := context.Background()

	_, err := l.MarkEntry(ctx, "21CS042", mathsPeriod)
	require.NoError(t, err)
	_, err = l.MarkEntry(ctx, "21CS099", mathsPeriod)
	require.NoError(t, err)

	summaries, err := agg.PeriodSummaries(ctx, "2025-03-10", 5)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].Present)
	assert.Equal(t, 3, summaries[0].Absent)
	assert.InDelta(t, 40.0, summaries[0].Percent, 0.001)

	// Zero class size degrades to counts only.
	summaries, err = agg.PeriodSummaries(ctx, "2025-03-10", 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Zero(t, summaries[0].Absent)
	assert.Zero(t, summaries[0].Percent)
}

func TestDailyPercent(t *testing.T) {
	t.Parallel()

	agg, l, clock := setupAggregator(t)
	ctx := context.Background()

	physics := schedule.Period{ID: "per_physics", Name: "Physics", StartTime: "10:10", EndTime: "11:10", IsActive: true}

	_, err := l.MarkEntry(ctx, "21CS042", mathsPeriod)
	require.NoError(t, err)
	clock.Advance(70 * time.Minute)
	_, err = l.MarkEntry(ctx, "21CS042", physics)
	require.NoError(t, err)

	// One student attended both countable periods; class of two.
	pct, err := agg.DailyPercent(ctx, "2025-03-10", 2)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, pct, 0.001)

	// Zero students never divides by zero.
	pct, err = agg.DailyPercent(ctx, "2025-03-10", 0)
	require.NoError(t, err)
	assert.Zero(t, pct)
}
