package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/ledger"
	"github.com/banshee-data/presence.report/internal/schedule"
	"github.com/banshee-data/presence.report/internal/stream"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

type fixture struct {
	server   *Server
	ledger   *ledger.Ledger
	resolver *schedule.Resolver
	events   *stream.EventLog
	clock    *timeutil.MockClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := ledger.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.MigrateUp(ledger.Migrations()))

	cfg := config.EmptyPipelineConfig()
	clock := timeutil.NewMockClock(time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC))

	resolver := schedule.NewResolver(filepath.Join(t.TempDir(), "timetable.json"), 5)
	require.NoError(t, resolver.Load())

	l := ledger.NewLedger(db, cfg, clock)
	events := stream.NewEventLog(50)

	return &fixture{
		server:   NewServer(cfg, resolver, l, ledger.NewAggregator(l, resolver), events),
		ledger:   l,
		resolver: resolver,
		events:   events,
		clock:    clock,
	}
}

func (f *fixture) addPeriod(t *testing.T, name, start, end string) schedule.Period {
	t.Helper()
	p, err := f.resolver.Upsert(schedule.Period{
		Name: name, StartTime: start, EndTime: end, IsActive: true,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.server.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestShowDay(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.addPeriod(t, "Mathematics", "09:00", "10:00")

	_, err := f.ledger.MarkEntry(context.Background(), "21CS042", p)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/day/2025-03-10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc ledger.DayDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Students, 1)
	assert.Equal(t, "21CS042", doc.Students[0].RollNo)

	// Bad dates are rejected before hitting the database.
	rec = f.do(t, http.MethodGet, "/api/day/not-a-date", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShowSummary(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.addPeriod(t, "Mathematics", "09:00", "10:00")
	f.addPeriod(t, "Physics", "10:10", "11:10")

	_, err := f.ledger.MarkEntry(context.Background(), "21CS042", p)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/summary/2025-03-10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body daySummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Students, 1)
	assert.InDelta(t, 50.0, body.Students[0].AttendancePct, 0.001)

	// One of one seen students present in one of two periods.
	assert.Equal(t, 1, body.StudentCount)
	require.Len(t, body.Periods, 1)
	assert.Equal(t, 1, body.Periods[0].Present)
	assert.Zero(t, body.Periods[0].Absent)
	assert.InDelta(t, 50.0, body.DailyPercent, 0.001)

	// A roster-aware caller supplies the real class size.
	rec = f.do(t, http.MethodGet, "/api/summary/2025-03-10?students=4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Periods, 1)
	assert.Equal(t, 3, body.Periods[0].Absent)
	assert.InDelta(t, 25.0, body.Periods[0].Percent, 0.001)
	assert.InDelta(t, 12.5, body.DailyPercent, 0.001)

	rec = f.do(t, http.MethodGet, "/api/summary/2025-03-10?students=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Empty days return an empty summary, not an error.
	rec = f.do(t, http.MethodGet, "/api/summary/2030-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Students)
	assert.Zero(t, body.DailyPercent)
}

func TestPeriodCRUD(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// Create.
	rec := f.do(t, http.MethodPost, "/api/periods",
		`{"period_name": "Mathematics", "start_time": "09:00", "end_time": "10:00", "is_active": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var created schedule.Period
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	// Overlapping active period conflicts.
	rec = f.do(t, http.MethodPost, "/api/periods",
		`{"period_name": "Chemistry", "start_time": "09:30", "end_time": "10:30", "is_active": true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Invalid period is a bad request.
	rec = f.do(t, http.MethodPost, "/api/periods",
		`{"period_name": "Broken", "start_time": "10:00", "end_time": "09:00"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Update in place.
	rec = f.do(t, http.MethodPut, "/api/periods/"+created.ID,
		`{"period_name": "Mathematics", "start_time": "09:00", "end_time": "09:50", "is_active": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// List reflects the update.
	rec = f.do(t, http.MethodGet, "/api/periods", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var periods []schedule.Period
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &periods))
	require.Len(t, periods, 1)
	assert.Equal(t, "09:50", periods[0].EndTime)

	// Delete.
	rec = f.do(t, http.MethodDelete, "/api/periods/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/periods/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	for i := 0; i < 5; i++ {
		f.events.Append(stream.Event{
			ID:     fmt.Sprintf("evt_%d", i),
			Type:   stream.EventEntry,
			RollNo: "21CS042",
			At:     f.clock.Now(),
		})
	}

	rec = f.do(t, http.MethodGet, "/api/events?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []stream.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 3)
	assert.Equal(t, "evt_4", events[0].ID) // newest first

	rec = f.do(t, http.MethodGet, "/api/events?limit=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShowReport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.addPeriod(t, "Mathematics", "09:00", "10:00")

	// No data yet.
	rec := f.do(t, http.MethodGet, "/api/report/2025-03-10", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := f.ledger.MarkEntry(context.Background(), "21CS042", p)
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/api/report/2025-03-10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Mathematics")
}

func TestShowParams(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/pipeline/params", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg config.PipelineConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
}
