// Package api serves the attendance HTTP surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/ledger"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/schedule"
	"github.com/banshee-data/presence.report/internal/stream"
	"github.com/banshee-data/presence.report/internal/version"
)

const dateLayout = "2006-01-02"

// Server bundles the HTTP handlers and their dependencies.
type Server struct {
	cfg        *config.PipelineConfig
	resolver   *schedule.Resolver
	ledger     *ledger.Ledger
	aggregator *ledger.Aggregator
	events     *stream.EventLog
}

// NewServer builds a server over the shared components.
func NewServer(cfg *config.PipelineConfig, resolver *schedule.Resolver, l *ledger.Ledger, agg *ledger.Aggregator, events *stream.EventLog) *Server {
	return &Server{
		cfg:        cfg,
		resolver:   resolver,
		ledger:     l,
		aggregator: agg,
		events:     events,
	}
}

// ServeMux returns the route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/day/{date}", s.showDay)
	mux.HandleFunc("GET /api/summary/{date}", s.showSummary)
	mux.HandleFunc("GET /api/report/{date}", s.showReport)
	mux.HandleFunc("GET /api/periods", s.listPeriods)
	mux.HandleFunc("POST /api/periods", s.upsertPeriod)
	mux.HandleFunc("PUT /api/periods/{id}", s.updatePeriod)
	mux.HandleFunc("DELETE /api/periods/{id}", s.deletePeriod)
	mux.HandleFunc("GET /api/events", s.listEvents)
	mux.HandleFunc("GET /api/pipeline/params", s.showParams)
	mux.HandleFunc("GET /healthz", s.healthz)
	return mux
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf("[%d] %s %s %vms",
			lrw.statusCode, r.Method, r.RequestURI,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: failed to write response: %v", err)
	}
}

// pathDate extracts and validates the {date} path segment.
func (s *Server) pathDate(w http.ResponseWriter, r *http.Request) (string, bool) {
	date := r.PathValue("date")
	if _, err := time.Parse(dateLayout, date); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q, want YYYY-MM-DD", date))
		return "", false
	}
	return date, true
}

func (s *Server) showDay(w http.ResponseWriter, r *http.Request) {
	date, ok := s.pathDate(w, r)
	if !ok {
		return
	}

	doc, err := s.ledger.GetDay(r.Context(), date)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load day: %v", err))
		return
	}
	s.writeJSON(w, doc)
}

// daySummaryResponse is the /api/summary payload: per-student and
// per-period roll-ups plus the overall percentage.
type daySummaryResponse struct {
	Date         string                 `json:"date"`
	StudentCount int                    `json:"student_count"`
	DailyPercent float64                `json:"daily_percent"`
	Students     []ledger.DaySummary    `json:"students"`
	Periods      []ledger.PeriodSummary `json:"periods"`
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	date, ok := s.pathDate(w, r)
	if !ok {
		return
	}

	students, err := s.aggregator.DaySummaries(r.Context(), date)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load summaries: %v", err))
		return
	}
	if students == nil {
		students = []ledger.DaySummary{}
	}

	// Class size defaults to the number of students seen that day; a
	// roster-aware caller overrides it with ?students=N.
	studentCount := len(students)
	if n := r.URL.Query().Get("students"); n != "" {
		parsed, err := strconv.Atoi(n)
		if err != nil || parsed < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid 'students' parameter")
			return
		}
		studentCount = parsed
	}

	periods, err := s.aggregator.PeriodSummaries(r.Context(), date, studentCount)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load period summaries: %v", err))
		return
	}
	if periods == nil {
		periods = []ledger.PeriodSummary{}
	}

	daily, err := s.aggregator.DailyPercent(r.Context(), date, studentCount)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to compute daily percent: %v", err))
		return
	}

	s.writeJSON(w, daySummaryResponse{
		Date:         date,
		StudentCount: studentCount,
		DailyPercent: daily,
		Students:     students,
		Periods:      periods,
	})
}

func (s *Server) listPeriods(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.resolver.Periods())
}

func (s *Server) upsertPeriod(w http.ResponseWriter, r *http.Request) {
	var p schedule.Period
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid period body: %v", err))
		return
	}
	s.savePeriod(w, p)
}

func (s *Server) updatePeriod(w http.ResponseWriter, r *http.Request) {
	var p schedule.Period
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid period body: %v", err))
		return
	}
	p.ID = r.PathValue("id")
	s.savePeriod(w, p)
}

func (s *Server) savePeriod(w http.ResponseWriter, p schedule.Period) {
	saved, err := s.resolver.Upsert(p)
	switch {
	case errors.Is(err, schedule.ErrPeriodOverlap):
		s.writeJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, saved)
}

func (s *Server) deletePeriod(w http.ResponseWriter, r *http.Request) {
	err := s.resolver.Delete(r.PathValue("id"))
	switch {
	case errors.Is(err, schedule.ErrPeriodNotFound):
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	events := s.events.Recent(limit)
	if events == nil {
		events = []stream.Event{}
	}
	s.writeJSON(w, events)
}

func (s *Server) showParams(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.cfg)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}
