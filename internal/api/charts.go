package api

import (
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/presence.report/internal/monitoring"
)

// showReport renders a quick per-period headcount bar chart (HTML)
// using go-echarts. Intended for an operator glancing at the day
// without the full dashboard.
func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	date, ok := s.pathDate(w, r)
	if !ok {
		return
	}

	counts, err := s.aggregator.PeriodCounts(r.Context(), date)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load period counts: %v", err))
		return
	}
	if len(counts) == 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no attendance recorded for %s", date))
		return
	}

	names := make([]string, 0, len(counts))
	values := make([]opts.BarData, 0, len(counts))
	for _, c := range counts {
		names = append(names, c.PeriodName)
		values = append(values, opts.BarData{Value: c.Present})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Attendance %s", date),
			Subtitle: "students recorded per period",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries("present", values)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bar.Render(w); err != nil {
		monitoring.Logf("api: failed to render report chart: %v", err)
	}
}
