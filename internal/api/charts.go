package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/occupancy.report/internal/httputil"
)

// AttachAdminRoutes mounts the debug charts under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("occupancy-chart", "hourly entries and exits (last 24h)", s.handleHourlyChart)
	debug.HandleFunc("presence.png", "recent thermal presence scores", s.handlePresencePlot)
}

// handleHourlyChart renders entered/left per hour as a grouped bar chart.
func (s *Server) handleHourlyChart(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "event store unavailable")
		return
	}

	now := s.now()
	rollup, err := s.store.HourlyRollup(r.Context(), now.Add(-24*time.Hour))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve hourly counts: %v", err))
		return
	}

	x := make([]string, 0, len(rollup))
	entered := make([]opts.BarData, 0, len(rollup))
	left := make([]opts.BarData, 0, len(rollup))
	for _, h := range rollup {
		x = append(x, h.Hour.Local().Format("Jan 2 15:04"))
		entered = append(entered, opts.BarData{Value: h.Entered})
		left = append(left, opts.BarData{Value: h.Left})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Occupancy", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Doorway crossings", Subtitle: now.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("entered", entered).
		AddSeries("left", left)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
