package api

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/occupancy.report/internal/httputil"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
)

// scoreSegments splits samples into runs of readable scores. Faulted samples
// end a run, so the plot shows a break where the thermal array failed.
func scoreSegments(samples []occupancy.Presence) []plotter.XYs {
	var segments []plotter.XYs
	var cur plotter.XYs
	for i, p := range samples {
		if math.IsNaN(p.Score) {
			if len(cur) > 0 {
				segments = append(segments, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: float64(i), Y: p.Score})
	}
	if len(cur) > 0 {
		segments = append(segments, cur)
	}
	return segments
}

// handlePresencePlot draws the retained presence scores against the
// configured threshold.
func (s *Server) handlePresencePlot(w http.ResponseWriter, r *http.Request) {
	samples := s.scores.Samples()
	segments := scoreSegments(samples)
	if len(segments) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no presence samples yet")
		return
	}

	threshold := s.machine.Config().PresenceThreshold

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Presence score (%d samples)", len(samples))
	p.X.Label.Text = "sample"
	p.Y.Label.Text = "score"
	p.Add(plotter.NewGrid())

	for i, pts := range segments {
		line, err := plotter.NewLine(pts)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("plot error: %v", err))
			return
		}
		line.Width = vg.Points(1)
		line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		p.Add(line)
		if i == 0 {
			p.Legend.Add("score", line)
		}
	}

	limit := plotter.NewFunction(func(float64) float64 { return threshold })
	limit.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	limit.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(limit)
	p.Legend.Add("threshold", limit)
	p.Y.Min = math.Min(p.Y.Min, threshold-10)
	p.Y.Max = math.Max(p.Y.Max, threshold+10)

	wt, err := p.WriterTo(8*vg.Inch, 3*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("plot error: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("plot error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
