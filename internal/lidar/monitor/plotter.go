package monitor

import (
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/odometry.report/internal/monitoring"
)

// handleTrackPlot renders the recent trajectory to a PNG for quick sharing
// in reports. Same plane convention as the interactive chart.
func (ws *WebServer) handleTrackPlot(w http.ResponseWriter, r *http.Request) {
	poses := ws.recentPoses()
	if len(poses) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no poses recorded yet")
		return
	}

	pts := make(plotter.XYs, len(poses))
	for i, pose := range poses {
		pts[i].X = pose.Position.Z
		pts[i].Y = pose.Position.X
	}

	p := plot.New()
	p.Title.Text = "odometry track"
	p.X.Label.Text = "z (m)"
	p.Y.Label.Text = "x (m)"
	p.Add(plotter.NewGrid())

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	points.Shape = draw.CircleGlyph{}
	points.Radius = vg.Points(1.5)
	p.Add(line, points)

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		monitoring.Logf("monitor: write track plot: %v", err)
	}
}
