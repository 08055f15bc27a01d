package monitor

import (
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/odometry.report/internal/monitoring"
)

// handleTrajectoryChart renders the recent trajectory as an interactive
// scatter chart (HTML). This is a debugging-only endpoint (no auth) to eyeball
// the track without an external viewer. The horizontal plane of the camera
// frame is (z, x): z is forward, x is left.
func (ws *WebServer) handleTrajectoryChart(w http.ResponseWriter, r *http.Request) {
	poses := ws.recentPoses()
	if len(poses) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no poses recorded yet")
		return
	}

	data := make([]opts.ScatterData, 0, len(poses))
	degenerate := make([]opts.ScatterData, 0)
	for _, p := range poses {
		d := opts.ScatterData{Value: []interface{}{p.Position.Z, p.Position.X}, SymbolSize: 4}
		if p.Degenerate {
			degenerate = append(degenerate, d)
		} else {
			data = append(data, d)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "odometry trajectory",
			Subtitle: fmt.Sprintf("%d poses, horizontal plane (z forward, x left)", len(poses)),
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "z (m)", Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "x (m)", Scale: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	scatter.AddSeries("trajectory", data)
	if len(degenerate) > 0 {
		scatter.AddSeries("degenerate", degenerate)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := scatter.Render(w); err != nil {
		monitoring.Logf("monitor: render trajectory chart: %v", err)
	}
}
