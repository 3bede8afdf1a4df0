package monitor

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
)

var (
	pathColor     = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	waypointColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// TrajectoryPlot draws the trail as a line with the waypoints marked.
func TrajectoryPlot(title string, points []TrailPoint, waypoints []arena.Waypoint) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.Legend.Top = true

	if len(points) > 0 {
		xys := make(plotter.XYs, len(points))
		for i, pt := range points {
			xys[i] = plotter.XY{X: float64(pt.X), Y: float64(pt.Y)}
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("failed to build path line: %w", err)
		}
		line.Color = pathColor
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("path", line)
	}

	if len(waypoints) > 0 {
		xys := make(plotter.XYs, len(waypoints))
		for i, wp := range waypoints {
			xys[i] = plotter.XY{X: float64(wp.X), Y: float64(wp.Y)}
		}
		marks, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, fmt.Errorf("failed to build waypoint marks: %w", err)
		}
		marks.Color = waypointColor
		marks.Shape = draw.CrossGlyph{}
		marks.Radius = vg.Points(4)
		p.Add(marks)
		p.Legend.Add("waypoints", marks)
	}
	return p, nil
}

// WriteTrajectoryPNG renders TrajectoryPlot as a PNG.
func WriteTrajectoryPNG(w io.Writer, title string, points []TrailPoint, waypoints []arena.Waypoint) error {
	p, err := TrajectoryPlot(title, points, waypoints)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
