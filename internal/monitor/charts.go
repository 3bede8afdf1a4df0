package monitor

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// PathChart plots the car positions, their destinations and the
// configured waypoints in arena pixel coordinates.
func PathChart(title, subtitle string, points []TrailPoint, waypoints []arena.Waypoint) *charts.Scatter {
	path := make([]opts.ScatterData, 0, len(points))
	seen := map[[2]int]bool{}
	var dests []opts.ScatterData
	for _, p := range points {
		path = append(path, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
		if !p.Navigating {
			continue
		}
		key := [2]int{p.DestX, p.DestY}
		if !seen[key] {
			seen[key] = true
			dests = append(dests, opts.ScatterData{Value: []interface{}{p.DestX, p.DestY}})
		}
	}
	wps := make([]opts.ScatterData, 0, len(waypoints))
	for i, wp := range waypoints {
		wps = append(wps, opts.ScatterData{Name: strconv.Itoa(i), Value: []interface{}{wp.X, wp.Y}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "700px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y (px)", NameLocation: "middle", NameGap: 35}),
	)
	scatter.AddSeries("path", path, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("destination", dests, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	scatter.AddSeries("waypoints", wps,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 9}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "right", Formatter: "{b}"}),
	)
	return scatter
}

// CommandChart plots the autopilot command axes over the trail.
func CommandChart(points []TrailPoint) *charts.Line {
	x := make([]string, len(points))
	moveX := make([]opts.LineData, len(points))
	moveY := make([]opts.LineData, len(points))
	rotate := make([]opts.LineData, len(points))
	for i, p := range points {
		if i == 0 {
			x[i] = "0"
		} else {
			x[i] = fmt.Sprintf("%.2f", p.Time.Sub(points[0].Time).Seconds())
		}
		moveX[i] = opts.LineData{Value: p.MoveX}
		moveY[i] = opts.LineData{Value: p.MoveY}
		rotate[i] = opts.LineData{Value: p.Rotate}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "900px", Height: "400px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Autopilot commands"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -32768, Max: 32768}),
	)
	line.SetXAxis(x).
		AddSeries("move_x", moveX).
		AddSeries("move_y", moveY).
		AddSeries("rotate", rotate)
	return line
}

// RenderPage writes the charts as one HTML page.
func RenderPage(w io.Writer, cs ...components.Charter) error {
	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(cs...)
	return page.Render(w)
}
