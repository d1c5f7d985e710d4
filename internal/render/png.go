package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

const (
	DefaultWidth  = 1024
	DefaultHeight = 400
)

// PNG draws series as a time chart. Primary axis series are plotted on the
// left axis; secondary and tertiary axis series share the right one, or take
// the left one when no primary series is drawn. The placeholder and empty
// series are skipped. When there is nothing to draw a blank image of the
// requested size is written instead. Render failures are returned and nothing
// is written.
func PNG(w io.Writer, series []*dashboard.Series, width, height int) error {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	var (
		tss                []chart.TimeSeries
		primary, secondary bool
	)
	for _, s := range series {
		if dashboard.IsPlaceholder(s) || s.Len() == 0 {
			continue
		}
		ts := timeSeries(s)
		if ts.YAxis == chart.YAxisSecondary {
			secondary = true
		} else {
			primary = true
		}
		tss = append(tss, ts)
	}
	if len(tss) == 0 {
		return writeBlank(w, width, height)
	}

	yAxis := chart.YAxis{Name: "F"}
	// go-chart cannot range an empty primary axis.
	if !primary {
		yAxis.Name = "PSI / %"
		secondary = false
		for i := range tss {
			tss[i].YAxis = chart.YAxisPrimary
		}
	}
	cs := make([]chart.Series, 0, len(tss))
	for _, ts := range tss {
		cs = append(cs, ts)
	}
	yAxis.Range = flatRange(tss, chart.YAxisPrimary)

	ch := chart.Chart{
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 20, Left: 16, Right: 12, Bottom: 16}},
		XAxis:      chart.XAxis{ValueFormatter: chart.TimeMinuteValueFormatter},
		YAxis:      yAxis,
		Series:     cs,
	}
	if secondary {
		ch.YAxisSecondary = chart.YAxis{Name: "PSI / %", Range: flatRange(tss, chart.YAxisSecondary)}
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		slog.Warn("chart render failed", "err", err, "series", len(cs))
		return fmt.Errorf("render chart: %w", err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	return nil
}

// flatRange returns a fixed range around the value of an axis whose series
// are all constant, nil otherwise. go-chart cannot scale a zero height range.
func flatRange(tss []chart.TimeSeries, axis chart.YAxisType) chart.Range {
	var (
		lo, hi = math.Inf(1), math.Inf(-1)
		found  bool
	)
	for _, ts := range tss {
		if ts.YAxis != axis {
			continue
		}
		for _, v := range ts.YValues {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
			found = true
		}
	}
	if !found || lo != hi {
		return nil
	}
	return &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
}

func timeSeries(s *dashboard.Series) chart.TimeSeries {
	xs := make([]time.Time, 0, len(s.Points)+1)
	ys := make([]float64, 0, len(s.Points)+1)
	for _, p := range s.Points {
		xs = append(xs, time.UnixMilli(p.At))
		ys = append(ys, p.Value)
	}
	// go-chart needs two x values to compute a range.
	if len(xs) == 1 {
		xs = append(xs, xs[0].Add(time.Second))
		ys = append(ys, ys[0])
	}

	ts := chart.TimeSeries{
		Name:    s.Name,
		XValues: xs,
		YValues: ys,
		Style: chart.Style{
			StrokeColor: colorFromHex(s.Color),
			StrokeWidth: 2,
		},
	}
	switch s.Axis {
	case dashboard.AxisSecondary, dashboard.AxisTertiary:
		ts.YAxis = chart.YAxisSecondary
	default:
		ts.YAxis = chart.YAxisPrimary
	}
	return ts
}

func colorFromHex(hex string) drawing.Color {
	hex = strings.TrimPrefix(hex, "#")
	if hex == "" {
		return chart.ColorBlack
	}
	return drawing.ColorFromHex(hex)
}

func blank(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	return img
}

func writeBlank(w io.Writer, width, height int) error {
	if err := png.Encode(w, blank(width, height)); err != nil {
		return fmt.Errorf("write blank chart: %w", err)
	}
	return nil
}
