// Package render turns dashboard frames into the formats the chart and chip
// widgets consume.
package render

import (
	"strconv"
	"strings"
	"time"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type Line struct {
	Color string `json:"color"`
}

// Trace is one chart trace in the shape of a Plotly scatter trace.
type Trace struct {
	X     []string  `json:"x"`
	Y     []float64 `json:"y"`
	Name  string    `json:"name"`
	YAxis string    `json:"yaxis"`
	Type  string    `json:"type"`
	Line  Line      `json:"line"`
}

// Traces converts series to chart traces, preserving their order. The
// placeholder becomes an empty trace like any other series.
func Traces(series []*dashboard.Series) []Trace {
	traces := make([]Trace, 0, len(series))
	for _, s := range series {
		t := Trace{
			X:     make([]string, 0, len(s.Points)),
			Y:     make([]float64, 0, len(s.Points)),
			Name:  s.Name,
			YAxis: string(s.Axis),
			Type:  "scatter",
			Line:  Line{Color: s.Color},
		}
		for _, p := range s.Points {
			t.X = append(t.X, time.UnixMilli(p.At).UTC().Format(timeFormat))
			t.Y = append(t.Y, p.Value)
		}
		traces = append(traces, t)
	}
	return traces
}

// Chip is the latest value of one metric.
type Chip struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
	At     int64   `json:"at"`
	Label  string  `json:"label"`
}

// Chips converts the latest table to chips, one per metric in table order.
func Chips(latest dashboard.LatestTable) []Chip {
	chips := make([]Chip, 0, len(latest))
	for _, m := range latest {
		chips = append(chips, Chip{
			Metric: m.Metric,
			Value:  m.Value,
			Unit:   m.Unit,
			At:     m.At,
			Label:  Label(m),
		})
	}
	return chips
}

// Label formats a measurement as "<metric> <value> <unit>". The unit is
// omitted when empty.
func Label(m dashboard.Measurement) string {
	parts := []string{m.Metric, strconv.FormatFloat(m.Value, 'f', -1, 64)}
	if m.Unit != "" {
		parts = append(parts, m.Unit)
	}
	return strings.Join(parts, " ")
}

type AxisLayout struct {
	Title      string  `json:"title"`
	Overlaying string  `json:"overlaying,omitempty"`
	Side       string  `json:"side,omitempty"`
	Anchor     string  `json:"anchor,omitempty"`
	Position   float64 `json:"position,omitempty"`
}

// Layout describes the three y axes traces refer to by their yaxis field.
type Layout struct {
	XAxis  AxisLayout `json:"xaxis"`
	YAxis  AxisLayout `json:"yaxis"`
	YAxis2 AxisLayout `json:"yaxis2"`
	YAxis3 AxisLayout `json:"yaxis3"`
}

func NewLayout() Layout {
	return Layout{
		XAxis:  AxisLayout{Title: "time"},
		YAxis:  AxisLayout{Title: "F"},
		YAxis2: AxisLayout{Title: "PSI", Overlaying: "y", Side: "right"},
		YAxis3: AxisLayout{Title: "%", Overlaying: "y", Side: "right", Anchor: "free", Position: 0.95},
	}
}
