package dashboard

import (
	"math"
	"time"
)

// Measurement is a single observation of a metric, At in milliseconds since
// the Unix epoch. Once received it is never modified.
type Measurement struct {
	Metric string  `json:"metric"`
	At     int64   `json:"at"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
}

func (m Measurement) valid() bool {
	return m.Metric != "" && !math.IsNaN(m.Value) && !math.IsInf(m.Value, 0)
}

// Point is one (time, value) pair of a series.
type Point struct {
	At    int64   `json:"at"`
	Value float64 `json:"value"`
}

// Axis identifies the y axis a series is plotted against.
type Axis string

const (
	AxisUnassigned Axis = ""
	AxisPrimary    Axis = "y"
	AxisSecondary  Axis = "y2"
	AxisTertiary   Axis = "y3"
)

// AxisForUnit maps a unit of measure to its axis. Units outside the table map
// to AxisUnassigned.
func AxisForUnit(unit string) Axis {
	switch unit {
	case "F":
		return AxisPrimary
	case "PSI":
		return AxisSecondary
	case "%":
		return AxisTertiary
	default:
		return AxisUnassigned
	}
}

// Palette holds the series colors, assigned by discovery index modulo its
// length.
var Palette = []string{"#8f0505", "#000", "#d73a49", "#673AB7", "#3F51B5", "#00505a"}

// PaletteColor returns the color of the series discovered at index i.
func PaletteColor(i int) string {
	return Palette[i%len(Palette)]
}

// Series is the time-ordered point list of one metric.
type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
	Axis   Axis    `json:"axis"`
	Color  string  `json:"color"`

	// axisFixed is set once the axis has been derived from a measurement. A
	// series bootstrapped without any history leaves it unset until the first
	// live update for the metric arrives.
	axisFixed bool

	placeholder bool
}

// AxisFixed reports whether the axis has been derived from a measurement.
func (s *Series) AxisFixed() bool {
	return s.axisFixed
}

// Len returns the number of points in the series.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Points)
}

// Placeholder returns a new placeholder series. One is appended to every
// filtered view so the chart widget always has at least one trace. It is never
// part of a Collection.
func Placeholder() *Series {
	return &Series{
		Name:        "",
		Points:      []Point{},
		Axis:        AxisPrimary,
		Color:       "#333",
		axisFixed:   true,
		placeholder: true,
	}
}

// IsPlaceholder reports whether s was made by Placeholder.
func IsPlaceholder(s *Series) bool {
	return s != nil && s.placeholder
}

// Collection is the ordered set of series, one per metric, in discovery order.
// A published collection is never modified.
type Collection []*Series

// Names returns the metric names in discovery order.
func (c Collection) Names() []string {
	names := make([]string, 0, len(c))
	for _, s := range c {
		names = append(names, s.Name)
	}
	return names
}

// Points returns the total number of points across all series.
func (c Collection) Points() int {
	n := 0
	for _, s := range c {
		n += s.Len()
	}
	return n
}

// LatestTable holds the most recently applied measurement per metric, in
// discovery order.
type LatestTable []Measurement

// Get returns the latest entry for metric.
func (t LatestTable) Get(metric string) (Measurement, bool) {
	for _, m := range t {
		if m.Metric == metric {
			return m, true
		}
	}
	return Measurement{}, false
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
	StatusClosed  Status = "closed"
)

// Snapshot is the read-only state published by a session after bootstrap and
// after each applied update.
type Snapshot struct {
	Version uint64
	Status  Status
	Metrics []string
	Series  Collection
	Latest  LatestTable
	Err     error
}

// Ready reports whether the snapshot holds a bootstrapped dataset.
func (s *Snapshot) Ready() bool {
	return s != nil && s.Status == StatusReady
}

// HistoryRequest asks for the measurements of one metric after a point in
// time.
type HistoryRequest struct {
	Metric string
	After  time.Time
}

// MetricBatch is the historical measurement list returned for one metric.
type MetricBatch struct {
	Metric       string
	Measurements []Measurement
}
