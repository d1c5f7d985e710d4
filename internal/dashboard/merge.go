package dashboard

// Outcome describes what Apply did with a measurement.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeDuplicate
	OutcomeUnknownMetric
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeUnknownMetric:
		return "unknown_metric"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Err returns the error a rejected measurement is reported with:
// ErrMalformedMeasurement or ErrUnknownMetric. Applied and duplicate
// measurements have none.
func (o Outcome) Err() error {
	switch o {
	case OutcomeMalformed:
		return ErrMalformedMeasurement
	case OutcomeUnknownMetric:
		return ErrUnknownMetric
	default:
		return nil
	}
}

// Engine merges live measurements into a bootstrapped collection. It is owned
// by a single goroutine and is not safe for concurrent use.
//
// Every applied measurement produces a new Collection and LatestTable. Series
// that did not change are shared with the previous collection, so anything
// handed out by Series or Latest stays valid and unchanged.
type Engine struct {
	series Collection
	latest LatestTable
	index  map[string]int

	prev    Measurement
	hasPrev bool
}

// NewEngine returns an engine seeded with the assembled state.
func NewEngine(series Collection, latest LatestTable) *Engine {
	e := &Engine{
		series: series,
		latest: latest,
		index:  make(map[string]int, len(series)),
	}
	for i, s := range series {
		e.index[s.Name] = i
	}
	return e
}

// Series returns the current collection.
func (e *Engine) Series() Collection {
	return e.series
}

// Latest returns the current latest table.
func (e *Engine) Latest() LatestTable {
	return e.latest
}

// Previous returns the last applied measurement.
func (e *Engine) Previous() (Measurement, bool) {
	return e.prev, e.hasPrev
}

// Apply merges m into the collection.
//
// A measurement identical in metric, time and value to the previously applied
// one is a duplicate. Measurements for metrics outside the collection are
// dropped. Otherwise the point is appended to its series as received and the
// metric's latest entry is replaced by m.
func (e *Engine) Apply(m Measurement) Outcome {
	if !m.valid() {
		return OutcomeMalformed
	}
	if e.hasPrev && m.Metric == e.prev.Metric && m.At == e.prev.At && m.Value == e.prev.Value {
		return OutcomeDuplicate
	}
	i, ok := e.index[m.Metric]
	if !ok {
		return OutcomeUnknownMetric
	}

	old := e.series[i]
	// Only the engine appends, and always to the newest slice, so writing past
	// the length of a published slice never overlaps what its readers see.
	points := append(old.Points, Point{At: m.At, Value: m.Value})
	updated := &Series{
		Name:      old.Name,
		Points:    points,
		Axis:      old.Axis,
		Color:     old.Color,
		axisFixed: old.axisFixed,
	}
	if !updated.axisFixed {
		updated.Axis = AxisForUnit(m.Unit)
		updated.axisFixed = true
	}

	series := make(Collection, len(e.series))
	copy(series, e.series)
	series[i] = updated

	latest := make(LatestTable, len(e.latest))
	copy(latest, e.latest)
	for j := range latest {
		if latest[j].Metric == m.Metric {
			latest[j] = m
			break
		}
	}

	e.series = series
	e.latest = latest
	e.prev = m
	e.hasPrev = true
	return OutcomeApplied
}
