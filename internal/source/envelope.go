package source

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

// wireMeasurement is the JSON shape of a pushed measurement. Pointers tell a
// missing field apart from a zero value.
type wireMeasurement struct {
	Metric *string  `json:"metric"`
	At     *int64   `json:"at"`
	Value  *float64 `json:"value"`
	Unit   string   `json:"unit"`
}

type envelope struct {
	NewMeasurement *wireMeasurement `json:"newMeasurement"`
}

// DecodeMeasurement decodes a pushed payload. Both the subscription envelope
// {"newMeasurement": {...}} and a bare measurement object are accepted.
func DecodeMeasurement(payload []byte) (dashboard.Measurement, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return dashboard.Measurement{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	w := env.NewMeasurement
	if w == nil {
		w = &wireMeasurement{}
		if err := json.Unmarshal(payload, w); err != nil {
			return dashboard.Measurement{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	}
	return w.measurement()
}

func (w *wireMeasurement) measurement() (dashboard.Measurement, error) {
	switch {
	case w.Metric == nil || *w.Metric == "":
		return dashboard.Measurement{}, missingField("metric")
	case w.At == nil:
		return dashboard.Measurement{}, missingField("at")
	case w.Value == nil:
		return dashboard.Measurement{}, missingField("value")
	}
	if math.IsNaN(*w.Value) || math.IsInf(*w.Value, 0) {
		return dashboard.Measurement{}, fmt.Errorf("%w: non-finite value", ErrInvalidPayload)
	}
	return dashboard.Measurement{
		Metric: *w.Metric,
		At:     *w.At,
		Value:  *w.Value,
		Unit:   w.Unit,
	}, nil
}

// EncodeMeasurement wraps m in the subscription envelope.
func EncodeMeasurement(m dashboard.Measurement) ([]byte, error) {
	return json.Marshal(map[string]dashboard.Measurement{"newMeasurement": m})
}
