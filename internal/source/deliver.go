package source

import (
	"log/slog"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

// Deliver decodes payload and hands the measurement to fn. Payloads that do
// not decode are logged, counted and dropped.
func Deliver(name string, metrics *Metrics, payload []byte, fn func(dashboard.Measurement)) {
	metrics.Received(name)
	m, err := DecodeMeasurement(payload)
	if err != nil {
		metrics.Malformed(name)
		slog.Warn("dropping malformed measurement", "source", name, "err", err)
		return
	}
	fn(m)
}
