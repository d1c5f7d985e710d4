package dashboard

import "errors"

var (
	// ErrMalformedMeasurement is reported by Outcome.Err when a measurement has
	// no metric name or a non-finite value.
	ErrMalformedMeasurement = errors.New("malformed measurement")

	// ErrUnknownMetric is reported by Outcome.Err when a measurement names a
	// metric that was not part of the bootstrapped metric list.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrAlreadyBootstrapped is returned when a refresh is requested after the
	// session became ready.
	ErrAlreadyBootstrapped = errors.New("session already bootstrapped")

	// ErrSessionClosed is returned for requests made after teardown.
	ErrSessionClosed = errors.New("session closed")
)
