package source

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField is returned when a pushed measurement lacks metric, at
	// or value.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidPayload is returned when a pushed payload is not a JSON
	// measurement.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnsupportedProvider is returned for provider names no source
	// implements.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

func missingField(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, name)
}
