package sqlstore

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedDialect is returned for SQL providers the store cannot
	// talk to.
	ErrUnsupportedDialect = errors.New("unsupported sql dialect")

	// ErrInvalidScan is returned when row scanning fails.
	ErrInvalidScan = errors.New("invalid row scan")
)

// queryError wraps err with the operation and, optionally, the metric it
// concerned.
func queryError(err error, operation string, metric string) error {
	if metric != "" {
		return fmt.Errorf("%s: metric %q: %w", operation, metric, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// connectionError wraps connection errors with the database type.
func connectionError(err error, dbType string, details string) error {
	if details != "" {
		return fmt.Errorf("failed to connect to %s database: %s: %w", dbType, details, err)
	}
	return fmt.Errorf("failed to connect to %s database: %w", dbType, err)
}
