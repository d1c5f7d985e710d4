package source

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

// LineWriter writes measurements as newline-delimited envelopes, the format
// the import command reads.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

func (l *LineWriter) Publish(_ context.Context, m dashboard.Measurement) error {
	b, err := EncodeMeasurement(m)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := fmt.Fprintf(l.w, "%s\n", b); err != nil {
		return fmt.Errorf("write measurement: %w", err)
	}
	return nil
}

func (l *LineWriter) Close() error {
	return nil
}
