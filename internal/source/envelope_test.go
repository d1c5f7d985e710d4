package source

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

func TestDecodeMeasurement(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    dashboard.Measurement
		wantErr error
	}{
		{
			name:    "envelope",
			payload: `{"newMeasurement":{"metric":"T1","at":1000,"value":72,"unit":"F"}}`,
			want:    dashboard.Measurement{Metric: "T1", At: 1000, Value: 72, Unit: "F"},
		},
		{
			name:    "bare object",
			payload: `{"metric":"P1","at":5,"value":30.5,"unit":"PSI"}`,
			want:    dashboard.Measurement{Metric: "P1", At: 5, Value: 30.5, Unit: "PSI"},
		},
		{
			name:    "zero values are present values",
			payload: `{"metric":"H1","at":0,"value":0}`,
			want:    dashboard.Measurement{Metric: "H1"},
		},
		{
			name:    "missing metric",
			payload: `{"newMeasurement":{"at":1,"value":1}}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "missing at",
			payload: `{"metric":"T1","value":1}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "missing value",
			payload: `{"metric":"T1","at":1}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "not json",
			payload: `T1=72`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "wrong type",
			payload: `{"metric":"T1","at":"yesterday","value":1}`,
			wantErr: ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMeasurement([]byte(tt.payload))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeMeasurement(t *testing.T) {
	m := dashboard.Measurement{Metric: "T1", At: 1000, Value: 72, Unit: "F"}
	b, err := EncodeMeasurement(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"newMeasurement":{"metric":"T1","at":1000,"value":72,"unit":"F"}}`, string(b))
}

func TestDeliver(t *testing.T) {
	metrics := NewMetrics(nil)
	var got []dashboard.Measurement
	fn := func(m dashboard.Measurement) { got = append(got, m) }

	Deliver("test", metrics, []byte(`{"metric":"T1","at":1,"value":2}`), fn)
	Deliver("test", metrics, []byte(`{"metric":"T1"}`), fn)

	assert.Equal(t, []dashboard.Measurement{{Metric: "T1", At: 1, Value: 2}}, got)
}

func TestLineWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf)
	require.NoError(t, w.Publish(context.Background(), dashboard.Measurement{Metric: "T1", At: 1000, Value: 72, Unit: "F"}))
	require.NoError(t, w.Publish(context.Background(), dashboard.Measurement{Metric: "P1", At: 2000, Value: 30, Unit: "PSI"}))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	m, err := DecodeMeasurement([]byte(lines[1]))
	require.NoError(t, err)
	assert.Equal(t, dashboard.Measurement{Metric: "P1", At: 2000, Value: 30, Unit: "PSI"}, m)
}
