package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolastakashi/opsdash/internal/config"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakePruner) DeleteMeasurementsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, f.err
}

func (f *fakePruner) calls() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.cutoffs...)
}

func validConfig() config.RetentionConfig {
	return config.RetentionConfig{
		Enabled:    true,
		Interval:   time.Hour,
		RunTimeout: 5 * time.Minute,
		MaxAge:     24 * time.Hour,
	}
}

func TestNewWorker(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.RetentionConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.RetentionConfig) {}},
		{name: "zero interval", mutate: func(c *config.RetentionConfig) { c.Interval = 0 }, wantErr: "interval must be positive"},
		{name: "negative run timeout", mutate: func(c *config.RetentionConfig) { c.RunTimeout = -time.Minute }, wantErr: "run_timeout must be positive"},
		{name: "zero max age", mutate: func(c *config.RetentionConfig) { c.MaxAge = 0 }, wantErr: "max_age must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			w, err := NewWorker(&fakePruner{}, cfg, prometheus.NewRegistry())
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, w)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, cfg.MaxAge, w.maxAge)
		})
	}

	_, err := NewWorker(nil, validConfig(), prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestWorker_runOnce(t *testing.T) {
	p := &fakePruner{deleted: 42}
	w, err := NewWorker(p, validConfig(), prometheus.NewRegistry())
	require.NoError(t, err)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	w.runOnce(context.Background())

	assert.Equal(t, []time.Time{now.Add(-24 * time.Hour)}, p.calls())
	assert.Equal(t, 42.0, testutil.ToFloat64(w.deleted))
	assert.Equal(t, 1, testutil.CollectAndCount(w.runDuration))
}

func TestWorker_runOnce_Error(t *testing.T) {
	p := &fakePruner{deleted: 7, err: errors.New("database error")}
	w, err := NewWorker(p, validConfig(), prometheus.NewRegistry())
	require.NoError(t, err)

	w.runOnce(context.Background())

	assert.Len(t, p.calls(), 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(w.deleted))
}

func TestWorker_Run_HandlesSmallInterval(t *testing.T) {
	p := &fakePruner{}
	cfg := validConfig()
	cfg.Interval = 4 * time.Nanosecond
	w, err := NewWorker(p, cfg, prometheus.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should have exited after the context deadline")
	}
	assert.GreaterOrEqual(t, len(p.calls()), 1)
}

func TestWithPGAdvisoryLeadership(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(LockKey).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))
	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(LockKey).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	ran := false
	err = WithPGAdvisoryLeadership(context.Background(), db, LockKey, time.Millisecond, func(context.Context) {
		ran = true
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithPGAdvisoryLeadership_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).WillReturnError(errors.New("connection refused"))

	err = WithPGAdvisoryLeadership(context.Background(), db, LockKey, time.Millisecond, func(context.Context) {
		t.Fatal("fn must not run without the lock")
	})
	assert.ErrorContains(t, err, "connection refused")
}
