package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
	"github.com/nicolastakashi/opsdash/internal/source"
)

func TestNewSubscriber_Validation(t *testing.T) {
	_, err := NewSubscriber(config.RedisConfig{Channel: "m"}, nil)
	assert.Error(t, err)

	_, err = NewSubscriber(config.RedisConfig{Addresses: []string{"localhost:6379"}}, nil)
	assert.Error(t, err)

	s, err := NewSubscriber(config.RedisConfig{
		Addresses: []string{"localhost:6379"},
		Channel:   "m",
		Username:  "u",
		Password:  "p",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:6379"}, s.opts.InitAddress)
	assert.Equal(t, "u", s.opts.Username)
	assert.Equal(t, "p", s.opts.Password)
}

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Redis integration in short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Skipping Redis integration (Docker not available): %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestSubscriber_Receive(t *testing.T) {
	addr := startRedis(t)

	s, err := NewSubscriber(config.RedisConfig{Addresses: []string{addr}, Channel: "measurements"}, source.NewMetrics(nil))
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []dashboard.Measurement
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, func(m dashboard.Measurement) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, m)
		})
	}()

	publisher, err := NewPublisher(config.RedisConfig{Addresses: []string{addr}, Channel: "measurements"})
	require.NoError(t, err)
	defer publisher.Close()

	// Publish until the subscription is live.
	require.Eventually(t, func() bool {
		_ = publisher.Publish(ctx, dashboard.Measurement{Metric: "T1", At: 1000, Value: 72, Unit: "F"})
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, dashboard.Measurement{Metric: "T1", At: 1000, Value: 72, Unit: "F"}, got[0])
}
