package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_CoalescesSlowObservers(t *testing.T) {
	b := NewBroadcaster[int]("test")
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(1)
	b.Publish(2)
	b.Publish(3)

	assert.Equal(t, 3, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}

func TestBroadcaster_NewObserverGetsLastValue(t *testing.T) {
	b := NewBroadcaster[string]("test")
	b.Publish("a")

	ch, cancel := b.Subscribe()
	defer cancel()
	assert.Equal(t, "a", <-ch)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster[int]("test")
	ch, cancel := b.Subscribe()
	b.Publish(1)
	b.Close()
	b.Publish(2)

	assert.Equal(t, 1, <-ch)
	_, ok := <-ch
	assert.False(t, ok)

	cancel()
	cancel()

	late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}
