package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(series []*Series) []string {
	out := make([]string, 0, len(series))
	for _, s := range series {
		out = append(out, s.Name)
	}
	return out
}

func TestView_FollowsSessionAndSelection(t *testing.T) {
	q := staticQuerier([]string{"A", "B", "C"}, nil)
	sub := newChanSubscriber()
	s := NewSession(q, sub)
	v := NewView(s, []string{"B"})

	assert.Equal(t, StatusLoading, v.Current().Status)
	assert.Equal(t, []string{""}, names(v.Current().Series))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = v.Run(ctx) }()
	startSession(t, s)

	require.Eventually(t, func() bool {
		return v.Current().Status == StatusReady
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"B", ""}, names(v.Current().Series))

	frame := v.SetSelection([]string{"C", "A", "B"})
	assert.Equal(t, []string{"A", "B", "C", ""}, names(frame.Series))
	assert.Equal(t, []string{"C", "A", "B"}, v.Selection())

	sub.updates <- Measurement{Metric: "A", At: 1, Value: 1, Unit: "F"}
	require.Eventually(t, func() bool {
		return v.Current().Series[0].Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	frame = v.SetSelection(nil)
	assert.Equal(t, []string{""}, names(frame.Series))
	assert.Len(t, frame.Latest, 3)
}

func TestView_FramesObserver(t *testing.T) {
	q := staticQuerier([]string{"A"}, nil)
	s := NewSession(q, nil)
	v := NewView(s, nil)

	frames, cancel := v.Frames()
	defer cancel()

	first := <-frames
	assert.Equal(t, uint64(1), first.Version)
	assert.Equal(t, 1, v.Observers())

	v.SetSelection([]string{"A"})
	next := <-frames
	assert.Equal(t, []string{"A"}, next.Selection)
	assert.Greater(t, next.Version, first.Version)

	cancel()
	_, ok := <-frames
	assert.False(t, ok)
	assert.Equal(t, 0, v.Observers())
}

func TestView_SelectionIsCopied(t *testing.T) {
	s := NewSession(staticQuerier(nil, nil), nil)
	sel := []string{"A"}
	v := NewView(s, sel)
	sel[0] = "B"
	assert.Equal(t, []string{"A"}, v.Selection())

	got := v.Selection()
	got[0] = "C"
	assert.Equal(t, []string{"A"}, v.Selection())
}

func TestView_FrameFor(t *testing.T) {
	q := staticQuerier([]string{"A", "B", "C"}, nil)
	s := NewSession(q, nil)
	v := NewView(s, []string{"B"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = v.Run(ctx) }()
	startSession(t, s)
	require.Eventually(t, func() bool {
		return v.Current().Status == StatusReady
	}, 2*time.Second, 5*time.Millisecond)

	current := v.Current()
	adhoc := v.FrameFor([]string{"C", "A"})
	assert.Equal(t, []string{"A", "C", ""}, names(adhoc.Series))
	assert.Equal(t, current.Version, adhoc.Version)
	assert.Equal(t, []string{"B"}, v.Selection())
	assert.Same(t, current, v.Current())

	next := v.SetSelection([]string{"A"})
	assert.Equal(t, next.Version, v.FrameFor([]string{"C"}).Version)
}
