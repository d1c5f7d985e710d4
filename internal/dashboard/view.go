package dashboard

import (
	"context"
	"slices"
	"sync"
)

// Frame is what the chart and chips render: the filtered series for the
// current selection, always ending with the Placeholder, plus the latest
// table.
type Frame struct {
	Version   uint64
	Status    Status
	Selection []string
	Metrics   []string
	Series    []*Series
	Latest    LatestTable
}

// View holds the operator's selection and recomputes a Frame whenever the
// session publishes a snapshot or the selection changes.
type View struct {
	session *Session

	mu        sync.Mutex
	selection []string
	snapshot  *Snapshot
	frame     *Frame
	seq       uint64

	frames *Broadcaster[*Frame]
}

// NewView returns a view over session with an initial selection.
func NewView(session *Session, selection []string) *View {
	v := &View{
		session:   session,
		selection: slices.Clone(selection),
		frames:    NewBroadcaster[*Frame]("frames"),
	}
	v.mu.Lock()
	v.recompute(session.Current())
	v.mu.Unlock()
	return v
}

// Run follows the session snapshots until ctx is done or the session closes.
func (v *View) Run(ctx context.Context) error {
	snapshots, cancel := v.session.Snapshots()
	defer cancel()
	defer v.frames.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			v.mu.Lock()
			v.recompute(snap)
			v.mu.Unlock()
		}
	}
}

// SetSelection replaces the selection and publishes a new frame.
func (v *View) SetSelection(selection []string) *Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selection = slices.Clone(selection)
	return v.recompute(v.snapshot)
}

// Selection returns a copy of the current selection.
func (v *View) Selection() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.selection)
}

// Current returns the last computed frame.
func (v *View) Current() *Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frame
}

// FrameFor filters the view's current snapshot with selection without
// changing the operator's selection or publishing. The frame carries the
// version of the current frame.
func (v *View) FrameFor(selection []string) *Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	snap := v.snapshot
	return &Frame{
		Version:   v.seq,
		Status:    snap.Status,
		Selection: slices.Clone(selection),
		Metrics:   snap.Metrics,
		Series:    Filter(snap.Series, selection),
		Latest:    snap.Latest,
	}
}

// Frames registers an observer of computed frames.
func (v *View) Frames() (<-chan *Frame, func()) {
	return v.frames.Subscribe()
}

// Observers returns the number of registered frame observers.
func (v *View) Observers() int {
	return v.frames.Len()
}

func (v *View) recompute(snap *Snapshot) *Frame {
	if snap == nil {
		snap = &Snapshot{Status: StatusLoading}
	}
	v.snapshot = snap
	v.seq++
	f := &Frame{
		Version:   v.seq,
		Status:    snap.Status,
		Selection: slices.Clone(v.selection),
		Metrics:   snap.Metrics,
		Series:    Filter(snap.Series, v.selection),
		Latest:    snap.Latest,
	}
	v.frame = f
	v.frames.Publish(f)
	return f
}
