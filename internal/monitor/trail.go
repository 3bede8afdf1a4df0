// Package monitor renders debug views of the car's path: a live echarts
// page over recent telemetry and static trajectory plots of recorded
// sessions.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/hi-im-vika/zoomy-client/internal/axis"
	"github.com/hi-im-vika/zoomy-client/internal/db"
	"github.com/hi-im-vika/zoomy-client/internal/telemetry"
)

// TrailPoint is one position sample with the autopilot command at that
// moment.
type TrailPoint struct {
	Time       time.Time
	X, Y       int
	DestX      int
	DestY      int
	MoveX      int
	MoveY      int
	Rotate     int
	Autonomous bool
	Navigating bool
}

// Trail is a fixed-size ring of recent telemetry positions.
type Trail struct {
	mu     sync.Mutex
	points []TrailPoint
	next   int
	full   bool
}

// NewTrail returns a trail holding up to size points.
func NewTrail(size int) *Trail {
	if size < 1 {
		size = 1
	}
	return &Trail{points: make([]TrailPoint, size)}
}

// Add appends s, overwriting the oldest point when full.
func (t *Trail) Add(s telemetry.Snapshot) {
	p := TrailPoint{
		Time:       s.Time,
		X:          s.Pose.X,
		Y:          s.Pose.Y,
		DestX:      s.Destination.X,
		DestY:      s.Destination.Y,
		MoveX:      s.Autopilot[axis.MoveX.String()],
		MoveY:      s.Autopilot[axis.MoveY.String()],
		Rotate:     s.Autopilot[axis.Rotate.String()],
		Autonomous: s.Sequencer.Auto,
		Navigating: s.PointToPoint,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points[t.next] = p
	t.next = (t.next + 1) % len(t.points)
	if t.next == 0 {
		t.full = true
	}
}

// Points returns the stored points oldest first.
func (t *Trail) Points() []TrailPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]TrailPoint(nil), t.points[:t.next]...)
	}
	out := make([]TrailPoint, 0, len(t.points))
	out = append(out, t.points[t.next:]...)
	return append(out, t.points[:t.next]...)
}

// Run feeds the trail from hub until ctx is done or the hub closes.
func (t *Trail) Run(ctx context.Context, hub *telemetry.Hub) {
	id, ch := hub.Subscribe(64)
	defer hub.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			t.Add(s)
		}
	}
}

// SessionTrail converts recorded pose samples to trail points. The
// destination of each sample is the waypoint active at that time.
func SessionTrail(d *db.SessionDetail) []TrailPoint {
	out := make([]TrailPoint, 0, len(d.Samples))
	ev := 0
	for _, s := range d.Samples {
		for ev+1 < len(d.Events) && !d.Events[ev+1].StartedAt.After(s.Time) {
			ev++
		}
		p := TrailPoint{
			Time:       s.Time,
			X:          s.X,
			Y:          s.Y,
			MoveX:      s.MoveX,
			MoveY:      s.MoveY,
			Rotate:     s.Rotate,
			Autonomous: true,
		}
		if ev < len(d.Events) {
			p.DestX, p.DestY = d.Events[ev].Waypoint.X, d.Events[ev].Waypoint.Y
			p.Navigating = true
		}
		out = append(out, p)
	}
	return out
}
