// Package telemetry fans operator-client state out to browsers, the gRPC
// visualiser and an optional redis mirror.
package telemetry

import (
	"image"
	"time"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
	"github.com/hi-im-vika/zoomy-client/internal/autopilot"
	"github.com/hi-im-vika/zoomy-client/internal/axis"
	"github.com/hi-im-vika/zoomy-client/internal/transport"
)

// Point is an arena pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PointOf converts an image point.
func PointOf(p image.Point) Point { return Point{X: p.X, Y: p.Y} }

// Snapshot is one sample of client state.
type Snapshot struct {
	Time          time.Time                 `json:"time"`
	Connected     bool                      `json:"connected"`
	Sequencer     autopilot.SequencerStatus `json:"sequencer"`
	PointToPoint  bool                      `json:"point_to_point"`
	Tracking      bool                      `json:"target_tracking"`
	TrackedMarker int                       `json:"tracked_marker"`
	Pose          Point                     `json:"pose"`
	Destination   Point                     `json:"destination"`
	Speed         int                       `json:"speed"`
	Autopilot     map[string]int            `json:"autopilot"`
	Manual        map[string]int            `json:"manual"`
	Output        map[string]int            `json:"output"`
	Thresholds    arena.HSVRange            `json:"thresholds"`
	Robot         string                    `json:"robot,omitempty"`
	Link          transport.StatsSnapshot   `json:"link"`
}

// OutputValues decodes the Output map back into a command vector.
func (s Snapshot) OutputValues() axis.Values {
	var v axis.Values
	for i := axis.Axis(0); i < axis.Count; i++ {
		v[i] = s.Output[i.String()]
	}
	return v
}
