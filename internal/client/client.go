// Package client runs the operator update loop: it drains controller input,
// steps the waypoint sequencer, arbitrates manual against autopilot
// commands and hands the result to the robot link.
package client

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
	"github.com/hi-im-vika/zoomy-client/internal/autopilot"
	"github.com/hi-im-vika/zoomy-client/internal/axis"
	"github.com/hi-im-vika/zoomy-client/internal/input"
	"github.com/hi-im-vika/zoomy-client/internal/protocol"
	"github.com/hi-im-vika/zoomy-client/internal/telemetry"
	"github.com/hi-im-vika/zoomy-client/internal/timeutil"
	"github.com/hi-im-vika/zoomy-client/internal/transport"
)

// Pilot is the read side of the autonomous controller.
type Pilot interface {
	autopilot.CommandSource
	Commands() axis.Values
	IsPointToPointRunning() bool
	IsTargetTrackingRunning() bool
	LastLocalizedPosition() image.Point
	CurrentDestination() image.Point
	CurrentSpeed() int
	TrackedMarker() int
	ColorThresholds() (low, high arena.HSV)
}

// Link receives the outgoing payload and reports robot state.
type Link interface {
	SetPayload(payload []byte)
	Connected() bool
	LastTelemetry() string
	Stats() *transport.Stats
}

// PoseSampler records the car's position during autonomous navigation.
type PoseSampler interface {
	SamplePose(at time.Time, pose image.Point, commands axis.Values)
}

// Options wires a Client.
type Options struct {
	Pad       *input.Gamepad
	Sequencer *autopilot.Sequencer
	Pilot     Pilot
	Arbiter   autopilot.Arbiter
	Link      Link
	Hub       *telemetry.Hub
	Poses     PoseSampler

	Period            time.Duration // 1ms
	TelemetryInterval time.Duration // 50ms
	Clock             timeutil.Clock
}

// Client is the operator update loop.
type Client struct {
	opts Options

	mu          sync.Mutex
	manual      axis.Values
	output      axis.Values
	lastPublish time.Time
	ticks       uint64
}

// New returns a client. Pad, Sequencer, Pilot and Link are required.
func New(opts Options) *Client {
	if opts.Period <= 0 {
		opts.Period = time.Millisecond
	}
	if opts.TelemetryInterval <= 0 {
		opts.TelemetryInterval = 50 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Arbiter.Deadzone == 0 {
		opts.Arbiter.Deadzone = autopilot.DefaultDeadzone
	}
	return &Client{opts: opts}
}

// Run ticks until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	ticker := c.opts.Clock.NewTicker(c.opts.Period)
	defer ticker.Stop()
	opsf("update loop running every %v", c.opts.Period)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			c.Step()
		}
	}
}

// Step runs one update tick.
func (c *Client) Step() {
	seq := c.opts.Sequencer
	manual, edges, _ := c.opts.Pad.Poll()
	if edges.Exit {
		seq.Exit()
	}
	if edges.Enter {
		seq.Enter()
	}
	if err := seq.Tick(); err != nil {
		opsf("failed to dispatch waypoint, leaving autonomous mode: %v", err)
		seq.Exit()
	}

	auto := seq.Auto()
	out := c.opts.Arbiter.Merge(manual, auto, c.opts.Pilot, seq.Turret())
	c.opts.Link.SetPayload(protocol.Encode(out))

	now := c.opts.Clock.Now()
	if c.opts.Poses != nil && c.opts.Pilot.IsPointToPointRunning() {
		c.opts.Poses.SamplePose(now, c.opts.Pilot.LastLocalizedPosition(), c.opts.Pilot.Commands())
	}

	c.mu.Lock()
	c.manual, c.output = manual, out
	c.ticks++
	publish := c.opts.Hub != nil && now.Sub(c.lastPublish) >= c.opts.TelemetryInterval
	if publish {
		c.lastPublish = now
	}
	c.mu.Unlock()

	if publish {
		c.opts.Hub.Publish(c.Snapshot())
	}
	tracef("tick auto=%t out=%v", auto, out)
}

// EnterAutonomous requests autonomous mode on the next tick.
func (c *Client) EnterAutonomous() { c.opts.Pad.RequestEnter() }

// ExitAutonomous requests manual mode on the next tick.
func (c *Client) ExitAutonomous() { c.opts.Pad.RequestExit() }

// NavigateTo starts a one-waypoint autonomous session; the next tick
// dispatches it. It fails with autopilot.ErrAutonomous while a session runs.
func (c *Client) NavigateTo(wp arena.Waypoint) error {
	return c.opts.Sequencer.Goto(wp)
}

// Output returns the last payload values.
func (c *Client) Output() axis.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// Ticks returns the number of completed update ticks.
func (c *Client) Ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Snapshot samples the full client state.
func (c *Client) Snapshot() telemetry.Snapshot {
	c.mu.Lock()
	manual, out := c.manual, c.output
	c.mu.Unlock()

	p := c.opts.Pilot
	low, high := p.ColorThresholds()
	return telemetry.Snapshot{
		Time:          c.opts.Clock.Now(),
		Connected:     c.opts.Link.Connected(),
		Sequencer:     c.opts.Sequencer.Status(),
		PointToPoint:  p.IsPointToPointRunning(),
		Tracking:      p.IsTargetTrackingRunning(),
		TrackedMarker: p.TrackedMarker(),
		Pose:          telemetry.PointOf(p.LastLocalizedPosition()),
		Destination:   telemetry.PointOf(p.CurrentDestination()),
		Speed:         p.CurrentSpeed(),
		Autopilot:     p.Commands().Map(),
		Manual:        manual.Map(),
		Output:        out.Map(),
		Thresholds:    arena.HSVRange{Low: low, High: high},
		Robot:         c.opts.Link.LastTelemetry(),
		Link:          c.opts.Link.Stats().Snapshot(),
	}
}
