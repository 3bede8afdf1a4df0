// Package autopilot implements the autonomous controller: a marker-based
// heading lock and a blob-based point-to-point navigator, each running in
// its own managed loop, plus the waypoint sequencer and the manual/auto
// arbiter that consume their output.
package autopilot

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
	"github.com/hi-im-vika/zoomy-client/internal/axis"
	"github.com/hi-im-vika/zoomy-client/internal/timeutil"
)

const (
	// DefaultGain scales the per-axis position error into a command.
	DefaultGain = 255
	// DefaultPeriod is the pause between two control loop iterations.
	DefaultPeriod = time.Millisecond
	// FullScale is the magnitude of a full-deflection axis command.
	FullScale = 32768.0
)

var (
	ErrNotInitialized = errors.New("autopilot: controller not initialized")
	ErrNilSource      = errors.New("autopilot: nil frame source")
	ErrClosed         = errors.New("autopilot: controller closed")
)

// Localizer finds the car in the latest overhead arena frame. ok is false
// when there is no frame yet or nothing matched the thresholds.
type Localizer interface {
	Localize(thresholds arena.HSVRange) (fix arena.Fix, ok bool)
}

// MarkerSource runs fiducial detection on the latest dashcam frame. ok is
// false when no frame is available; width is the frame width in pixels.
type MarkerSource interface {
	Markers() (markers []arena.Marker, width int, ok bool)
}

// Options tune a Controller. Zero values select the defaults.
type Options struct {
	Gain       int
	Period     time.Duration
	Clock      timeutil.Clock
	Thresholds *arena.HSVRange

	// PointToPointPacer and TrackingPacer override the fixed-period pacing,
	// e.g. to wake on frame arrival instead.
	PointToPointPacer Pacer
	TrackingPacer     Pacer
}

// Controller owns the two control loops and the command vector they write.
// All exported methods are safe for concurrent use.
type Controller struct {
	gain      int
	p2pPacer  Pacer
	trkPacer  Pacer
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	srcMu    sync.RWMutex
	dashcam  MarkerSource
	overhead Localizer
	initDone atomic.Bool
	commands axis.Vector
	target   atomic.Int64
	speed    atomic.Int64
	dest     atomic.Pointer[image.Point]
	pose     atomic.Pointer[image.Point]
	thresh   atomic.Pointer[arena.HSVRange]
	tracking managedLoop
	p2p      managedLoop
	arrivals atomic.Uint64
}

// NewController returns an idle controller. Call Initialize before starting
// any loop.
func NewController(opts Options) *Controller {
	if opts.Gain == 0 {
		opts.Gain = DefaultGain
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	fixed := SleepPacer{Clock: opts.Clock, Period: opts.Period}
	if opts.PointToPointPacer == nil {
		opts.PointToPointPacer = fixed
	}
	if opts.TrackingPacer == nil {
		opts.TrackingPacer = fixed
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		gain:     opts.Gain,
		p2pPacer: opts.PointToPointPacer,
		trkPacer: opts.TrackingPacer,
		ctx:      ctx,
		cancel:   cancel,
		tracking: managedLoop{name: "target-tracking"},
		p2p:      managedLoop{name: "point-to-point"},
	}
	thresholds := arena.DefaultHSVRange
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}
	c.thresh.Store(&thresholds)
	origin := image.Point{}
	c.pose.Store(&origin)
	c.dest.Store(&origin)
	return c
}

// Initialize binds the controller to its live frame sources. The sources
// are shared, not copied, since their frames update continuously.
func (c *Controller) Initialize(dashcam MarkerSource, overhead Localizer) error {
	if dashcam == nil || overhead == nil {
		return ErrNilSource
	}
	c.srcMu.Lock()
	c.dashcam, c.overhead = dashcam, overhead
	c.srcMu.Unlock()
	c.commands.Reset()
	c.initDone.Store(true)
	return nil
}

func (c *Controller) sources() (MarkerSource, Localizer) {
	c.srcMu.RLock()
	defer c.srcMu.RUnlock()
	return c.dashcam, c.overhead
}

// StartTargetTracking starts steering the rotation axis to keep markerID
// centred in the dashcam image. A running tracking loop is replaced.
func (c *Controller) StartTargetTracking(markerID int) error {
	if !c.initDone.Load() {
		return ErrNotInitialized
	}
	gen, err := c.tracking.start(c.ctx, c.trkPacer, func() {
		c.target.Store(int64(markerID))
	}, func() bool {
		c.stepTargetTracking(markerID)
		return false
	})
	if err != nil {
		return ErrClosed
	}
	diagf("tracking marker %d (gen=%d)", markerID, gen)
	return nil
}

// EndTargetTracking stops the tracking loop. It does not wait for the loop
// goroutine to exit and is a no-op when tracking is not running.
func (c *Controller) EndTargetTracking() {
	c.tracking.stop()
}

// IsTargetTrackingRunning reports whether the tracking loop is active.
func (c *Controller) IsTargetTrackingRunning() bool {
	return c.tracking.isRunning()
}

// StartPointToPoint drives the car toward dest at speed (0..32768) until it
// arrives or EndPointToPoint is called. A running navigation loop is
// replaced.
func (c *Controller) StartPointToPoint(dest image.Point, speed int) error {
	if !c.initDone.Load() {
		return ErrNotInitialized
	}
	gen, err := c.p2p.start(c.ctx, c.p2pPacer, func() {
		c.dest.Store(&dest)
		c.speed.Store(int64(speed))
	}, func() bool {
		return c.stepPointToPoint(dest, speed)
	})
	if err != nil {
		return ErrClosed
	}
	diagf("point-to-point to %v at speed %d (gen=%d)", dest, speed, gen)
	return nil
}

// EndPointToPoint stops the navigation loop without waiting for it. Calling
// it when navigation is already stopped is a no-op.
func (c *Controller) EndPointToPoint() {
	c.p2p.stop()
}

// IsPointToPointRunning reports whether the navigation loop is active.
func (c *Controller) IsPointToPointRunning() bool {
	return c.p2p.isRunning()
}

// Arrivals counts how many navigation runs ended by converging.
func (c *Controller) Arrivals() uint64 {
	return c.arrivals.Load()
}

// AxisCommand returns the autopilot's current command for a.
func (c *Controller) AxisCommand(a axis.Axis) int {
	if !a.Valid() {
		return 0
	}
	return c.commands.Load(a)
}

// SetAxisCommand overrides one autopilot slot directly, e.g. an open-loop
// rotation from waypoint data.
func (c *Controller) SetAxisCommand(a axis.Axis, v int) {
	if a.Valid() {
		c.commands.Store(a, v)
	}
}

// Commands copies the autopilot command vector.
func (c *Controller) Commands() axis.Values {
	return c.commands.Snapshot()
}

// LastLocalizedPosition returns the most recent car centroid.
func (c *Controller) LastLocalizedPosition() image.Point {
	return *c.pose.Load()
}

// CurrentDestination returns the active (or last) navigation target.
func (c *Controller) CurrentDestination() image.Point {
	return *c.dest.Load()
}

// CurrentSpeed returns the speed of the active (or last) navigation run.
func (c *Controller) CurrentSpeed() int {
	return int(c.speed.Load())
}

// TrackedMarker returns the marker ID the tracking loop follows.
func (c *Controller) TrackedMarker() int {
	return int(c.target.Load())
}

// SetColorThresholds replaces the segmentation range used by navigation.
// The next loop iteration picks it up.
func (c *Controller) SetColorThresholds(low, high arena.HSV) {
	r := arena.HSVRange{Low: low, High: high}
	c.thresh.Store(&r)
	diagf("color thresholds set to low=%+v high=%+v", low, high)
}

// ColorThresholds returns the current segmentation range.
func (c *Controller) ColorThresholds() (low, high arena.HSV) {
	r := c.thresh.Load()
	return r.Low, r.High
}

// Close stops both loops and waits for their goroutines to exit.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.tracking.stop()
		c.p2p.stop()
		c.cancel()
		c.tracking.wait()
		c.p2p.wait()
	})
}

// stepTargetTracking runs one heading-lock iteration. The rotation command
// holds its value when the frame is empty or the target is not in view.
func (c *Controller) stepTargetTracking(target int) {
	dashcam, _ := c.sources()
	markers, width, ok := dashcam.Markers()
	if !ok || width <= 0 || len(markers) == 0 {
		return
	}
	for _, m := range markers {
		if m.ID != target {
			continue
		}
		rotate := TrackingCommand(m, width)
		c.commands.Store(axis.Rotate, rotate)
		tracef("marker %d rotate=%d", target, rotate)
		return
	}
}

// stepPointToPoint runs one navigation iteration toward the run's own
// target and reports arrival.
func (c *Controller) stepPointToPoint(dest image.Point, speed int) bool {
	_, overhead := c.sources()
	low, high := c.ColorThresholds()
	fix, ok := overhead.Localize(arena.HSVRange{Low: low, High: high})
	if !ok {
		return false
	}
	centroid := fix.Centroid
	c.pose.Store(&centroid)

	moveX, moveY := NavigationCommand(c.gain, dest, centroid, speed)
	c.commands.Store(axis.MoveX, moveX)
	c.commands.Store(axis.MoveY, moveY)
	tracef("car=%v dest=%v move=(%d,%d)", centroid, dest, moveX, moveY)

	if Arrived(dest, centroid, speed, fix.Width) {
		c.arrivals.Add(1)
		diagf("arrived at %v (car %v, speed %d)", dest, centroid, speed)
		return true
	}
	return false
}

// NavigationCommand is the proportional translation command toward dest:
// gain * error * speed / 32768 per axis, truncated toward zero.
func NavigationCommand(gain int, dest, car image.Point, speed int) (moveX, moveY int) {
	scale := func(e int) int {
		return int(float64(int64(gain)*int64(e)*int64(speed)) / FullScale)
	}
	return scale(dest.X - car.X), scale(dest.Y - car.Y)
}

// ArrivalTolerance is the arrival radius in pixels. It grows with the
// commanded speed: (speed/32768) * width / 5.
func ArrivalTolerance(speed, width int) float64 {
	return (float64(speed) / FullScale) * float64(width) / 5
}

// Arrived reports whether car lies strictly inside the arrival radius of
// dest.
func Arrived(dest, car image.Point, speed, width int) bool {
	e := mgl64.Vec2{float64(dest.X - car.X), float64(dest.Y - car.Y)}
	return e.Len() < ArrivalTolerance(speed, width)
}

// TrackingCommand converts a marker's position in a frame of the given width
// into a rotation command. The offset between the image centre and half the
// marker's top-edge span is scaled to full range and negated.
func TrackingCommand(m arena.Marker, width int) int {
	offset := float64(width/2) - float64(m.Corners[0].X-m.Corners[1].X)/2
	return int(-offset * FullScale / float64(width))
}
