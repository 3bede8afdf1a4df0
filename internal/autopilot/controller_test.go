package autopilot

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
	"github.com/hi-im-vika/zoomy-client/internal/axis"
	"github.com/hi-im-vika/zoomy-client/internal/timeutil"
)

// scriptedLocalizer replays fixes in order and then repeats the last one.
// A nil entry reports "nothing localized".
type scriptedLocalizer struct {
	mu        sync.Mutex
	fixes     []*arena.Fix
	i         int
	lastRange arena.HSVRange

	inflight    atomic.Int32
	maxInflight atomic.Int32
	hold        time.Duration
}

func (s *scriptedLocalizer) Localize(r arena.HSVRange) (arena.Fix, bool) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		m := s.maxInflight.Load()
		if n <= m || s.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if s.hold > 0 {
		time.Sleep(s.hold)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRange = r
	if len(s.fixes) == 0 {
		return arena.Fix{}, false
	}
	f := s.fixes[s.i]
	if s.i < len(s.fixes)-1 {
		s.i++
	}
	if f == nil {
		return arena.Fix{}, false
	}
	return *f, true
}

func fixAt(x, y, width int) *arena.Fix {
	return &arena.Fix{Centroid: image.Pt(x, y), Width: width}
}

type scriptedMarkers struct {
	mu     sync.Mutex
	frames []markerFrame
	i      int
}

type markerFrame struct {
	markers []arena.Marker
	width   int
	ok      bool
}

func (s *scriptedMarkers) Markers() ([]arena.Marker, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, 0, false
	}
	f := s.frames[s.i]
	if s.i < len(s.frames)-1 {
		s.i++
	}
	return f.markers, f.width, f.ok
}

func markerAt(id int, x0, x1 float32) arena.Marker {
	return arena.Marker{ID: id, Corners: [4]arena.Point2f{{X: x0}, {X: x1}, {X: x1, Y: 10}, {X: x0, Y: 10}}}
}

func newTestController(t *testing.T, markers MarkerSource, loc Localizer) *Controller {
	t.Helper()
	c := NewController(Options{Clock: timeutil.NewMockClock(time.Unix(0, 0))})
	require.NoError(t, c.Initialize(markers, loc))
	t.Cleanup(c.Close)
	return c
}

func TestNavigationCommandSignAndScale(t *testing.T) {
	tests := []struct {
		name         string
		dest, car    image.Point
		speed        int
		wantX, wantY int
	}{
		{"toward target", image.Pt(200, 150), image.Pt(100, 150), 32768, DefaultGain * 100, 0},
		{"past target", image.Pt(200, 150), image.Pt(250, 150), 32768, -DefaultGain * 50, 0},
		{"half speed both axes", image.Pt(100, 100), image.Pt(60, 140), 16384, 5100, -5100},
		{"truncates toward zero", image.Pt(1, 0), image.Pt(0, 0), 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := NavigationCommand(DefaultGain, tt.dest, tt.car, tt.speed)
			if x != tt.wantX || y != tt.wantY {
				t.Errorf("NavigationCommand() = (%d,%d), want (%d,%d)", x, y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestArrivalToleranceScalesWithSpeed(t *testing.T) {
	if got := ArrivalTolerance(16384, 600); got != 60 {
		t.Fatalf("ArrivalTolerance(16384, 600) = %v, want 60", got)
	}
	if got := ArrivalTolerance(32768, 600); got != 120 {
		t.Fatalf("ArrivalTolerance(32768, 600) = %v, want 120", got)
	}

	dest := image.Pt(100, 100)
	cases := []struct {
		car  image.Point
		want bool
	}{
		{image.Pt(161, 100), false},
		{image.Pt(160, 100), false},
		{image.Pt(159, 100), true},
		{image.Pt(100, 40), false},
		{image.Pt(100, 41), true},
		{image.Pt(100, 100), true},
	}
	for _, c := range cases {
		if got := Arrived(dest, c.car, 16384, 600); got != c.want {
			t.Errorf("Arrived(%v) = %v, want %v", c.car, got, c.want)
		}
	}
}

func TestStepPointToPointConvergesOnFirstTickInsideTolerance(t *testing.T) {
	loc := &scriptedLocalizer{fixes: []*arena.Fix{
		fixAt(200, 100, 600),
		fixAt(180, 100, 600),
		fixAt(161, 100, 600),
		fixAt(159, 100, 600),
	}}
	c := newTestController(t, &scriptedMarkers{}, loc)
	dest := image.Pt(100, 100)

	want := []bool{false, false, false, true}
	for i, w := range want {
		if got := c.stepPointToPoint(dest, 16384); got != w {
			t.Fatalf("tick %d: arrived = %v, want %v", i, got, w)
		}
	}
	if got := c.LastLocalizedPosition(); got != image.Pt(159, 100) {
		t.Errorf("LastLocalizedPosition() = %v", got)
	}
	if got := c.AxisCommand(axis.MoveX); got != -7522 {
		t.Errorf("MoveX = %d, want -7522", got)
	}
}

func TestStepPointToPointSkipsWhenNothingLocalized(t *testing.T) {
	loc := &scriptedLocalizer{fixes: []*arena.Fix{fixAt(50, 50, 600), nil}}
	c := newTestController(t, &scriptedMarkers{}, loc)
	dest := image.Pt(300, 300)

	require.False(t, c.stepPointToPoint(dest, 32768))
	before := c.Commands()
	require.False(t, c.stepPointToPoint(dest, 32768))

	assert.Equal(t, before, c.Commands(), "commands changed on an empty tick")
	assert.Equal(t, image.Pt(50, 50), c.LastLocalizedPosition(), "pose should keep its last value")
}

func TestPointToPointLoopSelfTerminates(t *testing.T) {
	loc := &scriptedLocalizer{fixes: []*arena.Fix{
		fixAt(0, 0, 600), fixAt(50, 50, 600), fixAt(90, 95, 600),
	}}
	c := newTestController(t, &scriptedMarkers{}, loc)

	require.NoError(t, c.StartPointToPoint(image.Pt(100, 100), 16384))
	require.Eventually(t, func() bool { return !c.IsPointToPointRunning() }, 2*time.Second, time.Millisecond)

	assert.Equal(t, uint64(1), c.Arrivals())
	assert.Equal(t, image.Pt(100, 100), c.CurrentDestination())
	assert.Equal(t, image.Pt(90, 95), c.LastLocalizedPosition())
}

func TestEndPointToPointIsIdempotent(t *testing.T) {
	c := newTestController(t, &scriptedMarkers{}, &scriptedLocalizer{})

	c.EndPointToPoint()
	assert.False(t, c.IsPointToPointRunning())

	require.NoError(t, c.StartPointToPoint(image.Pt(10, 10), 1000))
	assert.True(t, c.IsPointToPointRunning())

	c.EndPointToPoint()
	assert.False(t, c.IsPointToPointRunning())
	c.EndPointToPoint()
	assert.False(t, c.IsPointToPointRunning())
	assert.Zero(t, c.Arrivals())
}

func TestRestartNeverRunsTwoLoops(t *testing.T) {
	loc := &scriptedLocalizer{hold: 200 * time.Microsecond}
	c := newTestController(t, &scriptedMarkers{}, loc)

	for i := 0; i < 20; i++ {
		require.NoError(t, c.StartPointToPoint(image.Pt(i, i), 2000))
	}
	assert.Equal(t, uint64(20), c.p2p.generation())
	require.Eventually(t, func() bool { return loc.maxInflight.Load() >= 1 }, 2*time.Second, time.Millisecond)
	c.EndPointToPoint()
	c.p2p.wait()

	assert.LessOrEqual(t, loc.maxInflight.Load(), int32(1), "more than one navigation loop ran at once")
}

type failingPacer struct{ err error }

func (p failingPacer) Wait(ctx context.Context) error { return p.err }

func TestLoopsClearRunningWhenPacerFails(t *testing.T) {
	pacer := failingPacer{err: errors.New("camera closed")}
	c := NewController(Options{PointToPointPacer: pacer, TrackingPacer: pacer})
	require.NoError(t, c.Initialize(&scriptedMarkers{}, &scriptedLocalizer{}))
	t.Cleanup(c.Close)

	require.NoError(t, c.StartPointToPoint(image.Pt(10, 10), 1000))
	c.p2p.wait()
	assert.False(t, c.IsPointToPointRunning(), "navigation flag left set after the loop exited")

	require.NoError(t, c.StartTargetTracking(4))
	c.tracking.wait()
	assert.False(t, c.IsTargetTrackingRunning(), "tracking flag left set after the loop exited")
	assert.Zero(t, c.Arrivals())
}

func TestStartAfterClose(t *testing.T) {
	c := newTestController(t, &scriptedMarkers{}, &scriptedLocalizer{})
	require.NoError(t, c.StartPointToPoint(image.Pt(10, 10), 1000))
	c.Close()
	assert.False(t, c.IsPointToPointRunning())

	assert.ErrorIs(t, c.StartPointToPoint(image.Pt(20, 20), 1000), ErrClosed)
	assert.ErrorIs(t, c.StartTargetTracking(1), ErrClosed)
	assert.False(t, c.IsPointToPointRunning())
	assert.False(t, c.IsTargetTrackingRunning())
}

// gatedLocalizer blocks its first call until released.
type gatedLocalizer struct {
	fix      arena.Fix
	entered  chan struct{}
	release  chan struct{}
	gateOnce sync.Once
}

func (g *gatedLocalizer) Localize(arena.HSVRange) (arena.Fix, bool) {
	g.gateOnce.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.fix, true
}

func TestRestartKeepsOldTargetUntilPreviousLoopExits(t *testing.T) {
	loc := &gatedLocalizer{
		fix:     arena.Fix{Centroid: image.Pt(10, 10), Width: 600},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := newTestController(t, &scriptedMarkers{}, loc)

	first, second := image.Pt(10, 10), image.Pt(400, 400)
	require.NoError(t, c.StartPointToPoint(first, 32768))
	<-loc.entered

	started := make(chan error, 1)
	go func() { started <- c.StartPointToPoint(second, 16384) }()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, first, c.CurrentDestination(), "target replaced while the previous loop was still running")
	assert.Equal(t, 32768, c.CurrentSpeed())

	close(loc.release)
	require.NoError(t, <-started)
	assert.Equal(t, second, c.CurrentDestination())
	assert.Equal(t, 16384, c.CurrentSpeed())

	wantX, _ := NavigationCommand(DefaultGain, second, image.Pt(10, 10), 16384)
	require.Eventually(t, func() bool { return c.AxisCommand(axis.MoveX) == wantX }, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), c.Arrivals(), "only the first run converged")
	assert.True(t, c.IsPointToPointRunning())
}

func TestStartRequiresInitialize(t *testing.T) {
	c := NewController(Options{})
	defer c.Close()

	assert.ErrorIs(t, c.StartPointToPoint(image.Pt(1, 1), 1), ErrNotInitialized)
	assert.ErrorIs(t, c.StartTargetTracking(3), ErrNotInitialized)
	assert.True(t, errors.Is(c.Initialize(nil, &scriptedLocalizer{}), ErrNilSource))
	assert.ErrorIs(t, c.Initialize(&scriptedMarkers{}, nil), ErrNilSource)
}

func TestTrackingCommand(t *testing.T) {
	tests := []struct {
		name   string
		marker arena.Marker
		width  int
		want   int
	}{
		{"corner order reversed", markerAt(7, 100, 300), 640, -21504},
		{"zero span at centre", markerAt(7, 320, 320), 640, -16384},
		{"odd width", markerAt(7, 0, 0), 641, -16358},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrackingCommand(tt.marker, tt.width); got != tt.want {
				t.Errorf("TrackingCommand() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTargetTrackingHoldsWhenTargetAbsent(t *testing.T) {
	src := &scriptedMarkers{frames: []markerFrame{
		{markers: []arena.Marker{markerAt(3, 10, 20), markerAt(7, 100, 300)}, width: 640, ok: true},
		{markers: []arena.Marker{markerAt(3, 10, 20), markerAt(9, 0, 50)}, width: 640, ok: true},
		{markers: nil, width: 640, ok: true},
		{ok: false},
	}}
	c := newTestController(t, src, &scriptedLocalizer{})

	c.stepTargetTracking(7)
	require.Equal(t, -21504, c.AxisCommand(axis.Rotate))

	for i := 0; i < 3; i++ {
		c.stepTargetTracking(7)
		assert.Equal(t, -21504, c.AxisCommand(axis.Rotate), "tick %d changed ROTATE", i+1)
	}
}

func TestTargetTrackingFirstDuplicateWins(t *testing.T) {
	src := &scriptedMarkers{frames: []markerFrame{
		{markers: []arena.Marker{markerAt(7, 320, 320), markerAt(7, 100, 300)}, width: 640, ok: true},
	}}
	c := newTestController(t, src, &scriptedLocalizer{})
	c.stepTargetTracking(7)
	assert.Equal(t, -16384, c.AxisCommand(axis.Rotate))
}

func TestTargetTrackingLoopRunsUntilEnded(t *testing.T) {
	src := &scriptedMarkers{frames: []markerFrame{
		{markers: []arena.Marker{markerAt(5, 100, 300)}, width: 640, ok: true},
	}}
	c := newTestController(t, src, &scriptedLocalizer{})

	require.NoError(t, c.StartTargetTracking(5))
	require.Eventually(t, func() bool { return c.AxisCommand(axis.Rotate) == -21504 }, 2*time.Second, time.Millisecond)
	assert.True(t, c.IsTargetTrackingRunning())
	assert.Equal(t, 5, c.TrackedMarker())

	c.EndTargetTracking()
	assert.False(t, c.IsTargetTrackingRunning())
	c.EndTargetTracking()
}

func TestColorThresholdsReachLocalizer(t *testing.T) {
	loc := &scriptedLocalizer{fixes: []*arena.Fix{fixAt(0, 0, 100)}}
	c := newTestController(t, &scriptedMarkers{}, loc)

	low, high := arena.HSV{H: 100, S: 50, V: 50}, arena.HSV{H: 130, S: 255, V: 255}
	c.SetColorThresholds(low, high)
	gotLow, gotHigh := c.ColorThresholds()
	require.Equal(t, low, gotLow)
	require.Equal(t, high, gotHigh)

	c.stepPointToPoint(image.Pt(50, 50), 1000)
	loc.mu.Lock()
	defer loc.mu.Unlock()
	assert.Equal(t, arena.HSVRange{Low: low, High: high}, loc.lastRange)
}

func TestSetAxisCommandIgnoresInvalidAxis(t *testing.T) {
	c := NewController(Options{})
	defer c.Close()
	c.SetAxisCommand(axis.Axis(99), 5)
	c.SetAxisCommand(axis.Rotate, 90)
	assert.Equal(t, 90, c.AxisCommand(axis.Rotate))
	assert.Equal(t, 0, c.AxisCommand(axis.Axis(99)))
}
