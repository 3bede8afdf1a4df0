package autopilot

import (
	"errors"
	"image"
	"sync"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
	"github.com/hi-im-vika/zoomy-client/internal/axis"
)

// Navigator is the part of the Controller the sequencer drives.
type Navigator interface {
	StartPointToPoint(dest image.Point, speed int) error
	EndPointToPoint()
	EndTargetTracking()
	IsPointToPointRunning() bool
	SetAxisCommand(a axis.Axis, v int)
}

// ErrAutonomous is returned when a session is requested while another one
// is running.
var ErrAutonomous = errors.New("autopilot: already in autonomous mode")

// Outcome describes how an autonomous session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeShutdown  Outcome = "shutdown"
)

// SessionObserver receives sequencer transitions. Callbacks run with the
// sequencer locked and must not call back into it.
type SessionObserver interface {
	SessionStarted(waypoints []arena.Waypoint)
	WaypointStarted(step int, wp arena.Waypoint)
	WaypointFinished(step int, wp arena.Waypoint)
	SessionEnded(outcome Outcome)
}

// SequencerStatus is a copy of the sequencer state for display.
type SequencerStatus struct {
	Auto   bool `json:"auto"`
	Step   int  `json:"step"`
	Active int  `json:"active"`
	Total  int  `json:"total"`
	Turret bool `json:"turret"`
}

// Sequencer walks the navigator through a waypoint list one entry at a time.
// Index 0 is a bootstrap entry that is never dispatched.
type Sequencer struct {
	mu        sync.Mutex
	nav       Navigator
	waypoints []arena.Waypoint
	plan      []arena.Waypoint
	observer  SessionObserver

	auto   bool
	step   int
	active int
	turret bool
}

// NewSequencer returns a sequencer over a copy of waypoints.
func NewSequencer(nav Navigator, waypoints []arena.Waypoint) *Sequencer {
	return &Sequencer{
		nav:       nav,
		waypoints: append([]arena.Waypoint(nil), waypoints...),
		active:    -1,
	}
}

// SetObserver installs the session observer. Pass nil to remove it.
func (s *Sequencer) SetObserver(o SessionObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// Waypoints returns a copy of the waypoint list.
func (s *Sequencer) Waypoints() []arena.Waypoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]arena.Waypoint(nil), s.waypoints...)
}

// Enter switches to autonomous mode and rewinds to step 0 of the configured
// waypoints. It is a no-op while already in autonomous mode.
func (s *Sequencer) Enter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auto {
		return
	}
	s.begin(s.waypoints)
}

// Goto starts a one-waypoint autonomous session toward wp. The configured
// waypoint list is left untouched.
func (s *Sequencer) Goto(wp arena.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auto {
		return ErrAutonomous
	}
	s.begin([]arena.Waypoint{{}, wp})
	return nil
}

// begin must be called with s.mu held.
func (s *Sequencer) begin(plan []arena.Waypoint) {
	s.plan = append([]arena.Waypoint(nil), plan...)
	s.auto = true
	s.step = 0
	s.active = -1
	diagf("entering autonomous mode with %d waypoints", len(s.plan))
	if s.observer != nil {
		s.observer.SessionStarted(append([]arena.Waypoint(nil), s.plan...))
	}
}

// Exit leaves autonomous mode, cancels both control loops and clears the
// turret flag. It is a no-op outside autonomous mode.
func (s *Sequencer) Exit() {
	s.end(OutcomeCancelled)
}

// Shutdown ends a running session with OutcomeShutdown.
func (s *Sequencer) Shutdown() {
	s.end(OutcomeShutdown)
}

func (s *Sequencer) end(outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.auto {
		return
	}
	s.auto = false
	s.nav.EndTargetTracking()
	s.nav.EndPointToPoint()
	s.turret = false
	s.active = -1
	diagf("exiting autonomous mode at step %d", s.step)
	if s.observer != nil {
		s.observer.SessionEnded(outcome)
	}
}

// Tick advances the sequence by at most one transition. It does nothing
// while navigation is still running.
func (s *Sequencer) Tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.auto || s.nav.IsPointToPointRunning() {
		return nil
	}

	if s.active >= 0 {
		if s.observer != nil {
			s.observer.WaypointFinished(s.active, s.plan[s.active])
		}
		s.active = -1
	}

	if s.step == 0 {
		s.step++
		return nil
	}

	if s.step >= len(s.plan) {
		s.auto = false
		diagf("waypoint sequence complete")
		if s.observer != nil {
			s.observer.SessionEnded(OutcomeCompleted)
		}
		return nil
	}

	wp := s.plan[s.step]
	if err := s.nav.StartPointToPoint(wp.Point(), wp.Speed); err != nil {
		return err
	}
	s.nav.SetAxisCommand(axis.Rotate, wp.Rotation)
	s.turret = wp.Turret
	s.active = s.step
	diagf("waypoint %d: dest=(%d,%d) speed=%d rotation=%d turret=%t",
		s.step, wp.X, wp.Y, wp.Speed, wp.Rotation, wp.Turret)
	if s.observer != nil {
		s.observer.WaypointStarted(s.step, wp)
	}
	s.step++
	return nil
}

// Auto reports whether autonomous mode is on.
func (s *Sequencer) Auto() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auto
}

// Turret reports the auxiliary actuator flag.
func (s *Sequencer) Turret() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turret
}

// Status copies the sequencer state. Total counts the running session's
// plan, or the configured list between sessions.
func (s *Sequencer) Status() SequencerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.waypoints)
	if s.auto {
		total = len(s.plan)
	}
	return SequencerStatus{
		Auto:   s.auto,
		Step:   s.step,
		Active: s.active,
		Total:  total,
		Turret: s.turret,
	}
}
