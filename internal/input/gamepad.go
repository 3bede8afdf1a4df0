// Package input turns game controller and keyboard events into the
// operator's half of the command vector.
package input

import (
	"sync"

	"github.com/hi-im-vika/zoomy-client/internal/axis"
)

// StickMax is the largest magnitude a stick axis reports.
const StickMax = 32767

// NormalizeWithTrim clamps a trimmed stick value so the trim offset never
// pushes it past full scale. Values whose distance from trim exceeds the
// remaining range are pinned to the edge of that range.
func NormalizeWithTrim(i, trim int) int {
	mult := -1
	if i > 0 {
		mult = 1
	}
	lockedRange := StickMax - trim
	raw := i - trim
	if raw < 0 {
		raw = -raw
	}
	if lockedRange-raw < 0 {
		return mult*lockedRange + trim
	}
	return i
}

// Trim holds the operator's stick calibration.
type Trim struct {
	Steering       int
	Throttle       int
	InvertSteering bool
}

// Edges are the mode-switch requests seen since the previous Poll.
type Edges struct {
	Enter bool
	Exit  bool
}

// Gamepad accumulates raw controller state. Event handlers may call it from
// any goroutine; the update loop drains it with Poll.
type Gamepad struct {
	mu      sync.Mutex
	trim    Trim
	raw     axis.Values
	enter   bool
	exit    bool
	changed bool
}

// NewGamepad returns a neutral gamepad.
func NewGamepad(trim Trim) *Gamepad {
	return &Gamepad{trim: trim}
}

// SetTrim replaces the stick calibration.
func (g *Gamepad) SetTrim(t Trim) {
	g.mu.Lock()
	g.trim = t
	g.mu.Unlock()
}

// Trim returns the stick calibration.
func (g *Gamepad) Trim() Trim {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trim
}

// SetAxis records a raw stick or trigger reading.
func (g *Gamepad) SetAxis(a axis.Axis, value int) {
	if !a.Valid() {
		return
	}
	g.mu.Lock()
	g.raw[a] = value
	g.changed = true
	g.mu.Unlock()
}

// SetButton records a button state. A press of ButtonY latches an enter
// request and a press of ButtonB latches an exit request.
func (g *Gamepad) SetButton(a axis.Axis, pressed bool) {
	if !a.Valid() {
		return
	}
	v := 0
	if pressed {
		v = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	rising := v == 1 && g.raw[a] == 0
	g.raw[a] = v
	g.changed = true
	if !rising {
		return
	}
	switch a {
	case axis.ButtonY:
		g.enter = true
	case axis.ButtonB:
		g.exit = true
	}
}

// RequestEnter latches an enter request, as a keyboard hotkey does.
func (g *Gamepad) RequestEnter() {
	g.mu.Lock()
	g.enter = true
	g.mu.Unlock()
}

// RequestExit latches an exit request.
func (g *Gamepad) RequestExit() {
	g.mu.Lock()
	g.exit = true
	g.mu.Unlock()
}

// Values returns the calibrated command vector.
func (g *Gamepad) Values() axis.Values {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.values()
}

func (g *Gamepad) values() axis.Values {
	out := g.raw
	steer := g.raw[axis.LeftX] + g.trim.Steering
	if g.trim.InvertSteering {
		steer = -steer
	}
	out[axis.LeftX] = NormalizeWithTrim(steer, g.trim.Steering)
	out[axis.RightY] = NormalizeWithTrim(g.raw[axis.RightY]+g.trim.Throttle, g.trim.Throttle)
	return out
}

// Poll returns the calibrated values and clears latched edges. changed
// reports whether any event arrived since the previous Poll.
func (g *Gamepad) Poll() (values axis.Values, edges Edges, changed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	values = g.values()
	edges = Edges{Enter: g.enter, Exit: g.exit}
	changed = g.changed
	g.enter, g.exit, g.changed = false, false, false
	return values, edges, changed
}

// Reset returns every axis and button to neutral.
func (g *Gamepad) Reset() {
	g.mu.Lock()
	g.raw = axis.Values{}
	g.changed = true
	g.mu.Unlock()
}
