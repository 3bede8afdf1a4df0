// Package axis defines the canonical command-vector layout shared by the
// gamepad, the autopilot, the arbiter and the wire payload.
package axis

import (
	"fmt"
	"sync/atomic"
)

// Axis indexes one slot of the command vector.
type Axis int

const (
	LeftX Axis = iota
	LeftY
	RightX
	RightY
	LeftTrigger
	RightTrigger
	ButtonA
	ButtonB
	ButtonX
	ButtonY

	// Count is the number of slots in a command vector.
	Count
)

// Autopilot slots. Translation rides on the left stick and rotation on the
// right stick X axis, so manual and automatic commands share one layout.
const (
	MoveX  = LeftX
	MoveY  = LeftY
	Rotate = RightX
)

var names = [Count]string{
	"left_x", "left_y", "right_x", "right_y",
	"left_trigger", "right_trigger",
	"button_a", "button_b", "button_x", "button_y",
}

func (a Axis) String() string {
	if !a.Valid() {
		return fmt.Sprintf("axis(%d)", int(a))
	}
	return names[a]
}

// Valid reports whether a names a slot of the command vector.
func (a Axis) Valid() bool {
	return a >= 0 && a < Count
}

// Parse returns the axis with the given name.
func Parse(name string) (Axis, error) {
	for i, n := range names {
		if n == name {
			return Axis(i), nil
		}
	}
	switch name {
	case "move_x":
		return MoveX, nil
	case "move_y":
		return MoveY, nil
	case "rotate":
		return Rotate, nil
	}
	return 0, fmt.Errorf("unknown axis %q", name)
}

// Values is a plain copy of a command vector.
type Values [Count]int

// Map returns the values keyed by axis name, for JSON surfaces.
func (v Values) Map() map[string]int {
	m := make(map[string]int, Count)
	for i, n := range names {
		m[n] = v[i]
	}
	return m
}

// Vector is a command vector whose slots are written and read independently.
// Each slot is last-value-wins; a Snapshot is not a consistent cut across
// slots.
type Vector struct {
	slots [Count]atomic.Int64
}

// Load returns the current value of one slot.
func (v *Vector) Load(a Axis) int {
	return int(v.slots[a].Load())
}

// Store sets one slot.
func (v *Vector) Store(a Axis, val int) {
	v.slots[a].Store(int64(val))
}

// Snapshot copies every slot.
func (v *Vector) Snapshot() Values {
	var out Values
	for i := range v.slots {
		out[i] = int(v.slots[i].Load())
	}
	return out
}

// Reset zeroes every slot.
func (v *Vector) Reset() {
	for i := range v.slots {
		v.slots[i].Store(0)
	}
}
