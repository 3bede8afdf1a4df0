package autopilot

import (
	"math"

	"github.com/hi-im-vika/zoomy-client/internal/axis"
)

// DefaultDeadzone is the stick magnitude at or below which manual input is
// treated as neutral.
const DefaultDeadzone = 8000

// CommandSource supplies autopilot commands per axis.
type CommandSource interface {
	AxisCommand(a axis.Axis) int
}

// Arbiter merges operator input with autopilot commands.
type Arbiter struct {
	Deadzone int
}

var stickPairs = [...][2]axis.Axis{
	{axis.LeftX, axis.LeftY},
	{axis.RightX, axis.RightY},
}

// Merge builds the outgoing command vector. For each stick, manual input
// wins when its magnitude is strictly above the deadzone; otherwise the
// autopilot's values are used in autonomous mode and zero outside it.
// Triggers and buttons pass through, with the turret flag OR-ed into
// ButtonA while autonomous.
func (a Arbiter) Merge(manual axis.Values, auto bool, pilot CommandSource, turret bool) axis.Values {
	out := manual
	for _, pair := range stickPairs {
		x, y := manual[pair[0]], manual[pair[1]]
		if math.Hypot(float64(x), float64(y)) > float64(a.Deadzone) {
			continue
		}
		for _, ax := range pair {
			if auto && pilot != nil {
				out[ax] = pilot.AxisCommand(ax)
			} else {
				out[ax] = 0
			}
		}
	}
	if auto && turret {
		out[axis.ButtonA] = 1
	}
	return out
}
