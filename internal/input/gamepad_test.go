package input

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hi-im-vika/zoomy-client/internal/axis"
)

func TestNormalizeWithTrim(t *testing.T) {
	tests := []struct {
		name    string
		i, trim int
		want    int
	}{
		{"centered no trim", 0, 0, 0},
		{"full right no trim", 32767, 0, 32767},
		{"inside range passes through", 1000, 500, 1000},
		{"trimmed past full scale pins positive", 32767 + 500, 500, 32767},
		{"negative trim pins positive", 32767, -500, 32767},
		{"negative side pinned", -33000, 500, -32267 + 500},
		{"zero treated as negative when pinned", 0, 40000, -(32767 - 40000) + 40000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeWithTrim(tt.i, tt.trim))
		})
	}
}

func TestGamepad_SteeringAndThrottleTrim(t *testing.T) {
	pad := NewGamepad(Trim{Steering: 500, Throttle: -200})
	pad.SetAxis(axis.LeftX, 1000)
	pad.SetAxis(axis.RightY, 32767)
	pad.SetAxis(axis.LeftY, -1234)

	v := pad.Values()
	assert.Equal(t, 1500, v[axis.LeftX])
	assert.Equal(t, 32567, v[axis.RightY])
	assert.Equal(t, -1234, v[axis.LeftY])

	pad.SetTrim(Trim{Steering: 500, InvertSteering: true})
	v = pad.Values()
	assert.Equal(t, -1500, v[axis.LeftX])
}

func TestGamepad_ButtonEdges(t *testing.T) {
	pad := NewGamepad(Trim{})

	pad.SetButton(axis.ButtonY, true)
	pad.SetButton(axis.ButtonY, true)
	values, edges, changed := pad.Poll()
	assert.True(t, changed)
	assert.Equal(t, Edges{Enter: true}, edges)
	assert.Equal(t, 1, values[axis.ButtonY])

	// held button does not re-trigger
	pad.SetButton(axis.ButtonY, true)
	_, edges, _ = pad.Poll()
	assert.Equal(t, Edges{}, edges)

	// press and release between polls is still seen
	pad.SetButton(axis.ButtonB, true)
	pad.SetButton(axis.ButtonB, false)
	values, edges, _ = pad.Poll()
	assert.Equal(t, Edges{Exit: true}, edges)
	assert.Equal(t, 0, values[axis.ButtonB])

	_, _, changed = pad.Poll()
	assert.False(t, changed)
}

func TestGamepad_KeyboardRequests(t *testing.T) {
	pad := NewGamepad(Trim{})
	pad.RequestEnter()
	pad.RequestExit()
	_, edges, _ := pad.Poll()
	assert.Equal(t, Edges{Enter: true, Exit: true}, edges)
}

func TestGamepad_InvalidAxisIgnored(t *testing.T) {
	pad := NewGamepad(Trim{})
	pad.SetAxis(axis.Count, 5)
	pad.SetButton(axis.Axis(-1), true)
	assert.Equal(t, axis.Values{}, pad.Values())
}
