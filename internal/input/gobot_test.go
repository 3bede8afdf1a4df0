package input

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gobot.io/x/gobot"
	"gobot.io/x/gobot/platforms/keyboard"

	"github.com/hi-im-vika/zoomy-client/internal/axis"
)

func TestLookupProfile(t *testing.T) {
	p, err := LookupProfile("Xbox360")
	require.NoError(t, err)
	assert.Equal(t, axis.ButtonY, p.Buttons["y"])

	_, err = LookupProfile("steering-wheel")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dualshock4, xbox360")
}

func TestProfileBind_DeliversEvents(t *testing.T) {
	events := gobot.NewEventer()
	pad := NewGamepad(Trim{})
	require.NoError(t, Profiles["dualshock4"].Bind(events, pad))

	events.Publish("left_y", int16(-12000))
	events.Publish("r2", int16(32767))
	events.Publish("triangle_press", nil)

	require.Eventually(t, func() bool {
		v := pad.Values()
		return v[axis.LeftY] == -12000 && v[axis.RightTrigger] == 32767 && v[axis.ButtonY] == 1
	}, time.Second, time.Millisecond)

	_, edges, _ := pad.Poll()
	assert.True(t, edges.Enter)

	events.Publish("triangle_release", nil)
	require.Eventually(t, func() bool { return pad.Values()[axis.ButtonY] == 0 }, time.Second, time.Millisecond)
}

func TestHandleKey(t *testing.T) {
	tests := []struct {
		key  int
		want Edges
	}{
		{keyboard.A, Edges{Enter: true}},
		{keyboard.X, Edges{Exit: true}},
		{keyboard.Escape, Edges{Exit: true}},
		{keyboard.Q, Edges{}},
	}
	for _, tt := range tests {
		pad := NewGamepad(Trim{})
		HandleKey(pad, keyboard.KeyEvent{Key: tt.key})
		_, edges, _ := pad.Poll()
		assert.Equal(t, tt.want, edges, "key %d", tt.key)
	}
}
