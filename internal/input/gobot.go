package input

import (
	"fmt"
	"sort"
	"strings"

	"gobot.io/x/gobot"
	"gobot.io/x/gobot/platforms/joystick"
	"gobot.io/x/gobot/platforms/keyboard"

	"github.com/hi-im-vika/zoomy-client/internal/axis"
)

// Profile maps a controller's gobot event names onto command slots.
type Profile struct {
	// Config is the gobot joystick configuration name or JSON path.
	Config string
	// Axes maps stick and trigger event names to slots.
	Axes map[string]axis.Axis
	// Buttons maps button names (without the _press/_release suffix) to
	// slots.
	Buttons map[string]axis.Axis
}

// Profiles are the built-in controller layouts.
var Profiles = map[string]Profile{
	"xbox360": {
		Config: "xbox360",
		Axes: map[string]axis.Axis{
			"left_x": axis.LeftX, "left_y": axis.LeftY,
			"right_x": axis.RightX, "right_y": axis.RightY,
			"lt": axis.LeftTrigger, "rt": axis.RightTrigger,
		},
		Buttons: map[string]axis.Axis{
			"a": axis.ButtonA, "b": axis.ButtonB, "x": axis.ButtonX, "y": axis.ButtonY,
		},
	},
	"dualshock4": {
		Config: "dualshock4",
		Axes: map[string]axis.Axis{
			"left_x": axis.LeftX, "left_y": axis.LeftY,
			"right_x": axis.RightX, "right_y": axis.RightY,
			"l2": axis.LeftTrigger, "r2": axis.RightTrigger,
		},
		Buttons: map[string]axis.Axis{
			"x": axis.ButtonA, "circle": axis.ButtonB, "square": axis.ButtonX, "triangle": axis.ButtonY,
		},
	},
}

// LookupProfile returns the named profile.
func LookupProfile(name string) (Profile, error) {
	p, ok := Profiles[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(Profiles))
		for n := range Profiles {
			names = append(names, n)
		}
		sort.Strings(names)
		return Profile{}, fmt.Errorf("unknown controller profile %q (have %s)", name, strings.Join(names, ", "))
	}
	return p, nil
}

// Eventer is the subscription half of gobot.Eventer.
type Eventer interface {
	On(name string, f func(s interface{})) error
}

// Bind subscribes pad to every event the profile names.
func (p Profile) Bind(events Eventer, pad *Gamepad) error {
	for name, a := range p.Axes {
		a := a
		if err := events.On(name, func(data interface{}) {
			v, ok := axisValue(data)
			if !ok {
				tracef("ignoring %s event with %T payload", name, data)
				return
			}
			pad.SetAxis(a, v)
		}); err != nil {
			return fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}
	for name, a := range p.Buttons {
		a := a
		if err := events.On(name+"_press", func(interface{}) { pad.SetButton(a, true) }); err != nil {
			return fmt.Errorf("failed to bind %s press: %w", name, err)
		}
		if err := events.On(name+"_release", func(interface{}) { pad.SetButton(a, false) }); err != nil {
			return fmt.Errorf("failed to bind %s release: %w", name, err)
		}
	}
	return nil
}

func axisValue(data interface{}) (int, bool) {
	switch v := data.(type) {
	case int16:
		return int(v), true
	case int:
		return v, true
	case int32:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// HandleKey applies a keyboard hotkey: a enters autonomous mode, x and
// escape leave it.
func HandleKey(pad *Gamepad, key keyboard.KeyEvent) {
	switch key.Key {
	case keyboard.A:
		pad.RequestEnter()
	case keyboard.X, keyboard.Escape:
		pad.RequestExit()
	}
}

// NewJoystickRobot wires the first connected game controller to pad.
func NewJoystickRobot(pad *Gamepad, profileName string) (*gobot.Robot, error) {
	profile, err := LookupProfile(profileName)
	if err != nil {
		return nil, err
	}
	adaptor := joystick.NewAdaptor()
	stick := joystick.NewDriver(adaptor, profile.Config)
	if err := profile.Bind(stick, pad); err != nil {
		return nil, err
	}
	return gobot.NewRobot("gamepad",
		[]gobot.Connection{adaptor},
		[]gobot.Device{stick},
		func() { diagf("controller %s bound", profileName) },
	), nil
}

// NewKeyboardRobot wires terminal hotkeys to pad.
func NewKeyboardRobot(pad *Gamepad) *gobot.Robot {
	keys := keyboard.NewDriver()
	keys.On(keyboard.Key, func(data interface{}) {
		if key, ok := data.(keyboard.KeyEvent); ok {
			HandleKey(pad, key)
		}
	})
	return gobot.NewRobot("keyboard",
		[]gobot.Connection{},
		[]gobot.Device{keys},
		func() {},
	)
}
