// Package arena holds the value types shared by the vision pipeline, the
// autopilot and the operator-facing surfaces: waypoints, HSV colour ranges,
// fiducial markers and localization fixes.
package arena

import (
	"fmt"
	"image"
)

// HSV is a single colour in OpenCV's 8-bit HSV space (H in [0,180], S and V
// in [0,255]).
type HSV struct {
	H int `json:"h"`
	S int `json:"s"`
	V int `json:"v"`
}

// HSVRange is the inclusive colour range used to segment the car marker.
// Low need not be below High per channel; an inverted range simply matches
// nothing.
type HSVRange struct {
	Low  HSV `json:"low"`
	High HSV `json:"high"`
}

// DefaultHSVRange matches a saturated red marker.
var DefaultHSVRange = HSVRange{
	Low:  HSV{H: 0, S: 120, V: 70},
	High: HSV{H: 10, S: 255, V: 255},
}

// Validate checks the channel bounds of both ends of the range.
func (r HSVRange) Validate() error {
	for _, c := range []struct {
		name string
		v    HSV
	}{{"low", r.Low}, {"high", r.High}} {
		if c.v.H < 0 || c.v.H > 180 {
			return fmt.Errorf("%s hue %d out of range [0,180]", c.name, c.v.H)
		}
		if c.v.S < 0 || c.v.S > 255 {
			return fmt.Errorf("%s saturation %d out of range [0,255]", c.name, c.v.S)
		}
		if c.v.V < 0 || c.v.V > 255 {
			return fmt.Errorf("%s value %d out of range [0,255]", c.name, c.v.V)
		}
	}
	return nil
}

// Waypoint is one stop in an autonomous traversal. Rotation is a heading
// command in degrees (0-359, smaller is counter-clockwise).
type Waypoint struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Speed    int  `json:"speed"`
	Rotation int  `json:"rotation"`
	Turret   bool `json:"turret"`
}

// Point returns the waypoint destination as an image point.
func (w Waypoint) Point() image.Point {
	return image.Pt(w.X, w.Y)
}

// Validate rejects waypoints the controller cannot act on.
func (w Waypoint) Validate() error {
	if w.Speed < 0 || w.Speed > 32768 {
		return fmt.Errorf("speed %d out of range [0,32768]", w.Speed)
	}
	if w.Rotation < 0 || w.Rotation > 359 {
		return fmt.Errorf("rotation %d out of range [0,359]", w.Rotation)
	}
	return nil
}

// DefaultWaypoints is the traversal used when none are configured. Index 0
// is the bootstrap entry and is never dispatched.
var DefaultWaypoints = []Waypoint{
	{X: 0, Y: 0, Speed: 0, Rotation: 0},
	{X: 150, Y: 150, Speed: 16384, Rotation: 0},
	{X: 450, Y: 150, Speed: 16384, Rotation: 90},
	{X: 450, Y: 450, Speed: 16384, Rotation: 180, Turret: true},
	{X: 150, Y: 450, Speed: 16384, Rotation: 270},
}

// Point2f is a sub-pixel image coordinate.
type Point2f struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Marker is one detected fiducial: its dictionary ID and the four image
// corners in detector order (top-left, top-right, bottom-right, bottom-left).
type Marker struct {
	ID      int        `json:"id"`
	Corners [4]Point2f `json:"corners"`
}

// Fix is a single localization result from the overhead camera.
type Fix struct {
	Centroid image.Point
	Box      image.Rectangle
	// Width is the arena image width in pixels, used to scale the arrival
	// tolerance.
	Width int
}

// MarkerDictionaries names the ArUco dictionaries a marker detector can be
// built for.
var MarkerDictionaries = []string{
	"4x4_50", "4x4_100", "4x4_250", "4x4_1000",
	"5x5_50", "5x5_100", "5x5_250", "5x5_1000",
	"6x6_50", "6x6_100", "6x6_250", "6x6_1000",
	"7x7_50", "7x7_100", "7x7_250", "7x7_1000",
	"original",
}

// KnownMarkerDictionary reports whether name is in MarkerDictionaries.
func KnownMarkerDictionary(name string) bool {
	for _, d := range MarkerDictionaries {
		if d == name {
			return true
		}
	}
	return false
}
