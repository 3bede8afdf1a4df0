package vision

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
)

// MarkerDetector finds fiducial markers in an image.
type MarkerDetector interface {
	Detect(img gocv.Mat) []arena.Marker
}

var arucoDictionaries = map[string]gocv.ArucoDictionaryCode{
	"4x4_50":   gocv.ArucoDict4x4_50,
	"4x4_100":  gocv.ArucoDict4x4_100,
	"4x4_250":  gocv.ArucoDict4x4_250,
	"4x4_1000": gocv.ArucoDict4x4_1000,
	"5x5_50":   gocv.ArucoDict5x5_50,
	"5x5_100":  gocv.ArucoDict5x5_100,
	"5x5_250":  gocv.ArucoDict5x5_250,
	"5x5_1000": gocv.ArucoDict5x5_1000,
	"6x6_50":   gocv.ArucoDict6x6_50,
	"6x6_100":  gocv.ArucoDict6x6_100,
	"6x6_250":  gocv.ArucoDict6x6_250,
	"6x6_1000": gocv.ArucoDict6x6_1000,
	"7x7_50":   gocv.ArucoDict7x7_50,
	"7x7_100":  gocv.ArucoDict7x7_100,
	"7x7_250":  gocv.ArucoDict7x7_250,
	"7x7_1000": gocv.ArucoDict7x7_1000,
	"original": gocv.ArucoDictArucoOriginal,
}

// ArucoDetector detects markers from one predefined ArUco dictionary.
type ArucoDetector struct {
	mu  sync.Mutex
	det gocv.ArucoDetector
}

// NewArucoDetector returns a 6x6/250 detector with default parameters.
func NewArucoDetector() *ArucoDetector {
	return newArucoDetector(gocv.ArucoDict6x6_250)
}

// NewArucoDetectorForDictionary returns a detector for a dictionary named
// like "6x6_250".
func NewArucoDetectorForDictionary(name string) (*ArucoDetector, error) {
	code, ok := arucoDictionaries[name]
	if !ok {
		return nil, fmt.Errorf("unknown ArUco dictionary %q", name)
	}
	return newArucoDetector(code), nil
}

func newArucoDetector(code gocv.ArucoDictionaryCode) *ArucoDetector {
	dict := gocv.GetPredefinedDictionary(code)
	params := gocv.NewArucoDetectorParameters()
	return &ArucoDetector{det: gocv.NewArucoDetectorWithParams(dict, params)}
}

// Detect returns the markers in img in detector order. Empty images yield
// no markers.
func (a *ArucoDetector) Detect(img gocv.Mat) []arena.Marker {
	if img.Empty() {
		return nil
	}
	a.mu.Lock()
	corners, ids, _ := a.det.DetectMarkers(img)
	a.mu.Unlock()
	return markersFromDetection(corners, ids)
}

// Close releases the detector.
func (a *ArucoDetector) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.det.Close()
}

func markersFromDetection(corners [][]gocv.Point2f, ids []int) []arena.Marker {
	n := len(ids)
	if len(corners) < n {
		n = len(corners)
	}
	out := make([]arena.Marker, 0, n)
	for i := 0; i < n; i++ {
		m := arena.Marker{ID: ids[i]}
		for j := 0; j < len(corners[i]) && j < 4; j++ {
			m.Corners[j] = arena.Point2f{X: corners[i][j].X, Y: corners[i][j].Y}
		}
		out = append(out, m)
	}
	return out
}
