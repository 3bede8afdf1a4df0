package vision

import (
	"image"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
)

// OverheadLocalizer finds the car in the latest arena frame by colour
// segmentation. It satisfies autopilot.Localizer.
type OverheadLocalizer struct {
	Frames    *FrameCell
	Segmenter *Segmenter
	// Masks, when set, receives every computed mask for display.
	Masks *FrameCell

	lastBox atomic.Pointer[image.Rectangle]
}

// Localize segments the latest frame with r. ok is false when there is no
// frame yet or no blob matched.
func (o *OverheadLocalizer) Localize(r arena.HSVRange) (arena.Fix, bool) {
	img, _ := o.Frames.Snapshot()
	defer img.Close()
	if img.Empty() {
		return arena.Fix{}, false
	}

	mask, box, found := o.Segmenter.Segment(img, r)
	defer mask.Close()
	if o.Masks != nil {
		o.Masks.Store(mask)
	}
	if !found {
		tracef("no blob in %dx%d arena frame", img.Cols(), img.Rows())
		return arena.Fix{}, false
	}
	o.lastBox.Store(&box)
	return arena.Fix{Centroid: Centroid(box), Box: box, Width: img.Cols()}, true
}

// LastBox returns the most recent blob bounding box.
func (o *OverheadLocalizer) LastBox() (image.Rectangle, bool) {
	b := o.lastBox.Load()
	if b == nil {
		return image.Rectangle{}, false
	}
	return *b, true
}

// DashcamMarkers runs marker detection on the latest dashcam frame. It
// satisfies autopilot.MarkerSource.
type DashcamMarkers struct {
	Frames   *FrameCell
	Detector MarkerDetector

	count atomic.Int64
}

// Markers returns the detected markers and the frame width. ok is false
// when no frame has arrived yet.
func (d *DashcamMarkers) Markers() ([]arena.Marker, int, bool) {
	img, _ := d.Frames.Snapshot()
	defer img.Close()
	if img.Empty() {
		return nil, 0, false
	}
	markers := d.Detector.Detect(img)
	d.count.Store(int64(len(markers)))
	return markers, img.Cols(), true
}

// LastCount is the number of markers seen in the most recent detection.
func (d *DashcamMarkers) LastCount() int {
	return int(d.count.Load())
}

// EncodeJPEG encodes the latest frame of cell for display. ok is false when
// the cell is empty.
func EncodeJPEG(cell *FrameCell) ([]byte, bool, error) {
	img, _ := cell.Snapshot()
	defer img.Close()
	if img.Empty() {
		return nil, false, nil
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, false, err
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, true, nil
}
