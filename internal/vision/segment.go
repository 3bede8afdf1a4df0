package vision

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
)

// DefaultKernelSize is the side of the square dilation kernel.
const DefaultKernelSize = 3

// Segmenter isolates the car's colour marker in an overhead frame.
type Segmenter struct {
	mu     sync.Mutex
	kernel gocv.Mat

	// PreMasked treats input frames as binary masks that were already
	// thresholded upstream, skipping colour conversion.
	PreMasked bool
}

// NewSegmenter returns a segmenter with a rectangular dilation kernel of
// the given size (DefaultKernelSize when size < 1).
func NewSegmenter(kernelSize int) *Segmenter {
	if kernelSize < 1 {
		kernelSize = DefaultKernelSize
	}
	return &Segmenter{
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelSize, kernelSize)),
	}
}

// Close releases the kernel.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kernel.Close()
}

// Mask converts img to HSV, dilates it and thresholds it against r. The
// returned mask is owned by the caller. An empty input gives an empty mask.
func (s *Segmenter) Mask(img gocv.Mat, r arena.HSVRange) gocv.Mat {
	mask := gocv.NewMat()
	if img.Empty() {
		return mask
	}
	if s.PreMasked {
		if img.Channels() > 1 {
			gocv.CvtColor(img, &mask, gocv.ColorBGRToGray)
		} else {
			img.CopyTo(&mask)
		}
		return mask
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	dilated := gocv.NewMat()
	defer dilated.Close()
	s.mu.Lock()
	gocv.Dilate(hsv, &dilated, s.kernel)
	s.mu.Unlock()

	gocv.InRangeWithScalar(dilated, hsvScalar(r.Low), hsvScalar(r.High), &mask)
	return mask
}

// Segment returns the mask and the bounding box of its biggest external
// blob. found is false when the frame is empty or no blob exists.
func (s *Segmenter) Segment(img gocv.Mat, r arena.HSVRange) (mask gocv.Mat, box image.Rectangle, found bool) {
	mask = s.Mask(img, r)
	if mask.Empty() {
		return mask, image.Rectangle{}, false
	}
	box, found = BiggestBlob(mask)
	return mask, box, found
}

// BiggestBlob returns the bounding box with the largest area among the
// external contours of mask. Ties keep the first contour seen.
func BiggestBlob(mask gocv.Mat) (image.Rectangle, bool) {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var (
		best    image.Rectangle
		biggest int
		found   bool
	)
	for i := 0; i < contours.Size(); i++ {
		r := gocv.BoundingRect(contours.At(i))
		if area := r.Dx() * r.Dy(); area > biggest {
			biggest = area
			best = r
			found = true
		}
	}
	return best, found
}

// Centroid is the centre of a bounding box, rounded down.
func Centroid(box image.Rectangle) image.Point {
	return image.Pt(box.Min.X+box.Dx()/2, box.Min.Y+box.Dy()/2)
}

func hsvScalar(c arena.HSV) gocv.Scalar {
	return gocv.NewScalar(float64(c.H), float64(c.S), float64(c.V), 0)
}
