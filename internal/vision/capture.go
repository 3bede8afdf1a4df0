package vision

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/hi-im-vika/zoomy-client/internal/timeutil"
)

// DefaultDashcamPipeline receives the robot's RTP/JPEG dashcam stream.
const DefaultDashcamPipeline = "udpsrc port=5200 ! application/x-rtp, media=video, clock-rate=90000, payload=96 ! rtpjpegdepay ! jpegdec ! videoconvert ! appsink"

// FrameReader is a pull-based frame source such as *gocv.VideoCapture.
type FrameReader interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// CaptureSpec selects a camera: a device index when Device >= 0, otherwise
// a GStreamer pipeline or file/URL in Pipeline.
type CaptureSpec struct {
	Device   int
	Pipeline string
}

func (s CaptureSpec) String() string {
	if s.Device >= 0 {
		return fmt.Sprintf("device %d", s.Device)
	}
	return s.Pipeline
}

// OpenCapture opens the camera described by spec.
func OpenCapture(spec CaptureSpec) (FrameReader, error) {
	if spec.Device >= 0 {
		vc, err := gocv.OpenVideoCapture(spec.Device)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture device %d: %w", spec.Device, err)
		}
		return vc, nil
	}
	if spec.Pipeline == "" {
		return nil, fmt.Errorf("capture spec has neither device nor pipeline")
	}
	vc, err := gocv.OpenVideoCaptureWithAPI(spec.Pipeline, gocv.VideoCaptureGstreamer)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture pipeline %q: %w", spec.Pipeline, err)
	}
	return vc, nil
}

// Capture pumps frames from a reader into a FrameCell.
type Capture struct {
	Name   string
	Reader FrameReader
	Cell   *FrameCell
	// Flip rotates every frame by 180 degrees.
	Flip bool
	// IdleDelay is how long to back off after a failed read.
	IdleDelay time.Duration
	Clock     timeutil.Clock

	frames int64
	misses int64
}

// Run reads frames until ctx is done, then closes the reader. Failed reads
// are not errors; the camera may simply not be streaming yet.
func (c *Capture) Run(ctx context.Context) error {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	idle := c.IdleDelay
	if idle <= 0 {
		idle = 10 * time.Millisecond
	}
	defer func() {
		if err := c.Reader.Close(); err != nil {
			opsf("%s: close capture: %v", c.Name, err)
		}
		diagf("%s: capture stopped after %d frames (%d empty reads)", c.Name, c.frames, c.misses)
	}()

	frame := gocv.NewMat()
	defer frame.Close()
	rotated := gocv.NewMat()
	defer rotated.Close()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if !c.Reader.Read(&frame) || frame.Empty() {
			c.misses++
			if c.misses == 1 || c.misses%500 == 0 {
				opsf("%s: no frame from camera (%d empty reads)", c.Name, c.misses)
			}
			if err := timeutil.SleepContext(ctx, clock, idle); err != nil {
				return nil
			}
			continue
		}
		c.frames++
		if c.Flip {
			gocv.Rotate(frame, &rotated, gocv.Rotate180Clockwise)
			c.Cell.Store(rotated)
		} else {
			c.Cell.Store(frame)
		}
		tracef("%s: frame %d %dx%d", c.Name, c.frames, frame.Cols(), frame.Rows())
	}
}
