package vision

import (
	"context"
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// ErrClosed is returned by Wait once the cell has been closed.
var ErrClosed = errors.New("vision: frame cell closed")

// FrameCell holds the latest frame from one camera. A single capture
// goroutine stores frames; any number of readers take private copies, so
// no reader ever sees a partially written image.
type FrameCell struct {
	mu     sync.Mutex
	mat    gocv.Mat
	seq    uint64
	notify chan struct{}
	closed bool
}

// NewFrameCell returns an empty cell.
func NewFrameCell() *FrameCell {
	return &FrameCell{mat: gocv.NewMat(), notify: make(chan struct{})}
}

// Store publishes a copy of img as the latest frame and wakes waiters.
// Empty images are ignored.
func (c *FrameCell) Store(img gocv.Mat) {
	if img.Empty() {
		return
	}
	clone := img.Clone()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		clone.Close()
		return
	}
	old := c.mat
	c.mat = clone
	c.seq++
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()

	old.Close()
}

// Snapshot returns a copy of the latest frame and its sequence number. The
// copy is empty when nothing has been stored yet. The caller must Close it.
func (c *FrameCell) Snapshot() (gocv.Mat, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.mat.Empty() {
		return gocv.NewMat(), c.seq
	}
	return c.mat.Clone(), c.seq
}

// Seq returns the sequence number of the latest frame (0 before the first).
func (c *FrameCell) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Wait blocks until a frame newer than after is stored or ctx is done, and
// returns the new sequence number.
func (c *FrameCell) Wait(ctx context.Context, after uint64) (uint64, error) {
	for {
		c.mu.Lock()
		seq, ch, closed := c.seq, c.notify, c.closed
		c.mu.Unlock()
		if closed {
			return seq, ErrClosed
		}
		if seq > after {
			return seq, nil
		}
		select {
		case <-ctx.Done():
			return seq, ctx.Err()
		case <-ch:
		}
	}
}

// Close releases the stored frame. Later Stores are dropped and waiters are
// released.
func (c *FrameCell) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.mat.Close()
	close(c.notify)
}

// FramePacer paces a control loop by frame arrival on a cell instead of a
// fixed sleep. It is used by one loop goroutine at a time.
type FramePacer struct {
	Cell *FrameCell
	seq  uint64
}

// Wait blocks until the cell holds a frame newer than the last one seen.
func (p *FramePacer) Wait(ctx context.Context) error {
	seq, err := p.Cell.Wait(ctx, p.seq)
	p.seq = seq
	return err
}
