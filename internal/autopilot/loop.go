package autopilot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hi-im-vika/zoomy-client/internal/timeutil"
)

// Pacer blocks between two iterations of a control loop.
type Pacer interface {
	Wait(ctx context.Context) error
}

// SleepPacer paces a loop with a fixed sleep on a clock.
type SleepPacer struct {
	Clock  timeutil.Clock
	Period time.Duration
}

// Wait sleeps for the period or until ctx is done.
func (p SleepPacer) Wait(ctx context.Context) error {
	clock := p.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return timeutil.SleepContext(ctx, clock, p.Period)
}

// managedLoop runs at most one goroutine for a control axis. Starting it
// again cancels and joins the previous goroutine first, so two writers never
// share an output slot. Stopping only cancels; it does not wait.
type managedLoop struct {
	name string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	gen     atomic.Uint64
	running atomic.Bool
}

// start launches step in a new goroutine, pacing iterations with pacer. The
// loop ends when ctx is cancelled, when stop is called, when the pacer fails
// or when step returns true. prepare, if not nil, runs after the previous
// goroutine has exited and before the new one starts.
func (l *managedLoop) start(parent context.Context, pacer Pacer, prepare func(), step func() bool) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
	if err := parent.Err(); err != nil {
		return l.gen.Load(), err
	}
	if prepare != nil {
		prepare()
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	gen := l.gen.Add(1)
	l.cancel, l.done = cancel, done
	l.running.Store(true)

	go func() {
		defer close(done)
		defer cancel()
		// Any exit clears the flag, but only for its own generation.
		defer func() {
			if l.gen.Load() == gen {
				l.running.Store(false)
			}
		}()
		for {
			if ctx.Err() != nil {
				return
			}
			if step() {
				diagf("%s loop gen=%d finished", l.name, gen)
				return
			}
			if err := pacer.Wait(ctx); err != nil {
				if ctx.Err() == nil {
					opsf("%s loop gen=%d pacer failed: %v", l.name, gen, err)
				}
				return
			}
		}
	}()
	diagf("%s loop gen=%d started", l.name, gen)
	return gen, nil
}

// stop cancels the current goroutine, if any, without waiting for it.
// Calling stop on a stopped loop is a no-op.
func (l *managedLoop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	if l.running.Swap(false) {
		diagf("%s loop gen=%d stopped", l.name, l.gen.Load())
	}
}

// wait blocks until the current goroutine, if any, has exited.
func (l *managedLoop) wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (l *managedLoop) isRunning() bool {
	return l.running.Load()
}

func (l *managedLoop) generation() uint64 {
	return l.gen.Load()
}
