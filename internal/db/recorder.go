package db

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hi-im-vika/zoomy-client/internal/arena"
	"github.com/hi-im-vika/zoomy-client/internal/autopilot"
	"github.com/hi-im-vika/zoomy-client/internal/axis"
	"github.com/hi-im-vika/zoomy-client/internal/timeutil"
)

// RecorderConfig tunes a Recorder.
type RecorderConfig struct {
	SampleInterval time.Duration // 100ms
	QueueSize      int           // 1024
	Clock          timeutil.Clock
	NewID          func() string
}

// Recorder persists sequencer transitions and throttled pose samples.
// Callbacks only enqueue; Run performs the writes so the update loop
// never waits on sqlite.
type Recorder struct {
	db    *DB
	cfg   RecorderConfig
	queue chan func(*DB) error

	mu         sync.Mutex
	session    string
	lastPose   image.Point
	lastSample time.Time
	dropped    int
}

// NewRecorder returns a recorder writing to db.
func NewRecorder(db *DB, cfg RecorderConfig) *Recorder {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 100 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Recorder{
		db:    db,
		cfg:   cfg,
		queue: make(chan func(*DB) error, cfg.QueueSize),
	}
}

// Session returns the id of the open session, or "" between sessions.
func (r *Recorder) Session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Dropped returns how many writes were discarded because the queue was full.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// enqueue must be called with r.mu held.
func (r *Recorder) enqueue(op func(*DB) error) {
	select {
	case r.queue <- op:
	default:
		r.dropped++
		if r.dropped == 1 || r.dropped%100 == 0 {
			opsf("session log queue full, %d writes dropped", r.dropped)
		}
	}
}

func (r *Recorder) SessionStarted(waypoints []arena.Waypoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.cfg.NewID()
	now := r.cfg.Clock.Now()
	r.session = id
	r.lastSample = time.Time{}
	n := len(waypoints)
	r.enqueue(func(db *DB) error { return db.CreateSession(id, now, n) })
	diagf("session %s started with %d waypoints", id, n)
}

func (r *Recorder) WaypointStarted(step int, wp arena.Waypoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == "" {
		return
	}
	id, now := r.session, r.cfg.Clock.Now()
	r.enqueue(func(db *DB) error { return db.StartWaypoint(id, step, wp, now) })
}

func (r *Recorder) WaypointFinished(step int, wp arena.Waypoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == "" {
		return
	}
	id, now, final := r.session, r.cfg.Clock.Now(), r.lastPose
	r.enqueue(func(db *DB) error { return db.FinishWaypoint(id, step, now, final) })
	diagf("session %s waypoint %d reached at %v", id, step, final)
}

func (r *Recorder) SessionEnded(outcome autopilot.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == "" {
		return
	}
	id, now := r.session, r.cfg.Clock.Now()
	r.session = ""
	r.enqueue(func(db *DB) error { return db.EndSession(id, now, string(outcome)) })
	diagf("session %s ended: %s", id, outcome)
}

// SamplePose remembers the latest pose and, while a session is open,
// records it at most once per SampleInterval.
func (r *Recorder) SamplePose(at time.Time, pose image.Point, commands axis.Values) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPose = pose
	if r.session == "" {
		return
	}
	if !r.lastSample.IsZero() && at.Sub(r.lastSample) < r.cfg.SampleInterval {
		return
	}
	r.lastSample = at
	id := r.session
	s := PoseSample{
		Time:   at,
		X:      pose.X,
		Y:      pose.Y,
		MoveX:  commands[axis.MoveX],
		MoveY:  commands[axis.MoveY],
		Rotate: commands[axis.Rotate],
	}
	r.enqueue(func(db *DB) error { return db.InsertPoseSample(id, s) })
}

// Run applies queued writes until ctx is cancelled, then flushes what is
// already queued.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case op := <-r.queue:
			r.apply(op)
		case <-ctx.Done():
			for {
				select {
				case op := <-r.queue:
					r.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) apply(op func(*DB) error) {
	if err := op(r.db); err != nil {
		opsf("session log write failed: %v", err)
	}
}
