package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hi-im-vika/zoomy-client/internal/timeutil"
)

// Stats counts link traffic. Counters are cumulative; LogStats reports the
// rate since its previous call.
type Stats struct {
	sent       atomic.Uint64
	sendErrors atomic.Uint64
	received   atomic.Uint64
	pings      atomic.Uint64
	dropped    atomic.Uint64
	reconnects atomic.Uint64

	clock   timeutil.Clock
	mu      sync.Mutex
	lastLog time.Time
	lastTx  uint64
	lastRx  uint64
}

// StatsSnapshot is a copy of the counters.
type StatsSnapshot struct {
	Sent       uint64 `json:"sent"`
	SendErrors uint64 `json:"send_errors"`
	Received   uint64 `json:"received"`
	Pings      uint64 `json:"pings"`
	Dropped    uint64 `json:"dropped"`
	Reconnects uint64 `json:"reconnects"`
}

// NewStats returns zeroed counters.
func NewStats(clock timeutil.Clock) *Stats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Stats{clock: clock, lastLog: clock.Now()}
}

func (s *Stats) AddSent()      { s.sent.Add(1) }
func (s *Stats) AddSendError() { s.sendErrors.Add(1) }
func (s *Stats) AddReceived()  { s.received.Add(1) }
func (s *Stats) AddPing()      { s.pings.Add(1) }
func (s *Stats) AddDropped()   { s.dropped.Add(1) }
func (s *Stats) AddReconnect() { s.reconnects.Add(1) }

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Sent:       s.sent.Load(),
		SendErrors: s.sendErrors.Load(),
		Received:   s.received.Load(),
		Pings:      s.pings.Load(),
		Dropped:    s.dropped.Load(),
		Reconnects: s.reconnects.Load(),
	}
}

// LogStats writes the tx/rx rate since the previous call to the diag stream
// and any send errors to the ops stream.
func (s *Stats) LogStats() {
	snap := s.Snapshot()

	s.mu.Lock()
	now := s.clock.Now()
	elapsed := now.Sub(s.lastLog)
	tx, rx := snap.Sent-s.lastTx, snap.Received-s.lastRx
	s.lastLog, s.lastTx, s.lastRx = now, snap.Sent, snap.Received
	s.mu.Unlock()

	if elapsed <= 0 {
		return
	}
	diagf("link stats (/sec): %.1f sent, %.1f received, %d pings, %d dropped subscriber lines",
		float64(tx)/elapsed.Seconds(), float64(rx)/elapsed.Seconds(), snap.Pings, snap.Dropped)
	if snap.SendErrors > 0 {
		opsf("link send errors so far: %d (reconnects %d)", snap.SendErrors, snap.Reconnects)
	}
}
