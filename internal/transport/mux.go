package transport

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/hi-im-vika/zoomy-client/internal/protocol"
	"github.com/hi-im-vika/zoomy-client/internal/timeutil"
)

// MuxConfig configures a Mux. Zero values select defaults.
type MuxConfig struct {
	Host string
	Port int

	SendInterval    time.Duration // 35ms
	ReceiveInterval time.Duration // 1ms
	CheckInterval   time.Duration // 100ms
	StatsInterval   time.Duration // 10s
	BackoffInitial  time.Duration // 100ms
	BackoffMax      time.Duration // 5s

	Clock timeutil.Clock
}

func (c MuxConfig) withDefaults() MuxConfig {
	if c.SendInterval <= 0 {
		c.SendInterval = 35 * time.Millisecond
	}
	if c.ReceiveInterval <= 0 {
		c.ReceiveInterval = time.Millisecond
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 100 * time.Millisecond
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 10 * time.Second
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = c.BackoffInitial
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	return c
}

// Mux owns a Link. It sends the latest command payload and a ping on every
// send tick, fans received telemetry lines out to subscribers, and
// reconnects the link whenever the robot goes quiet.
type Mux struct {
	link  Link
	cfg   MuxConfig
	stats *Stats

	payloadMu sync.Mutex
	payload   []byte

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
	closing      bool

	connected atomic.Bool
	lost      chan struct{}
	latest    atomic.Value
}

// NewMux wraps link. The link is opened by Run.
func NewMux(link Link, cfg MuxConfig) *Mux {
	cfg = cfg.withDefaults()
	return &Mux{
		link:        link,
		cfg:         cfg,
		stats:       NewStats(cfg.Clock),
		subscribers: make(map[string]chan string),
		lost:        make(chan struct{}, 1),
	}
}

// Stats returns the link counters.
func (m *Mux) Stats() *Stats { return m.stats }

// Connected reports whether the robot is currently answering.
func (m *Mux) Connected() bool { return m.connected.Load() }

// Target returns the configured robot address.
func (m *Mux) Target() (string, int) { return m.cfg.Host, m.cfg.Port }

// SetPayload queues payload for the next send tick, replacing any payload
// not yet sent.
func (m *Mux) SetPayload(payload []byte) {
	p := append([]byte(nil), payload...)
	m.payloadMu.Lock()
	m.payload = p
	m.payloadMu.Unlock()
}

// Payload returns the queued payload.
func (m *Mux) Payload() []byte {
	m.payloadMu.Lock()
	defer m.payloadMu.Unlock()
	return append([]byte(nil), m.payload...)
}

// LastTelemetry returns the most recent telemetry line.
func (m *Mux) LastTelemetry() string {
	s, _ := m.latest.Load().(string)
	return s
}

// SendNow writes payload immediately, outside the send cadence.
func (m *Mux) SendNow(payload []byte) error {
	if err := m.link.Send(payload); err != nil {
		m.stats.AddSendError()
		return err
	}
	m.stats.AddSent()
	return nil
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns an id and a channel receiving telemetry lines. Lines
// are dropped for subscribers that are not ready.
func (m *Mux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closing {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscriber.
func (m *Mux) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *Mux) publish(line string) {
	m.latest.Store(line)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- line:
		default:
			m.stats.AddDropped()
		}
	}
}

// Run connects the link and services it until ctx is done. Connection
// failures are retried with capped exponential backoff; Run only returns
// ctx.Err().
func (m *Mux) Run(ctx context.Context) error {
	if err := m.connect(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); m.receiveLoop(ctx) }()
	go func() { defer wg.Done(); m.sendLoop(ctx) }()
	go func() { defer wg.Done(); m.statsLoop(ctx) }()

	err := m.supervise(ctx)
	wg.Wait()
	return err
}

// connect calls Reconnect until it succeeds or ctx ends.
func (m *Mux) connect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.BackoffInitial
	b.MaxInterval = m.cfg.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()

	for attempt := 1; ; attempt++ {
		err := m.link.Reconnect(ctx, m.cfg.Host, m.cfg.Port)
		if err == nil {
			m.stats.AddReconnect()
			opsf("robot link up (%s:%d) after %d attempt(s)", m.cfg.Host, m.cfg.Port, attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrLinkClosed) {
			return err
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop || wait > m.cfg.BackoffMax {
			wait = m.cfg.BackoffMax
		}
		opsf("failed to connect robot link (attempt %d), retrying in %v: %v", attempt, wait, err)
		if err := timeutil.SleepContext(ctx, m.cfg.Clock, wait); err != nil {
			return err
		}
	}
}

func (m *Mux) markLost() {
	select {
	case m.lost <- struct{}{}:
	default:
	}
}

// supervise watches liveness and reconnects when the robot goes quiet or
// the receive side reports a broken link.
func (m *Mux) supervise(ctx context.Context) error {
	ticker := m.cfg.Clock.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.connected.Store(false)
			return ctx.Err()
		case <-m.lost:
		case <-ticker.C():
			up := m.link.IsConnected()
			if up {
				if !m.connected.Swap(true) {
					diagf("robot answering")
				}
				continue
			}
		}

		if m.connected.Swap(false) {
			opsf("robot link lost, reconnecting")
		}
		if err := m.connect(ctx); err != nil {
			m.connected.Store(false)
			return err
		}
	}
}

func (m *Mux) receiveLoop(ctx context.Context) {
	for ctx.Err() == nil {
		data, err := m.link.Receive(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrNotConnected) {
				tracef("receive failed: %v", err)
				m.markLost()
			}
		case protocol.IsPingResponse(data):
			m.stats.AddReceived()
			m.stats.AddPing()
		case protocol.IsTelemetry(data):
			m.stats.AddReceived()
			m.publish(string(data))
		}
		if err := timeutil.SleepContext(ctx, m.cfg.Clock, m.cfg.ReceiveInterval); err != nil {
			return
		}
	}
}

func (m *Mux) sendLoop(ctx context.Context) {
	ticker := m.cfg.Clock.NewTicker(m.cfg.SendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.sendTick()
		}
	}
}

// sendTick sends the queued payload, if any, then a ping.
func (m *Mux) sendTick() {
	if payload := m.Payload(); len(payload) > 0 {
		m.send(payload)
	}
	m.send(protocol.Ping())
}

func (m *Mux) send(b []byte) {
	err := m.link.Send(b)
	switch {
	case err == nil:
		m.stats.AddSent()
	case errors.Is(err, ErrNotConnected):
	default:
		m.stats.AddSendError()
		tracef("send failed: %v", err)
	}
}

func (m *Mux) statsLoop(ctx context.Context) {
	ticker := m.cfg.Clock.NewTicker(m.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.stats.LogStats()
		}
	}
}

// Close closes every subscriber and the link.
func (m *Mux) Close() error {
	m.subscriberMu.Lock()
	m.closing = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.subscriberMu.Unlock()
	return m.link.Close()
}
