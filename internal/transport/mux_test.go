package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLink is an in-memory Link.
type fakeLink struct {
	mu         sync.Mutex
	inbound    [][]byte
	sent       [][]byte
	up         bool
	reconnects int
	failFirst  int
	closed     bool
	receiveErr error
	connected  atomic.Bool
}

func (f *fakeLink) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.up {
		return ErrNotConnected
	}
	f.sent = append(f.sent, append([]byte(nil), b...))
	return nil
}

func (f *fakeLink) Receive(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.receiveErr; err != nil {
		f.receiveErr = nil
		return nil, err
	}
	if len(f.inbound) == 0 {
		return nil, nil
	}
	d := f.inbound[0]
	f.inbound = f.inbound[1:]
	return d, nil
}

func (f *fakeLink) IsConnected() bool { return f.connected.Load() }

func (f *fakeLink) Reconnect(ctx context.Context, host string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.failFirst > 0 {
		f.failFirst--
		return errors.New("robot unreachable")
	}
	f.up = true
	f.connected.Store(true)
	return nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) inject(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, b)
}

func (f *fakeLink) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeLink) Reconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

func fastMuxConfig() MuxConfig {
	return MuxConfig{
		Host:            "127.0.0.1",
		Port:            4210,
		SendInterval:    2 * time.Millisecond,
		ReceiveInterval: time.Millisecond,
		CheckInterval:   2 * time.Millisecond,
		BackoffInitial:  time.Millisecond,
		BackoffMax:      4 * time.Millisecond,
	}
}

func runMux(t *testing.T, m *Mux) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Error("mux did not stop")
		}
	})
}

func TestMux_SendTickSendsPayloadThenPing(t *testing.T) {
	link := &fakeLink{up: true}
	m := NewMux(link, fastMuxConfig())

	m.sendTick()
	assert.Equal(t, [][]byte{{0x05}}, link.Sent())

	m.SetPayload([]byte("1 2 3 4 5 6 7 8 9 10 "))
	m.SetPayload([]byte("0 0 0 0 0 0 0 0 0 0 "))
	m.sendTick()
	sent := link.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "0 0 0 0 0 0 0 0 0 0 ", string(sent[1]))
	assert.Equal(t, []byte{0x05}, sent[2])
	assert.Equal(t, uint64(3), m.Stats().Snapshot().Sent)
}

func TestMux_SendWhileDisconnectedIsNotAnError(t *testing.T) {
	link := &fakeLink{}
	m := NewMux(link, fastMuxConfig())
	m.sendTick()
	assert.Zero(t, m.Stats().Snapshot().SendErrors)
}

func TestMux_FansOutTelemetryAndCountsPings(t *testing.T) {
	link := &fakeLink{}
	m := NewMux(link, fastMuxConfig())
	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)

	link.inject([]byte{0x06})
	link.inject([]byte("bat=7.4"))
	link.inject([]byte{})
	runMux(t, m)

	select {
	case line := <-ch:
		assert.Equal(t, "bat=7.4", line)
	case <-time.After(time.Second):
		t.Fatal("no telemetry line")
	}
	require.Eventually(t, func() bool { return m.Stats().Snapshot().Pings == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "bat=7.4", m.LastTelemetry())
	require.Eventually(t, m.Connected, time.Second, time.Millisecond)
}

func TestMux_RetriesInitialConnect(t *testing.T) {
	link := &fakeLink{failFirst: 3}
	m := NewMux(link, fastMuxConfig())
	runMux(t, m)

	require.Eventually(t, m.Connected, time.Second, time.Millisecond)
	assert.Equal(t, 4, link.Reconnects())
}

func TestMux_ReconnectsWhenRobotGoesQuiet(t *testing.T) {
	link := &fakeLink{}
	m := NewMux(link, fastMuxConfig())
	runMux(t, m)
	require.Eventually(t, m.Connected, time.Second, time.Millisecond)

	link.connected.Store(false)
	require.Eventually(t, func() bool { return link.Reconnects() >= 2 }, time.Second, time.Millisecond)
	require.Eventually(t, m.Connected, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, m.Stats().Snapshot().Reconnects, uint64(2))
}

func TestMux_ReceiveErrorTriggersReconnect(t *testing.T) {
	link := &fakeLink{}
	m := NewMux(link, fastMuxConfig())
	runMux(t, m)
	require.Eventually(t, m.Connected, time.Second, time.Millisecond)

	link.mu.Lock()
	link.receiveErr = errors.New("connection refused")
	link.mu.Unlock()
	require.Eventually(t, func() bool { return link.Reconnects() >= 2 }, time.Second, time.Millisecond)
}

func TestMux_SlowSubscriberDropsLines(t *testing.T) {
	m := NewMux(&fakeLink{}, fastMuxConfig())
	_, ch := m.Subscribe()
	for i := 0; i < cap(ch)+5; i++ {
		m.publish("line")
	}
	assert.Equal(t, uint64(5), m.Stats().Snapshot().Dropped)
}

func TestMux_CloseClosesSubscribers(t *testing.T) {
	link := &fakeLink{}
	m := NewMux(link, fastMuxConfig())
	_, ch := m.Subscribe()
	require.NoError(t, m.Close())

	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, link.closed)

	_, late := m.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}
