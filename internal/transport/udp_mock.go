package transport

import (
	"net"
	"sync"
	"time"
)

// MockUDPSocket is an in-memory UDPSocket for tests. Reads return queued
// datagrams and time out when the queue is empty.
type MockUDPSocket struct {
	mu       sync.Mutex
	inbound  [][]byte
	written  [][]byte
	closed   bool
	deadline time.Time
	remote   *net.UDPAddr

	// ShortWrite makes Write report one byte fewer than requested.
	ShortWrite bool
	// WriteError is returned by every Write when set.
	WriteError error
}

// NewMockUDPSocket returns a socket "connected" to remote.
func NewMockUDPSocket(remote *net.UDPAddr) *MockUDPSocket {
	return &MockUDPSocket{remote: remote}
}

// Inject queues a datagram for the next Read.
func (m *MockUDPSocket) Inject(datagram []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = append(m.inbound, append([]byte(nil), datagram...))
}

// Written returns copies of every datagram written so far.
func (m *MockUDPSocket) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	for i, w := range m.written {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// Closed reports whether Close was called.
func (m *MockUDPSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockUDPSocket) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	if len(m.inbound) == 0 {
		return 0, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	d := m.inbound[0]
	m.inbound = m.inbound[1:]
	return copy(b, d), nil
}

func (m *MockUDPSocket) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.written = append(m.written, append([]byte(nil), b...))
	if m.ShortWrite && len(b) > 0 {
		return len(b) - 1, nil
	}
	return len(b), nil
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = t
	return nil
}

func (m *MockUDPSocket) RemoteAddr() net.Addr { return m.remote }

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MockUDPDialer hands out MockUDPSockets and records every dial.
type MockUDPDialer struct {
	mu      sync.Mutex
	sockets []*MockUDPSocket
	// Error, when set, fails the next Fails dials.
	Error error
	Fails int
}

// DialUDP returns a fresh mock socket, or Error while Fails > 0.
func (d *MockUDPDialer) DialUDP(network string, raddr *net.UDPAddr) (UDPSocket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fails > 0 && d.Error != nil {
		d.Fails--
		return nil, d.Error
	}
	s := NewMockUDPSocket(raddr)
	d.sockets = append(d.sockets, s)
	return s, nil
}

// Sockets returns every socket dialed so far.
func (d *MockUDPDialer) Sockets() []*MockUDPSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockUDPSocket(nil), d.sockets...)
}

// Last returns the most recently dialed socket, or nil.
func (d *MockUDPDialer) Last() *MockUDPSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
