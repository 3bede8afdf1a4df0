package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hi-im-vika/zoomy-client/internal/timeutil"
)

// UDPSocket is the subset of a connected *net.UDPConn the link uses.
type UDPSocket interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// UDPDialer creates connected UDP sockets.
type UDPDialer interface {
	DialUDP(network string, raddr *net.UDPAddr) (UDPSocket, error)
}

// NetDialer dials real sockets with net.DialUDP.
type NetDialer struct{}

// DialUDP opens a connected UDP socket to raddr.
func (NetDialer) DialUDP(network string, raddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.DialUDP(network, nil, raddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// UDPLinkConfig configures a UDPLink. Zero values select defaults.
type UDPLinkConfig struct {
	Dialer      UDPDialer
	Clock       timeutil.Clock
	PingTimeout time.Duration
	ReadTimeout time.Duration
	BufferSize  int
}

// UDPLink talks to the robot over a connected UDP socket. The link counts
// as connected while any datagram has arrived within PingTimeout.
type UDPLink struct {
	dialer      UDPDialer
	clock       timeutil.Clock
	pingTimeout time.Duration
	readTimeout time.Duration
	bufSize     int

	mu     sync.Mutex
	sock   UDPSocket
	closed bool
	lastRx atomic.Int64
}

// NewUDPLink returns an unconnected link.
func NewUDPLink(cfg UDPLinkConfig) *UDPLink {
	if cfg.Dialer == nil {
		cfg.Dialer = NetDialer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &UDPLink{
		dialer:      cfg.Dialer,
		clock:       cfg.Clock,
		pingTimeout: cfg.PingTimeout,
		readTimeout: cfg.ReadTimeout,
		bufSize:     cfg.BufferSize,
	}
}

// Reconnect resolves host:port and replaces the socket. The link is given
// one PingTimeout of grace before it counts as disconnected.
func (l *UDPLink) Reconnect(ctx context.Context, host string, port int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve robot address %s: %w", addr, err)
	}
	sock, err := l.dialer.DialUDP("udp", raddr)
	if err != nil {
		return fmt.Errorf("failed to dial robot at %s: %w", addr, err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		sock.Close()
		return ErrLinkClosed
	}
	old := l.sock
	l.sock = sock
	l.lastRx.Store(l.clock.Now().UnixNano())
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}
	diagf("udp link connected to %s", addr)
	return nil
}

func (l *UDPLink) socket() (UDPSocket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLinkClosed
	}
	if l.sock == nil {
		return nil, ErrNotConnected
	}
	return l.sock, nil
}

// Send writes one datagram.
func (l *UDPLink) Send(payload []byte) error {
	sock, err := l.socket()
	if err != nil {
		return err
	}
	n, err := sock.Write(payload)
	if err != nil {
		return err
	}
	if n != len(payload) {
		return ErrWriteFailed
	}
	return nil
}

// Receive waits up to the read timeout for one datagram. A timeout returns
// nil data and no error.
func (l *UDPLink) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sock, err := l.socket()
	if err != nil {
		return nil, err
	}
	if err := sock.SetReadDeadline(l.clock.Now().Add(l.readTimeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, l.bufSize)
	n, err := sock.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	l.lastRx.Store(l.clock.Now().UnixNano())
	return buf[:n], nil
}

// IsConnected reports whether a datagram arrived within PingTimeout.
func (l *UDPLink) IsConnected() bool {
	if _, err := l.socket(); err != nil {
		return false
	}
	last := time.Unix(0, l.lastRx.Load())
	return l.clock.Since(last) < l.pingTimeout
}

// RemoteAddr returns the robot address, or nil before the first Reconnect.
func (l *UDPLink) RemoteAddr() net.Addr {
	sock, err := l.socket()
	if err != nil {
		return nil
	}
	return sock.RemoteAddr()
}

// Close closes the socket. Further calls fail with ErrLinkClosed.
func (l *UDPLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.sock != nil {
		return l.sock.Close()
	}
	return nil
}
