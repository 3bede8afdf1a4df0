package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/hi-im-vika/zoomy-client/internal/timeutil"
)

// ReplayLink plays back robot datagrams recorded in a pcap file. Payloads
// sent to it are discarded. Reconnect rewinds to the start of the file.
type ReplayLink struct {
	clock timeutil.Clock
	// Realtime paces playback by the capture timestamps.
	Realtime bool

	mu       sync.Mutex
	payloads []Datagram
	next     int
	lastTS   time.Time
	closed   bool
	opened   bool
	sent     [][]byte
}

// Datagram is one recorded UDP payload.
type Datagram struct {
	Timestamp time.Time
	Payload   []byte
}

// NewReplayLink returns an unopened replay link.
func NewReplayLink(clock timeutil.Clock) *ReplayLink {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ReplayLink{clock: clock}
}

// Reconnect loads path and keeps UDP packets whose source port is port.
// A port of 0 keeps every UDP packet.
func (l *ReplayLink) Reconnect(ctx context.Context, path string, port int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	defer f.Close()

	packets, err := ReadUDPPayloads(f, port)
	if err != nil {
		return fmt.Errorf("failed to read pcap file %s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.payloads, l.next, l.opened = packets, 0, true
	l.lastTS = time.Time{}
	opsf("replaying %d datagrams from %s", len(packets), path)
	return nil
}

// ReadUDPPayloads decodes every UDP payload from a pcap stream. When port
// is non-zero only packets from that source port are returned.
func ReadUDPPayloads(r io.Reader, port int) ([]Datagram, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	var out []Datagram
	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.NoCopy)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if port != 0 && int(udp.SrcPort) != port {
			continue
		}
		out = append(out, Datagram{Timestamp: ci.Timestamp, Payload: append([]byte(nil), udp.Payload...)})
	}
}

// Send records the payload and otherwise discards it.
func (l *ReplayLink) Send(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if !l.opened {
		return ErrNotConnected
	}
	if len(l.sent) < 1024 {
		l.sent = append(l.sent, append([]byte(nil), payload...))
	}
	return nil
}

// Receive returns the next recorded datagram. At end of file it returns
// io.EOF so the supervisor rewinds via Reconnect.
func (l *ReplayLink) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLinkClosed
	}
	if !l.opened {
		l.mu.Unlock()
		return nil, ErrNotConnected
	}
	if l.next >= len(l.payloads) {
		l.opened = false
		l.mu.Unlock()
		return nil, io.EOF
	}
	p := l.payloads[l.next]
	l.next++
	var gap time.Duration
	if l.Realtime && !l.lastTS.IsZero() {
		gap = p.Timestamp.Sub(l.lastTS)
	}
	l.lastTS = p.Timestamp
	l.mu.Unlock()

	if gap > 0 {
		if err := timeutil.SleepContext(ctx, l.clock, gap); err != nil {
			return nil, err
		}
	}
	return p.Payload, nil
}

// IsConnected reports whether datagrams remain to be replayed.
func (l *ReplayLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened && !l.closed
}

// Sent returns the payloads written so far.
func (l *ReplayLink) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.sent...)
}

// Close stops playback.
func (l *ReplayLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
