package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/hi-im-vika/zoomy-client/internal/timeutil"
)

// PortOptions describes the serial radio bridge settings.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and fills in defaults (115200 8N1).
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits}
	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// SerialPort is the part of serial.Port the link needs.
type SerialPort interface {
	io.ReadWriteCloser
}

// SerialOpener opens a port at path.
type SerialOpener func(path string, mode *serial.Mode) (SerialPort, error)

// OpenSerialPort opens a real serial device.
func OpenSerialPort(path string, mode *serial.Mode) (SerialPort, error) {
	return serial.Open(path, mode)
}

// SerialLink frames each payload as one newline-terminated line over a
// serial radio bridge. Each received line is one datagram.
type SerialLink struct {
	opts        PortOptions
	open        SerialOpener
	clock       timeutil.Clock
	pingTimeout time.Duration
	readTimeout time.Duration

	writeMu sync.Mutex
	mu      sync.Mutex
	port    SerialPort
	lines   chan []byte
	closed  bool
	lastRx  atomic.Int64
}

// NewSerialLink returns an unconnected link. A nil opener uses
// OpenSerialPort.
func NewSerialLink(opts PortOptions, open SerialOpener, clock timeutil.Clock, pingTimeout time.Duration) *SerialLink {
	if open == nil {
		open = OpenSerialPort
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if pingTimeout <= 0 {
		pingTimeout = time.Second
	}
	return &SerialLink{
		opts:        opts,
		open:        open,
		clock:       clock,
		pingTimeout: pingTimeout,
		readTimeout: 100 * time.Millisecond,
	}
}

// Reconnect opens the device at path. The port argument is unused.
func (l *SerialLink) Reconnect(ctx context.Context, path string, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mode, err := l.opts.SerialMode()
	if err != nil {
		return fmt.Errorf("failed to configure serial port: %w", err)
	}
	port, err := l.open(path, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		port.Close()
		return ErrLinkClosed
	}
	old := l.port
	lines := make(chan []byte, 64)
	l.port, l.lines = port, lines
	l.lastRx.Store(l.clock.Now().UnixNano())
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go scanLines(port, lines)
	diagf("serial link opened %s", path)
	return nil
}

// scanLines feeds lines from r into out until r fails, then closes out.
func scanLines(r io.Reader, out chan<- []byte) {
	defer close(out)
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		line := bytes.TrimRight(scan.Bytes(), "\r")
		out <- append([]byte(nil), line...)
	}
	if err := scan.Err(); err != nil {
		tracef("serial scan ended: %v", err)
	}
}

// Send writes payload followed by a newline.
func (l *SerialLink) Send(payload []byte) error {
	l.mu.Lock()
	port, closed := l.port, l.closed
	l.mu.Unlock()
	if closed {
		return ErrLinkClosed
	}
	if port == nil {
		return ErrNotConnected
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	line := append(append([]byte(nil), payload...), '\n')
	n, err := port.Write(line)
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// Receive returns the next line, or nil after the read timeout.
func (l *SerialLink) Receive(ctx context.Context) ([]byte, error) {
	l.mu.Lock()
	lines, closed := l.lines, l.closed
	l.mu.Unlock()
	if closed {
		return nil, ErrLinkClosed
	}
	if lines == nil {
		return nil, ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.clock.After(l.readTimeout):
		return nil, nil
	case line, ok := <-lines:
		if !ok {
			return nil, io.EOF
		}
		l.lastRx.Store(l.clock.Now().UnixNano())
		return line, nil
	}
}

// IsConnected reports whether a line arrived within the ping timeout.
func (l *SerialLink) IsConnected() bool {
	l.mu.Lock()
	ok := l.port != nil && !l.closed
	l.mu.Unlock()
	if !ok {
		return false
	}
	return l.clock.Since(time.Unix(0, l.lastRx.Load())) < l.pingTimeout
}

// Close closes the port.
func (l *SerialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.port != nil {
		return l.port.Close()
	}
	return nil
}
