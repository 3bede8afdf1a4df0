// Package transport carries command payloads to the robot and telemetry
// back from it over UDP, a serial radio bridge, or a recorded pcap file.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrWriteFailed is returned when a link accepts fewer bytes than sent.
	ErrWriteFailed = errors.New("failed to write full payload to robot link")
	// ErrNotConnected is returned by Send before the first Reconnect.
	ErrNotConnected = errors.New("robot link not connected")
	// ErrLinkClosed is returned once Close has been called.
	ErrLinkClosed = errors.New("robot link closed")
)

// Link is a datagram-style connection to the robot's onboard controller.
type Link interface {
	// Send writes one payload.
	Send(payload []byte) error
	// Receive returns the next inbound datagram, or nil when nothing
	// arrived within the link's read timeout.
	Receive(ctx context.Context) ([]byte, error)
	// IsConnected reports whether the robot has been heard from recently.
	IsConnected() bool
	// Reconnect (re)opens the link. For serial links host is the device
	// path; for replay links it is the pcap file and port filters the UDP
	// source port.
	Reconnect(ctx context.Context, host string, port int) error
	// Close releases the link.
	Close() error
}
