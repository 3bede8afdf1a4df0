// Package protocol encodes the command payload sent to the robot and
// classifies datagrams coming back from it.
//
// A command payload is the ten command-vector values in canonical axis
// order, each written in decimal ASCII and followed by one space:
//
//	"0 -1200 0 0 0 0 1 0 0 0 "
package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/hi-im-vika/zoomy-client/internal/axis"
)

const (
	// PingRequest is the single byte sent to solicit a ping response.
	PingRequest byte = 0x05
	// PingResponse is the first byte of a ping response datagram.
	PingResponse byte = 0x06
)

// Encode renders values as a command payload.
func Encode(values axis.Values) []byte {
	var b bytes.Buffer
	b.Grow(int(axis.Count) * 7)
	for _, v := range values {
		b.WriteString(strconv.Itoa(v))
		b.WriteByte(' ')
	}
	return b.Bytes()
}

// Decode parses a command payload. Any run of whitespace separates values
// and exactly ten values are required.
func Decode(payload []byte) (axis.Values, error) {
	var out axis.Values
	fields := strings.Fields(string(payload))
	if len(fields) != int(axis.Count) {
		return out, fmt.Errorf("command payload has %d values, want %d", len(fields), axis.Count)
	}
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return out, fmt.Errorf("command value %d (%s): %w", i, axis.Axis(i), err)
		}
		out[i] = v
	}
	return out, nil
}

// Ping returns a ping request datagram.
func Ping() []byte {
	return []byte{PingRequest}
}

// IsPingResponse reports whether a received datagram answers a ping.
func IsPingResponse(datagram []byte) bool {
	return len(datagram) > 0 && datagram[0] == PingResponse
}

// IsTelemetry reports whether a received datagram should be handed to
// telemetry consumers: it is non-empty and not a ping response.
func IsTelemetry(datagram []byte) bool {
	return len(datagram) > 0 && datagram[0] != PingResponse
}
