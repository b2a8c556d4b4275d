// Package transport defines the byte channel the Sahara and Firehose engines talk over.
//
// The engines never touch USB directly. Anything that can move bytes in both
// directions with a receive timeout can carry an EDL conversation: the gousb
// implementation in package usb, a serial line, or a simulated device in tests.
package transport

import (
	"errors"
	"time"
)

// ErrTimeout is returned by Receive when no data arrived within the timeout.
// Implementations must return an error for which errors.Is(err, ErrTimeout) holds.
var ErrTimeout = errors.New("transport: receive timed out")

// Transport is a duplex byte channel with bulk-style framing.
//
// Send writes the whole buffer or fails. Receive returns at most maxLen bytes
// and may return fewer than one protocol message; callers buffer. Reset drops
// the conversation (for USB, a port reset).
//
// A Transport is used by one conversation at a time and need not be safe for
// concurrent use.
type Transport interface {
	Send(p []byte) error
	Receive(maxLen int, timeout time.Duration) ([]byte, error)
	Reset() error
}

// ZLPReporter is implemented by transports that can tell whether a write whose
// length is a multiple of the packet size is terminated by a zero-length
// packet. Transports that do not implement it are assumed to send one.
type ZLPReporter interface {
	SendsZLP() bool
}
