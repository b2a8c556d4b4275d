package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// deadliner is implemented by net.Conn, *os.File and most serial port types.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

type resetter interface {
	Reset() error
}

// Stream adapts an io.ReadWriter to Transport.
//
// Receive timeouts are only enforced when the underlying value has a
// SetReadDeadline method; otherwise Receive blocks until Read returns.
type Stream struct {
	rw io.ReadWriter
}

// NewStream wraps rw. It panics if rw is nil.
func NewStream(rw io.ReadWriter) *Stream {
	if rw == nil {
		panic("transport: nil io.ReadWriter")
	}
	return &Stream{rw: rw}
}

// Send writes all of p.
func (s *Stream) Send(p []byte) error {
	for len(p) > 0 {
		n, err := s.rw.Write(p)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Receive reads up to maxLen bytes.
func (s *Stream) Receive(maxLen int, timeout time.Duration) ([]byte, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("invalid receive length %d", maxLen)
	}
	if d, ok := s.rw.(deadliner); ok && timeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}

	buf := make([]byte, maxLen)
	n, err := s.rw.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		if n == 0 {
			return nil, fmt.Errorf("read: %w", err)
		}
	}
	return buf[:n], nil
}

// Reset calls Reset on the underlying value if it has one.
func (s *Stream) Reset() error {
	if r, ok := s.rw.(resetter); ok {
		return r.Reset()
	}
	return nil
}
