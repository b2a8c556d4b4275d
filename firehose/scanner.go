package firehose

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// Scanner splits the inbound byte stream into Frames.
//
// Bytes are appended with Feed regardless of how the transport chunked them.
// Next returns a frame only once a whole <data> document is buffered; the
// bytes behind it stay buffered, which matters when raw sector data follows
// a rawmode response in the same transfer.
type Scanner struct {
	buf          []byte
	maxFrameSize int
}

// NewScanner returns a Scanner that gives up once maxFrameSize bytes are
// buffered without a complete frame.
func NewScanner(maxFrameSize int) *Scanner {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Scanner{maxFrameSize: maxFrameSize}
}

// Feed appends received bytes.
func (s *Scanner) Feed(p []byte) {
	s.buf = append(s.buf, p...)
}

// Buffered returns the number of unconsumed bytes.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

// TakeRaw removes and returns up to n buffered bytes without interpreting them.
func (s *Scanner) TakeRaw(n int) []byte {
	if n > len(s.buf) {
		n = len(s.buf)
	}
	out := make([]byte, n)
	copy(out, s.buf[:n])
	s.buf = s.buf[n:]
	return out
}

// Next returns the next complete frame. ok is false when more input is needed.
// A non-nil error means the stream cannot be parsed and the session is lost.
func (s *Scanner) Next() (frame *Frame, ok bool, err error) {
	s.buf = bytes.TrimLeft(s.buf, " \t\r\n\x00")
	if len(s.buf) == 0 {
		return nil, false, nil
	}

	dec := xml.NewDecoder(bytes.NewReader(s.buf))
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			if isIncomplete(err) {
				if len(s.buf) > s.maxFrameSize {
					return nil, false, &ProtocolViolationError{
						Reason: fmt.Sprintf("no complete frame in %d buffered bytes", len(s.buf)),
					}
				}
				return nil, false, nil
			}
			return nil, false, &ProtocolViolationError{Reason: "malformed XML", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if t.Name.Local != "data" {
					return nil, false, &ProtocolViolationError{
						Reason: fmt.Sprintf("unexpected root element <%s>", t.Name.Local),
					}
				}
				frame = &Frame{}
			} else if depth == 1 {
				switch t.Name.Local {
				case "log":
					frame.Logs = append(frame.Logs, attrValue(t.Attr, "value"))
				case "response":
					if frame.Response != nil {
						return nil, false, &ProtocolViolationError{Reason: "more than one response in a frame"}
					}
					frame.Response = newResponse(t.Attr)
				}
			}
			depth++

		case xml.EndElement:
			depth--
			if depth == 0 {
				s.buf = s.buf[dec.InputOffset():]
				return frame, true, nil
			}

		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return nil, false, &ProtocolViolationError{Reason: "text outside of <data>"}
			}
		}
	}
}

// isIncomplete reports whether err only means the document is cut short.
func isIncomplete(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var se *xml.SyntaxError
	return errors.As(err, &se) && se.Msg == "unexpected EOF"
}
