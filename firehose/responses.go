package firehose

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Response is a <response> element sent by the programmer.
type Response struct {
	// Value is ACK or NAK
	Value string

	// RawMode reports rawmode="true": raw sector data follows (or is expected)
	RawMode bool

	// Attrs holds every attribute, Value and rawmode included
	Attrs map[string]string
}

// ACK reports whether the device accepted the request.
func (r *Response) ACK() bool {
	return r.Value == ValueACK
}

// Attr returns the named attribute.
func (r *Response) Attr(name string) (string, bool) {
	v, ok := r.Attrs[name]
	return v, ok
}

// Uint returns the named attribute parsed as an unsigned integer.
func (r *Response) Uint(name string) (uint64, bool) {
	v, ok := r.Attrs[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Frame is one complete <data> document received from the device: zero or
// more log lines and at most one response.
type Frame struct {
	Logs     []string
	Response *Response
}

func newResponse(attrs []xml.Attr) *Response {
	r := &Response{Attrs: make(map[string]string, len(attrs))}
	for _, a := range attrs {
		r.Attrs[a.Name.Local] = a.Value
		switch a.Name.Local {
		case "value":
			r.Value = strings.ToUpper(strings.TrimSpace(a.Value))
		case "rawmode":
			r.RawMode = strings.EqualFold(strings.TrimSpace(a.Value), "true")
		}
	}
	return r
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
