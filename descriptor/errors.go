package descriptor

import (
	"errors"
	"fmt"
)

// ErrMissing is wrapped by AttributeError when a required attribute is absent.
var ErrMissing = errors.New("missing")

// AttributeError reports a bad attribute on one descriptor element.
type AttributeError struct {
	Element string
	Line    int
	Attr    string
	Err     error
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("line %d: <%s> attribute %s: %v", e.Line, e.Element, e.Attr, e.Err)
}

func (e *AttributeError) Unwrap() error {
	return e.Err
}

// SyntaxError means the file is not well-formed XML or has the wrong root.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("descriptor syntax: %v", e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// ImageNotFoundError means a program entry names a file that is in none of
// the search directories.
type ImageNotFoundError struct {
	Filename string
	Searched []string
}

func (e *ImageNotFoundError) Error() string {
	return fmt.Sprintf("image %s not found (searched %v)", e.Filename, e.Searched)
}
