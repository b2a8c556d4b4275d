// Package descriptor loads the XML files that describe a flashing job:
// rawprogram files (<data><program/>...</data>), patch files
// (<patches><patch/>...</patches>) and UFS provisioning files
// (<data><ufs/>...</data>).
//
// Loading only checks the shape and types of the attributes. Turning entries
// into device requests is the job of package plan.
package descriptor

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Type is the kind of descriptor, decided by its root element.
type Type int

const (
	TypeUnknown Type = iota
	TypePatch
	TypeProgram
	TypeUFS
	TypeContents
)

func (t Type) String() string {
	switch t {
	case TypePatch:
		return "patch"
	case TypeProgram:
		return "program"
	case TypeUFS:
		return "ufs"
	case TypeContents:
		return "contents"
	default:
		return "unknown"
	}
}

// ErrUnsupported is returned for recognized descriptor types that cannot be flashed.
var ErrUnsupported = errors.New("descriptor type not supported")

// DetectType reads the root element of an XML descriptor. A <data> root is a
// program file if its first known child is <program> (or <erase>), a UFS
// provisioning file if it is <ufs>.
func DetectType(r io.Reader) (Type, error) {
	dec := xml.NewDecoder(r)
	depth := 0
	root := ""
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if root == "" {
				return TypeUnknown, &SyntaxError{Err: io.ErrUnexpectedEOF}
			}
			return TypeUnknown, nil
		}
		if err != nil {
			return TypeUnknown, &SyntaxError{Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 1:
				root = t.Name.Local
				switch root {
				case "patches":
					return TypePatch, nil
				case "contents":
					return TypeContents, nil
				case "data":
				default:
					return TypeUnknown, nil
				}
			case depth == 2:
				switch t.Name.Local {
				case "program", "erase":
					return TypeProgram, nil
				case "ufs":
					return TypeUFS, nil
				}
			}
		case xml.EndElement:
			depth--
			if depth == 0 {
				return TypeUnknown, nil
			}
		}
	}
}

// DetectFile is DetectType on a file.
func DetectFile(path string) (Type, error) {
	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, err
	}
	defer f.Close()

	t, err := DetectType(f)
	if err != nil {
		return TypeUnknown, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// element is one child of the root, attributes in document order.
type element struct {
	name  string
	line  int
	attrs []xml.Attr
}

func (e element) get(name string) (string, bool) {
	for _, a := range e.attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// children returns the element children of the root, which must be named root.
func children(r io.Reader, root string) ([]element, error) {
	dec := xml.NewDecoder(r)
	var out []element
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if depth != 0 {
				return nil, &SyntaxError{Err: io.ErrUnexpectedEOF}
			}
			return out, nil
		}
		if err != nil {
			return nil, &SyntaxError{Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 && t.Name.Local != root {
				return nil, &SyntaxError{Err: fmt.Errorf("root element is <%s>, want <%s>", t.Name.Local, root)}
			}
			if depth == 2 {
				line, _ := dec.InputPos()
				out = append(out, element{name: t.Name.Local, line: line, attrs: t.Copy().Attr})
			}
		case xml.EndElement:
			depth--
		}
	}
}

// attrReader collects the first attribute error of an element.
type attrReader struct {
	el  element
	err error
}

func (r *attrReader) fail(attr string, err error) {
	if r.err == nil {
		r.err = &AttributeError{Element: r.el.name, Line: r.el.line, Attr: attr, Err: err}
	}
}

func (r *attrReader) str(name string) string {
	v, ok := r.el.get(name)
	if !ok {
		r.fail(name, ErrMissing)
	}
	return v
}

func (r *attrReader) optStr(name string) string {
	v, _ := r.el.get(name)
	return v
}

func (r *attrReader) uint(name string) uint64 {
	v, ok := r.el.get(name)
	if !ok {
		r.fail(name, ErrMissing)
		return 0
	}
	return r.parse(name, v)
}

func (r *attrReader) optUint(name string) (uint64, bool) {
	v, ok := r.el.get(name)
	if !ok || strings.TrimSpace(v) == "" {
		return 0, false
	}
	return r.parse(name, v), true
}

func (r *attrReader) parse(name, v string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
	if err != nil {
		r.fail(name, fmt.Errorf("%q is not a number", v))
	}
	return n
}

func (r *attrReader) bool(name string) bool {
	v, _ := r.el.get(name)
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
