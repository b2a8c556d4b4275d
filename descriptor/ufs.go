package descriptor

import (
	"fmt"
	"io"
	"os"

	"github.com/moffa90/go-qdl/firehose"
)

// UFS is a loaded UFS provisioning file: one common element, one body per
// logical unit and one epilogue, sent in that order.
type UFS struct {
	Path     string
	Common   []firehose.Attr
	Bodies   [][]firehose.Attr
	Epilogue []firehose.Attr
}

// Commit reports whether the epilogue makes the provisioning permanent.
func (u *UFS) Commit() bool {
	for _, a := range u.Epilogue {
		if a.Name == "commit" {
			return a.Value == "1" || a.Value == "true"
		}
	}
	return false
}

// SetCommit overrides the epilogue's commit attribute.
func (u *UFS) SetCommit(commit bool) {
	v := "0"
	if commit {
		v = "1"
	}
	for i, a := range u.Epilogue {
		if a.Name == "commit" {
			u.Epilogue[i].Value = v
			return
		}
	}
	u.Epilogue = append(u.Epilogue, firehose.Attr{Name: "commit", Value: v})
}

// Requests returns the provisioning elements in the order they are sent.
func (u *UFS) Requests() []firehose.UFS {
	reqs := make([]firehose.UFS, 0, len(u.Bodies)+2)
	reqs = append(reqs, firehose.UFS{Attributes: u.Common})
	for _, b := range u.Bodies {
		reqs = append(reqs, firehose.UFS{Attributes: b})
	}
	reqs = append(reqs, firehose.UFS{Attributes: u.Epilogue})
	return reqs
}

// LoadUFS reads a UFS provisioning file.
func LoadUFS(path string) (*UFS, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	u, err := ParseUFS(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	u.Path = path
	return u, nil
}

// ParseUFS reads <ufs> elements from a <data> document. The common element
// carries bNumberLU, bodies carry LUNum and the epilogue carries commit.
func ParseUFS(r io.Reader) (*UFS, error) {
	els, err := children(r, "data")
	if err != nil {
		return nil, err
	}

	u := &UFS{}
	var haveCommon, haveEpilogue bool
	for _, el := range els {
		if el.name != "ufs" {
			continue
		}
		attrs := make([]firehose.Attr, 0, len(el.attrs))
		for _, a := range el.attrs {
			attrs = append(attrs, firehose.Attr{Name: a.Name.Local, Value: a.Value})
		}

		_, common := el.get("bNumberLU")
		_, body := el.get("LUNum")
		_, epilogue := el.get("commit")
		switch {
		case common:
			if haveCommon {
				return nil, &AttributeError{Element: "ufs", Line: el.line, Attr: "bNumberLU", Err: fmt.Errorf("duplicate common element")}
			}
			haveCommon = true
			u.Common = attrs
		case body:
			u.Bodies = append(u.Bodies, attrs)
		case epilogue:
			if haveEpilogue {
				return nil, &AttributeError{Element: "ufs", Line: el.line, Attr: "commit", Err: fmt.Errorf("duplicate epilogue")}
			}
			haveEpilogue = true
			u.Epilogue = attrs
		default:
			return nil, &AttributeError{Element: "ufs", Line: el.line, Attr: "bNumberLU|LUNum|commit", Err: ErrMissing}
		}
	}

	if !haveCommon {
		return nil, &SyntaxError{Err: fmt.Errorf("no common <ufs bNumberLU=...> element")}
	}
	if !haveEpilogue {
		return nil, &SyntaxError{Err: fmt.Errorf("no <ufs commit=...> epilogue")}
	}
	return u, nil
}
