// Package plan turns loaded descriptors into ordered Firehose operations.
//
// Planning is pure: it never talks to the device and never reads image data.
// Everything it needs from the device, the partition layouts that symbolic
// start sectors refer to, is passed in up front.
package plan

import (
	"fmt"

	"github.com/moffa90/go-qdl/firehose"
	"github.com/moffa90/go-qdl/image"
)

// Kind is the type of an Operation.
type Kind int

const (
	KindProgram Kind = iota
	KindErase
	KindPatch
)

func (k Kind) String() string {
	switch k {
	case KindProgram:
		return "program"
	case KindErase:
		return "erase"
	case KindPatch:
		return "patch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operation is one Firehose request with its raw payload, if any.
type Operation struct {
	Kind Kind

	// Entry is the index of the descriptor entry the operation came from
	Entry int

	// Label names the operation in progress reports: the partition label for
	// program and erase, the patch description for patch
	Label string

	PhysicalPartition int

	// Request is firehose.Program, firehose.Erase or firehose.Patch
	Request firehose.Request

	// Payload streams the program data; nil for erase and patch
	Payload image.Source
}

// Bytes is the number of raw bytes the operation sends.
func (op Operation) Bytes() int64 {
	if p, ok := op.Request.(firehose.Program); ok {
		return p.RawLength()
	}
	return 0
}

func (op Operation) String() string {
	return fmt.Sprintf("%s #%d %q (partition %d)", op.Kind, op.Entry, op.Label, op.PhysicalPartition)
}
