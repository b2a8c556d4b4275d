package edl

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-qdl/plan"
)

// ErrNotConnected is returned by Apply and Finalize before Connect succeeded.
var ErrNotConnected = errors.New("edl: not connected")

// EntryError is a failed or skipped descriptor entry.
type EntryError struct {
	Kind       plan.Kind
	Descriptor string
	Entry      int
	Label      string
	Err        error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s %s[%d] (%s): %v", e.Kind, e.Descriptor, e.Entry, e.Label, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// SkippedError marks a patch left out because a program operation on the same
// physical partition failed.
type SkippedError struct {
	PhysicalPartition int
}

func (e *SkippedError) Error() string {
	return fmt.Sprintf("skipped: program on physical partition %d failed", e.PhysicalPartition)
}

// LayoutError means the partition table of a physical partition could not be
// read, so entries with symbolic start sectors there cannot be planned.
type LayoutError struct {
	PhysicalPartition int
	Err               error
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("read layout of physical partition %d: %v", e.PhysicalPartition, e.Err)
}

func (e *LayoutError) Unwrap() error {
	return e.Err
}

// SectorSizeError means an entry's sector size does not fit in one raw
// transfer of the negotiated payload size.
type SectorSizeError struct {
	SectorSize     int
	MaxPayloadSize int
}

func (e *SectorSizeError) Error() string {
	return fmt.Sprintf("sector size %d exceeds the negotiated payload size %d", e.SectorSize, e.MaxPayloadSize)
}
