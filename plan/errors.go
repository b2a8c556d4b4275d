package plan

import "fmt"

// UnresolvedSectorError means a symbolic start sector could not be resolved
// because no layout was read for the partition, or the layout lacks the label.
type UnresolvedSectorError struct {
	StartSector       string
	PhysicalPartition int
	Reason            string
}

func (e *UnresolvedSectorError) Error() string {
	return fmt.Sprintf("cannot resolve start sector %q on partition %d: %s",
		e.StartSector, e.PhysicalPartition, e.Reason)
}

// ImageTooLargeError means an image needs more sectors than its entry declares.
type ImageTooLargeError struct {
	Filename string
	Size     int64
	Sectors  uint64
	Declared uint64
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("image %s (%d bytes) needs %d sectors, entry allows %d",
		e.Filename, e.Size, e.Sectors, e.Declared)
}

// InvalidPatchError means a patch field does not fit its sector.
type InvalidPatchError struct {
	What   string
	Reason string
}

func (e *InvalidPatchError) Error() string {
	return fmt.Sprintf("invalid patch %q: %s", e.What, e.Reason)
}

// EntryError ties a planning failure to its descriptor entry.
type EntryError struct {
	Kind  Kind
	Entry int
	Label string
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s entry %d (%s): %v", e.Kind, e.Entry, e.Label, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}
