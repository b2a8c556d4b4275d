package plan

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/moffa90/go-qdl/descriptor"
	"github.com/moffa90/go-qdl/firehose"
)

// Patch plans the entries of a patch file. Only entries targeting DISK are
// sent to the device; patches for host-side files are skipped. Each remaining
// entry becomes exactly one patch operation.
//
// Patches must run after every program operation on the same physical
// partition; ordering the phases is the caller's job.
func Patch(entries []descriptor.PatchEntry) ([]Operation, error) {
	var ops []Operation
	var result *multierror.Error

	for i, e := range entries {
		if e.Filename != descriptor.DiskTarget {
			continue
		}
		if err := validatePatch(e); err != nil {
			result = multierror.Append(result, &EntryError{Kind: KindPatch, Entry: i, Label: e.What, Err: err})
			continue
		}

		ops = append(ops, Operation{
			Kind:              KindPatch,
			Entry:             i,
			Label:             e.What,
			PhysicalPartition: e.PhysicalPartition,
			Request: firehose.Patch{
				SectorSize:        e.SectorSize,
				ByteOffset:        int(e.ByteOffset),
				Filename:          e.Filename,
				PhysicalPartition: e.PhysicalPartition,
				SizeInBytes:       e.SizeInBytes,
				StartSector:       e.StartSector,
				Value:             e.Value,
				What:              e.What,
			},
		})
	}
	return ops, result.ErrorOrNil()
}

func validatePatch(e descriptor.PatchEntry) error {
	switch e.SizeInBytes {
	case 1, 2, 4, 8:
	default:
		return &InvalidPatchError{What: e.What, Reason: fmt.Sprintf("size_in_bytes %d not in {1,2,4,8}", e.SizeInBytes)}
	}
	if e.SectorSize <= 0 {
		return &InvalidPatchError{What: e.What, Reason: fmt.Sprintf("sector size %d", e.SectorSize)}
	}
	if e.ByteOffset+uint64(e.SizeInBytes) > uint64(e.SectorSize) {
		return &InvalidPatchError{
			What:   e.What,
			Reason: fmt.Sprintf("byte_offset %d + size %d exceeds the %d byte sector", e.ByteOffset, e.SizeInBytes, e.SectorSize),
		}
	}
	if e.StartSector == "" || e.Value == "" {
		return &InvalidPatchError{What: e.What, Reason: "empty start_sector or value"}
	}
	return nil
}
