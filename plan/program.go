package plan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/moffa90/go-qdl/descriptor"
	"github.com/moffa90/go-qdl/firehose"
	"github.com/moffa90/go-qdl/gpt"
	"github.com/moffa90/go-qdl/image"
)

// Symbolic start sectors resolved against a partition layout.
const (
	LowestFree  = "LOWEST_FREE"
	LabelPrefix = "label:"
)

// Layouts maps a physical partition number to its partition table.
type Layouts map[int]*gpt.Layout

// Sources yields the image behind a program entry. It may stat the file but
// must not read it.
type Sources func(e descriptor.ProgramEntry) (image.Source, error)

// Program plans the entries of a rawprogram file in document order.
//
// Program entries without a filename are skipped. Each other program entry
// becomes one program operation whose sector count is ceil(L/S) for an image
// of L bytes (the expanded length for sparse images) and sector size S; a
// declared count is an upper bound. Erase entries become erase operations.
//
// Entries that cannot be planned are reported in the returned error, one
// *EntryError each, and left out of the operations; the rest are planned.
func Program(entries []descriptor.ProgramEntry, sources Sources, layouts Layouts) ([]Operation, error) {
	var ops []Operation
	var result *multierror.Error

	for i, e := range entries {
		if !e.Erase && e.Filename == "" {
			continue
		}

		op, err := planProgram(i, e, sources, layouts)
		if err != nil {
			kind := KindProgram
			if e.Erase {
				kind = KindErase
			}
			result = multierror.Append(result, &EntryError{Kind: kind, Entry: i, Label: entryLabel(e), Err: err})
			continue
		}
		ops = append(ops, op)
	}
	return ops, result.ErrorOrNil()
}

func planProgram(i int, e descriptor.ProgramEntry, sources Sources, layouts Layouts) (Operation, error) {
	if e.SectorSize <= 0 {
		return Operation{}, fmt.Errorf("invalid sector size %d", e.SectorSize)
	}
	start, err := ResolveStartSector(e.StartSector, e.PhysicalPartition, layouts)
	if err != nil {
		return Operation{}, err
	}

	if e.Erase {
		return Operation{
			Kind:              KindErase,
			Entry:             i,
			Label:             entryLabel(e),
			PhysicalPartition: e.PhysicalPartition,
			Request: firehose.Erase{
				SectorSize:        e.SectorSize,
				NumSectors:        e.NumSectors,
				PhysicalPartition: e.PhysicalPartition,
				StartSector:       start,
			},
		}, nil
	}

	if sources == nil {
		return Operation{}, fmt.Errorf("no image source for %s", e.Filename)
	}
	src, err := sources(e)
	if err != nil {
		return Operation{}, err
	}

	size := src.Size()
	if size == 0 {
		return Operation{}, fmt.Errorf("image %s is empty", src.Name())
	}
	sectors := uint64((size + int64(e.SectorSize) - 1) / int64(e.SectorSize))
	if e.HasNumSectors && e.NumSectors > 0 && sectors > e.NumSectors {
		return Operation{}, &ImageTooLargeError{
			Filename: e.Filename,
			Size:     size,
			Sectors:  sectors,
			Declared: e.NumSectors,
		}
	}

	return Operation{
		Kind:              KindProgram,
		Entry:             i,
		Label:             entryLabel(e),
		PhysicalPartition: e.PhysicalPartition,
		Request: firehose.Program{
			SectorSize:        e.SectorSize,
			NumSectors:        sectors,
			PhysicalPartition: e.PhysicalPartition,
			StartSector:       start,
			Filename:          e.Filename,
			Label:             e.Label,
		},
		Payload: src,
	}, nil
}

// ResolveStartSector turns a start sector into what is sent to the device.
// Numbers and device-evaluated expressions such as "NUM_DISK_SECTORS-5." pass
// through; LOWEST_FREE and label:<name> are looked up in the partition's layout.
func ResolveStartSector(start string, partition int, layouts Layouts) (string, error) {
	s := strings.TrimSpace(start)
	if s == "" {
		return "", &UnresolvedSectorError{StartSector: start, PhysicalPartition: partition, Reason: "empty"}
	}
	if !IsSymbolic(s) {
		return s, nil
	}

	layout, ok := layouts[partition]
	if !ok || layout == nil {
		return "", &UnresolvedSectorError{
			StartSector:       start,
			PhysicalPartition: partition,
			Reason:            "partition layout not read",
		}
	}

	if strings.EqualFold(s, LowestFree) {
		return strconv.FormatUint(layout.LowestFree(), 10), nil
	}

	name := strings.TrimSpace(s[len(LabelPrefix):])
	p, ok := layout.Lookup(name)
	if !ok {
		return "", &UnresolvedSectorError{
			StartSector:       start,
			PhysicalPartition: partition,
			Reason:            fmt.Sprintf("no partition labelled %q", name),
		}
	}
	return strconv.FormatUint(p.FirstLBA, 10), nil
}

// IsSymbolic reports whether start needs a partition layout to resolve.
func IsSymbolic(start string) bool {
	s := strings.TrimSpace(start)
	return strings.EqualFold(s, LowestFree) ||
		(len(s) > len(LabelPrefix) && strings.EqualFold(s[:len(LabelPrefix)], LabelPrefix))
}

// LayoutsNeeded lists, in ascending order, the physical partitions whose
// layout must be read before entries can be planned.
func LayoutsNeeded(entries []descriptor.ProgramEntry) []int {
	seen := make(map[int]bool)
	var out []int
	for _, e := range entries {
		if !e.Erase && e.Filename == "" {
			continue
		}
		if IsSymbolic(e.StartSector) && !seen[e.PhysicalPartition] {
			seen[e.PhysicalPartition] = true
			out = append(out, e.PhysicalPartition)
		}
	}
	sort.Ints(out)
	return out
}

// bootLabels name the partition holding the primary bootloader, in priority order.
var bootLabels = []string{"xbl", "xbl_a", "sbl1"}

// BootablePartition returns the physical partition of the primary bootloader
// entry, which is what setbootablestoragedrive must point at.
func BootablePartition(entries []descriptor.ProgramEntry) (int, bool) {
	for _, label := range bootLabels {
		for _, e := range entries {
			if !e.Erase && e.Label == label {
				return e.PhysicalPartition, true
			}
		}
	}
	return 0, false
}

func entryLabel(e descriptor.ProgramEntry) string {
	if e.Label != "" {
		return e.Label
	}
	return e.Filename
}
