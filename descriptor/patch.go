package descriptor

import (
	"fmt"
	"io"
	"os"
)

// DiskTarget is the patch filename that addresses the device itself. Patches
// naming any other file apply to host-side images and are never sent.
const DiskTarget = "DISK"

// PatchEntry is one <patch> element.
type PatchEntry struct {
	SectorSize        int
	ByteOffset        uint64
	Filename          string
	PhysicalPartition int
	SizeInBytes       int
	StartSector       string
	Value             string
	What              string
	Line              int
}

// Patch is a loaded patch file.
type Patch struct {
	Path    string
	Entries []PatchEntry
}

// LoadPatch reads a patch file.
func LoadPatch(path string) (*Patch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := ParsePatch(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Path = path
	return p, nil
}

// ParsePatch reads <patch> elements from a <patches> document.
func ParsePatch(r io.Reader) (*Patch, error) {
	els, err := children(r, "patches")
	if err != nil {
		return nil, err
	}

	p := &Patch{}
	for _, el := range els {
		if el.name != "patch" {
			continue
		}
		ar := &attrReader{el: el}
		e := PatchEntry{
			SectorSize:        int(ar.uint("SECTOR_SIZE_IN_BYTES")),
			ByteOffset:        ar.uint("byte_offset"),
			Filename:          ar.str("filename"),
			PhysicalPartition: int(ar.uint("physical_partition_number")),
			SizeInBytes:       int(ar.uint("size_in_bytes")),
			StartSector:       ar.str("start_sector"),
			Value:             ar.str("value"),
			What:              ar.optStr("what"),
			Line:              el.line,
		}
		if ar.err != nil {
			return nil, ar.err
		}
		p.Entries = append(p.Entries, e)
	}
	return p, nil
}
