package descriptor

import (
	"fmt"
	"io"
	"os"
)

// ProgramEntry is one <program> or <erase> element of a rawprogram file.
type ProgramEntry struct {
	// Erase marks an <erase> element
	Erase bool

	SectorSize        int
	PhysicalPartition int

	// StartSector is numeric ("6"), a device expression ("NUM_DISK_SECTORS-5."),
	// or symbolic ("LOWEST_FREE", "label:system_a")
	StartSector string

	// NumSectors is the declared sector count; HasNumSectors is false when the
	// attribute is absent or empty and the count comes from the image length
	NumSectors    uint64
	HasNumSectors bool

	// Filename is the image to write; empty entries are placeholders and not flashed
	Filename string

	// FileSectorOffset skips that many sectors at the start of the image file
	FileSectorOffset uint64

	Label  string
	Sparse bool

	// Line is the element's line in the descriptor, for diagnostics
	Line int
}

// FileOffset returns the byte offset into the image file.
func (e ProgramEntry) FileOffset() int64 {
	return int64(e.FileSectorOffset) * int64(e.SectorSize)
}

// Program is a loaded rawprogram file.
type Program struct {
	Path    string
	Entries []ProgramEntry
}

// LoadProgram reads a rawprogram file.
func LoadProgram(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := ParseProgram(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Path = path
	return p, nil
}

// ParseProgram reads <program> and <erase> elements from a <data> document in
// document order. Other elements (such as <read>) are ignored.
func ParseProgram(r io.Reader) (*Program, error) {
	els, err := children(r, "data")
	if err != nil {
		return nil, err
	}

	p := &Program{}
	for _, el := range els {
		if el.name != "program" && el.name != "erase" {
			continue
		}

		ar := &attrReader{el: el}
		e := ProgramEntry{
			Erase:             el.name == "erase",
			SectorSize:        int(ar.uint("SECTOR_SIZE_IN_BYTES")),
			PhysicalPartition: int(ar.uint("physical_partition_number")),
			StartSector:       ar.str("start_sector"),
			Label:             ar.optStr("label"),
			Sparse:            ar.bool("sparse"),
			Line:              el.line,
		}
		e.NumSectors, e.HasNumSectors = ar.optUint("num_partition_sectors")
		if !e.Erase {
			e.Filename = ar.optStr("filename")
			e.FileSectorOffset, _ = ar.optUint("file_sector_offset")
		} else if !e.HasNumSectors {
			ar.fail("num_partition_sectors", ErrMissing)
		}
		if ar.err == nil && e.SectorSize == 0 {
			ar.fail("SECTOR_SIZE_IN_BYTES", fmt.Errorf("must not be zero"))
		}
		if ar.err != nil {
			return nil, ar.err
		}
		p.Entries = append(p.Entries, e)
	}
	return p, nil
}
