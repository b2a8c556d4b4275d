// Package gpt parses the primary GUID partition table read back from a device.
//
// The layout is used to resolve symbolic start sectors in program descriptors
// before planning: "the first sector after the last partition" or "the first
// sector of partition X".
package gpt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"unicode/utf16"
)

const (
	signature = "EFI PART"

	minHeaderSize = 92
	minEntrySize  = 128

	// DefaultEntries is the partition entry count every Qualcomm layout uses.
	DefaultEntries = 128
)

// ErrNoGPT is returned when LBA 1 does not carry a GPT header.
var ErrNoGPT = errors.New("gpt: no GPT header")

// Partition is one used partition entry.
type Partition struct {
	Index      int
	Name       string
	TypeGUID   string
	UniqueGUID string
	FirstLBA   uint64
	LastLBA    uint64
	Attributes uint64
}

// Sectors returns the partition length in sectors.
func (p Partition) Sectors() uint64 {
	return p.LastLBA - p.FirstLBA + 1
}

// Layout is the partition table of one physical partition (LUN).
type Layout struct {
	SectorSize  int
	DiskGUID    string
	FirstUsable uint64
	LastUsable  uint64
	Partitions  []Partition
}

// PrimarySectors is how many sectors from LBA 0 hold the protective MBR, the
// header and a standard 128-entry table.
func PrimarySectors(sectorSize int) int {
	entryBytes := DefaultEntries * minEntrySize
	return 2 + (entryBytes+sectorSize-1)/sectorSize
}

// Parse decodes the primary GPT from data, which starts at LBA 0.
func Parse(data []byte, sectorSize int) (*Layout, error) {
	if sectorSize < 512 || sectorSize&(sectorSize-1) != 0 {
		return nil, fmt.Errorf("gpt: invalid sector size %d", sectorSize)
	}
	if len(data) < 2*sectorSize {
		return nil, &FormatError{Reason: fmt.Sprintf("need at least %d bytes, have %d", 2*sectorSize, len(data))}
	}

	hdr := data[sectorSize : 2*sectorSize]
	if string(hdr[0:8]) != signature {
		return nil, ErrNoGPT
	}

	headerSize := binary.LittleEndian.Uint32(hdr[12:16])
	if headerSize < minHeaderSize || int(headerSize) > sectorSize {
		return nil, &FormatError{Reason: fmt.Sprintf("header size %d", headerSize)}
	}
	want := binary.LittleEndian.Uint32(hdr[16:20])
	check := make([]byte, headerSize)
	copy(check, hdr[:headerSize])
	binary.LittleEndian.PutUint32(check[16:20], 0)
	if got := crc32.ChecksumIEEE(check); got != want {
		return nil, &FormatError{Reason: fmt.Sprintf("header crc 0x%08X, want 0x%08X", got, want)}
	}

	l := &Layout{
		SectorSize:  sectorSize,
		FirstUsable: binary.LittleEndian.Uint64(hdr[40:48]),
		LastUsable:  binary.LittleEndian.Uint64(hdr[48:56]),
		DiskGUID:    formatGUID(hdr[56:72]),
	}

	entriesLBA := binary.LittleEndian.Uint64(hdr[72:80])
	count := binary.LittleEndian.Uint32(hdr[80:84])
	entrySize := binary.LittleEndian.Uint32(hdr[84:88])
	entriesCRC := binary.LittleEndian.Uint32(hdr[88:92])

	if entrySize < minEntrySize || entrySize%8 != 0 {
		return nil, &FormatError{Reason: fmt.Sprintf("entry size %d", entrySize)}
	}
	if entriesLBA < 2 || entriesLBA > uint64(len(data))/uint64(sectorSize) {
		return nil, &FormatError{Reason: fmt.Sprintf("entry array at LBA %d outside the %d bytes read", entriesLBA, len(data))}
	}
	start := entriesLBA * uint64(sectorSize)
	end := start + uint64(count)*uint64(entrySize)
	if end < start || end > uint64(len(data)) {
		return nil, &FormatError{Reason: fmt.Sprintf("entry array [%d, %d) outside the %d bytes read", start, end, len(data))}
	}

	entries := data[start:end]
	if got := crc32.ChecksumIEEE(entries); got != entriesCRC {
		return nil, &FormatError{Reason: fmt.Sprintf("entry array crc 0x%08X, want 0x%08X", got, entriesCRC)}
	}

	zero := make([]byte, 16)
	for i := 0; i < int(count); i++ {
		e := entries[i*int(entrySize) : (i+1)*int(entrySize)]
		if bytes.Equal(e[0:16], zero) {
			continue
		}
		p := Partition{
			Index:      i,
			TypeGUID:   formatGUID(e[0:16]),
			UniqueGUID: formatGUID(e[16:32]),
			FirstLBA:   binary.LittleEndian.Uint64(e[32:40]),
			LastLBA:    binary.LittleEndian.Uint64(e[40:48]),
			Attributes: binary.LittleEndian.Uint64(e[48:56]),
			Name:       decodeName(e[56:128]),
		}
		if p.LastLBA < p.FirstLBA {
			return nil, &FormatError{Reason: fmt.Sprintf("partition %d ends before it starts", i)}
		}
		l.Partitions = append(l.Partitions, p)
	}
	return l, nil
}

// Lookup returns the partition with the given name.
func (l *Layout) Lookup(name string) (Partition, bool) {
	for _, p := range l.Partitions {
		if p.Name == name {
			return p, true
		}
	}
	return Partition{}, false
}

// LowestFree returns the first sector after every partition, or the first
// usable sector of an empty table.
func (l *Layout) LowestFree() uint64 {
	free := l.FirstUsable
	for _, p := range l.Partitions {
		if p.LastLBA+1 > free {
			free = p.LastLBA + 1
		}
	}
	return free
}

func decodeName(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		c := binary.LittleEndian.Uint16(b[i:])
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	return string(utf16.Decode(u))
}

// formatGUID renders a mixed-endian on-disk GUID in its canonical form.
func formatGUID(b []byte) string {
	return strings.ToUpper(fmt.Sprintf("%08x-%04x-%04x-%x-%x",
		binary.LittleEndian.Uint32(b[0:4]),
		binary.LittleEndian.Uint16(b[4:6]),
		binary.LittleEndian.Uint16(b[6:8]),
		b[8:10],
		b[10:16],
	))
}

// FormatError reports a GPT that fails validation.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "gpt: " + e.Reason
}
