package firehose

import (
	"bytes"
	"encoding/xml"
	"strconv"
)

// Attr is one XML attribute of a request. Order is preserved on the wire.
type Attr struct {
	Name  string
	Value string
}

// Request is a single Firehose command element.
type Request interface {
	// Tag is the element name, e.g. "program"
	Tag() string

	// Attrs are the element attributes in wire order
	Attrs() []Attr
}

// Configure negotiates storage type and payload size.
type Configure struct {
	MemoryName      string
	MaxPayloadSize  int
	Verbose         bool
	ZLPAwareHost    bool
	SkipStorageInit bool
}

func (Configure) Tag() string { return "configure" }

func (r Configure) Attrs() []Attr {
	return []Attr{
		{"MemoryName", r.MemoryName},
		{attrMaxPayloadToTarget, strconv.Itoa(r.MaxPayloadSize)},
		{"verbose", boolAttr(r.Verbose)},
		{"ZLPAwareHost", boolAttr(r.ZLPAwareHost)},
		{"SkipStorageInit", boolAttr(r.SkipStorageInit)},
	}
}

// Program writes NumSectors sectors starting at StartSector. The sector data
// follows the device's rawmode ACK.
type Program struct {
	SectorSize        int
	NumSectors        uint64
	PhysicalPartition int
	StartSector       string
	Filename          string
	Label             string
}

func (Program) Tag() string { return "program" }

func (r Program) Attrs() []Attr {
	attrs := []Attr{
		{"SECTOR_SIZE_IN_BYTES", strconv.Itoa(r.SectorSize)},
		{"num_partition_sectors", strconv.FormatUint(r.NumSectors, 10)},
		{"physical_partition_number", strconv.Itoa(r.PhysicalPartition)},
		{"start_sector", r.StartSector},
	}
	if r.Filename != "" {
		attrs = append(attrs, Attr{"filename", r.Filename})
	}
	if r.Label != "" {
		attrs = append(attrs, Attr{"label", r.Label})
	}
	return attrs
}

// RawLength is the exact number of raw bytes that follow the request.
func (r Program) RawLength() int64 {
	return int64(r.SectorSize) * int64(r.NumSectors)
}

// Read reads NumSectors sectors; the device sends them after its rawmode ACK.
type Read struct {
	SectorSize        int
	NumSectors        uint64
	PhysicalPartition int
	StartSector       string
}

func (Read) Tag() string { return "read" }

func (r Read) Attrs() []Attr {
	return []Attr{
		{"SECTOR_SIZE_IN_BYTES", strconv.Itoa(r.SectorSize)},
		{"num_partition_sectors", strconv.FormatUint(r.NumSectors, 10)},
		{"physical_partition_number", strconv.Itoa(r.PhysicalPartition)},
		{"start_sector", r.StartSector},
	}
}

// RawLength is the exact number of raw bytes the device sends.
func (r Read) RawLength() int64 {
	return int64(r.SectorSize) * int64(r.NumSectors)
}

// Erase erases a sector range.
type Erase struct {
	SectorSize        int
	NumSectors        uint64
	PhysicalPartition int
	StartSector       string
}

func (Erase) Tag() string { return "erase" }

func (r Erase) Attrs() []Attr {
	return []Attr{
		{"SECTOR_SIZE_IN_BYTES", strconv.Itoa(r.SectorSize)},
		{"num_partition_sectors", strconv.FormatUint(r.NumSectors, 10)},
		{"physical_partition_number", strconv.Itoa(r.PhysicalPartition)},
		{"start_sector", r.StartSector},
	}
}

// Patch writes Value into SizeInBytes bytes at ByteOffset of StartSector.
// Value and StartSector may be expressions the programmer evaluates, such as
// "NUM_DISK_SECTORS-1." or "CRC32(2,92)".
type Patch struct {
	SectorSize        int
	ByteOffset        int
	Filename          string
	PhysicalPartition int
	SizeInBytes       int
	StartSector       string
	Value             string
	What              string
}

func (Patch) Tag() string { return "patch" }

func (r Patch) Attrs() []Attr {
	attrs := []Attr{
		{"SECTOR_SIZE_IN_BYTES", strconv.Itoa(r.SectorSize)},
		{"byte_offset", strconv.Itoa(r.ByteOffset)},
		{"filename", r.Filename},
		{"physical_partition_number", strconv.Itoa(r.PhysicalPartition)},
		{"size_in_bytes", strconv.Itoa(r.SizeInBytes)},
		{"start_sector", r.StartSector},
		{"value", r.Value},
	}
	if r.What != "" {
		attrs = append(attrs, Attr{"what", r.What})
	}
	return attrs
}

// SetBootableStorageDrive marks a physical partition as the boot LUN.
type SetBootableStorageDrive struct {
	Value int
}

func (SetBootableStorageDrive) Tag() string { return "setbootablestoragedrive" }

func (r SetBootableStorageDrive) Attrs() []Attr {
	return []Attr{{"value", strconv.Itoa(r.Value)}}
}

// Power values.
const (
	PowerReset = "reset"
	PowerOff   = "off"
)

// Power resets or powers off the device.
type Power struct {
	Value          string
	DelayInSeconds int
}

func (Power) Tag() string { return "power" }

func (r Power) Attrs() []Attr {
	attrs := []Attr{{"value", r.Value}}
	if r.DelayInSeconds > 0 {
		attrs = append(attrs, Attr{"DelayInSeconds", strconv.Itoa(r.DelayInSeconds)})
	}
	return attrs
}

// Peek dumps target memory into the device log.
type Peek struct {
	Address     uint64
	SizeInBytes int
}

func (Peek) Tag() string { return "peek" }

func (r Peek) Attrs() []Attr {
	return []Attr{
		{"address64", strconv.FormatUint(r.Address, 10)},
		{"SizeInBytes", strconv.Itoa(r.SizeInBytes)},
	}
}

// Poke writes a value to target memory.
type Poke struct {
	Address     uint64
	SizeInBytes int
	Value       uint64
}

func (Poke) Tag() string { return "poke" }

func (r Poke) Attrs() []Attr {
	return []Attr{
		{"address64", strconv.FormatUint(r.Address, 10)},
		{"SizeInBytes", strconv.Itoa(r.SizeInBytes)},
		{"value64", strconv.FormatUint(r.Value, 10)},
	}
}

// UFS is one UFS provisioning element. Attributes come straight from the
// provisioning descriptor.
type UFS struct {
	Attributes []Attr
}

func (UFS) Tag() string { return "ufs" }

func (r UFS) Attrs() []Attr { return r.Attributes }

// Nop does nothing; the device just ACKs.
type Nop struct{}

func (Nop) Tag() string { return "nop" }

func (Nop) Attrs() []Attr { return nil }

// GetStorageInfo asks the programmer to log storage geometry.
type GetStorageInfo struct {
	PhysicalPartition int
}

func (GetStorageInfo) Tag() string { return "getstorageinfo" }

func (r GetStorageInfo) Attrs() []Attr {
	return []Attr{{"physical_partition_number", strconv.Itoa(r.PhysicalPartition)}}
}

// Encode serializes req as one self-closing element inside a <data> root:
//
//	<?xml version="1.0" ?><data><program SECTOR_SIZE_IN_BYTES="512" ... /></data>
func Encode(req Request) []byte {
	var b bytes.Buffer
	b.WriteString(xmlHeader)
	b.WriteString("<data><")
	b.WriteString(req.Tag())
	for _, a := range req.Attrs() {
		b.WriteByte(' ')
		b.WriteString(a.Name)
		b.WriteString(`="`)
		// EscapeText only fails on writer errors; bytes.Buffer has none.
		_ = xml.EscapeText(&b, []byte(a.Value))
		b.WriteByte('"')
	}
	b.WriteString(" /></data>")
	return b.Bytes()
}

func boolAttr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
