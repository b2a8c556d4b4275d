package plan

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"

	"github.com/moffa90/go-qdl/descriptor"
	"github.com/moffa90/go-qdl/firehose"
	"github.com/moffa90/go-qdl/gpt"
	"github.com/moffa90/go-qdl/image"
)

// sizedSources returns in-memory images of the given sizes by filename.
func sizedSources(sizes map[string]int) Sources {
	return func(e descriptor.ProgramEntry) (image.Source, error) {
		n, ok := sizes[e.Filename]
		if !ok {
			return nil, &descriptor.ImageNotFoundError{Filename: e.Filename}
		}
		return &image.Bytes{Label: e.Filename, Data: make([]byte, n)}, nil
	}
}

func TestProgramSectorCount(t *testing.T) {
	tests := []struct {
		size       int
		sectorSize int
		want       uint64
	}{
		{1, 512, 1},
		{512, 512, 1},
		{513, 512, 2},
		{4096, 4096, 1},
		{10000, 4096, 3},
		{64 << 20, 4096, 16384},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.size, tt.sectorSize), func(t *testing.T) {
			entries := []descriptor.ProgramEntry{{
				SectorSize:  tt.sectorSize,
				StartSector: "0",
				Filename:    "img",
			}}
			ops, err := Program(entries, sizedSources(map[string]int{"img": tt.size}), nil)
			if err != nil {
				t.Fatalf("Program() error = %v", err)
			}
			if len(ops) != 1 {
				t.Fatalf("got %d operations, want 1", len(ops))
			}
			req := ops[0].Request.(firehose.Program)
			if req.NumSectors != tt.want {
				t.Errorf("num_partition_sectors = %d, want ceil(%d/%d) = %d",
					req.NumSectors, tt.size, tt.sectorSize, tt.want)
			}
			if ops[0].Bytes() < int64(tt.size) {
				t.Errorf("Bytes() = %d, smaller than the image", ops[0].Bytes())
			}
		})
	}
}

func TestProgramOrderAndSkips(t *testing.T) {
	entries := []descriptor.ProgramEntry{
		{SectorSize: 4096, StartSector: "0", Filename: "gpt_main0.bin", Label: "PrimaryGPT"},
		{SectorSize: 4096, StartSector: "8", Label: "ssd"},
		{SectorSize: 4096, StartSector: "1024", NumSectors: 256, HasNumSectors: true, Erase: true, Label: "misc"},
		{SectorSize: 4096, StartSector: "NUM_DISK_SECTORS-5.", Filename: "gpt_backup0.bin", Label: "BackupGPT"},
	}
	sources := sizedSources(map[string]int{"gpt_main0.bin": 24576, "gpt_backup0.bin": 20480})

	ops, err := Program(entries, sources, nil)
	if err != nil {
		t.Fatalf("Program() error = %v", err)
	}

	want := []struct {
		kind  Kind
		entry int
		start string
	}{
		{KindProgram, 0, "0"},
		{KindErase, 2, "1024"},
		{KindProgram, 3, "NUM_DISK_SECTORS-5."},
	}
	if len(ops) != len(want) {
		t.Fatalf("got %d operations, want %d: %v", len(ops), len(want), ops)
	}
	for i, w := range want {
		if ops[i].Kind != w.kind || ops[i].Entry != w.entry {
			t.Errorf("op %d = %v, want %v entry %d", i, ops[i], w.kind, w.entry)
		}
		var start string
		switch r := ops[i].Request.(type) {
		case firehose.Program:
			start = r.StartSector
		case firehose.Erase:
			start = r.StartSector
			if r.NumSectors != 256 {
				t.Errorf("erase sectors = %d, want 256", r.NumSectors)
			}
		}
		if start != w.start {
			t.Errorf("op %d start_sector = %q, want %q", i, start, w.start)
		}
	}
}

func TestProgramImageTooLarge(t *testing.T) {
	entries := []descriptor.ProgramEntry{
		{SectorSize: 512, StartSector: "0", Filename: "big", NumSectors: 2, HasNumSectors: true},
		{SectorSize: 512, StartSector: "2", Filename: "ok", NumSectors: 2, HasNumSectors: true},
	}
	ops, err := Program(entries, sizedSources(map[string]int{"big": 1025, "ok": 1024}), nil)

	var tooLarge *ImageTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("Program() error = %v, want ImageTooLargeError", err)
	}
	if tooLarge.Sectors != 3 || tooLarge.Declared != 2 {
		t.Errorf("ImageTooLargeError = %+v", tooLarge)
	}
	if len(ops) != 1 || ops[0].Entry != 1 {
		t.Errorf("valid entry not planned: %v", ops)
	}
}

func TestResolveStartSector(t *testing.T) {
	layout := &gpt.Layout{
		SectorSize:  4096,
		FirstUsable: 6,
		Partitions: []gpt.Partition{
			{Name: "xbl_a", FirstLBA: 6, LastLBA: 905},
			{Name: "system_a", FirstLBA: 2000, LastLBA: 9999},
		},
	}
	layouts := Layouts{0: layout}

	tests := []struct {
		start     string
		partition int
		want      string
		wantErr   bool
	}{
		{"6", 0, "6", false},
		{" 42 ", 0, "42", false},
		{"NUM_DISK_SECTORS-5.", 0, "NUM_DISK_SECTORS-5.", false},
		{"LOWEST_FREE", 0, "10000", false},
		{"label:system_a", 0, "2000", false},
		{"label:vendor_a", 0, "", true},
		{"LOWEST_FREE", 1, "", true},
		{"", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.start, func(t *testing.T) {
			got, err := ResolveStartSector(tt.start, tt.partition, layouts)
			if tt.wantErr {
				var ue *UnresolvedSectorError
				if !errors.As(err, &ue) {
					t.Fatalf("error = %v, want UnresolvedSectorError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveStartSector(%q) = %q, want %q", tt.start, got, tt.want)
			}
		})
	}
}

func TestProgramUnresolvedSector(t *testing.T) {
	entries := []descriptor.ProgramEntry{
		{SectorSize: 4096, StartSector: "LOWEST_FREE", Filename: "a", PhysicalPartition: 4},
	}
	_, err := Program(entries, sizedSources(map[string]int{"a": 10}), nil)

	var ue *UnresolvedSectorError
	if !errors.As(err, &ue) {
		t.Fatalf("Program() error = %v, want UnresolvedSectorError", err)
	}
	var entryErr *EntryError
	if !errors.As(err, &entryErr) || entryErr.Entry != 0 {
		t.Errorf("error not tied to entry 0: %v", err)
	}

	if got := LayoutsNeeded(entries); len(got) != 1 || got[0] != 4 {
		t.Errorf("LayoutsNeeded() = %v, want [4]", got)
	}
}

func TestLayoutsNeeded(t *testing.T) {
	entries := []descriptor.ProgramEntry{
		{StartSector: "label:a", PhysicalPartition: 5, Filename: "x"},
		{StartSector: "0", PhysicalPartition: 1, Filename: "x"},
		{StartSector: "LOWEST_FREE", PhysicalPartition: 2, Filename: "x"},
		{StartSector: "label:b", PhysicalPartition: 5, Filename: "x"},
		{StartSector: "label:c", PhysicalPartition: 7},
	}
	got := LayoutsNeeded(entries)
	if fmt.Sprint(got) != "[2 5]" {
		t.Errorf("LayoutsNeeded() = %v, want [2 5]", got)
	}
}

func TestPatch(t *testing.T) {
	entries := []descriptor.PatchEntry{
		{SectorSize: 512, ByteOffset: 40, Filename: "gpt_main0.bin", SizeInBytes: 8, StartSector: "1", Value: "NUM_DISK_SECTORS-34.", What: "host"},
		{SectorSize: 512, ByteOffset: 40, Filename: "DISK", SizeInBytes: 8, StartSector: "1", Value: "NUM_DISK_SECTORS-34.", What: "last usable"},
		{SectorSize: 512, ByteOffset: 508, Filename: "DISK", SizeInBytes: 8, StartSector: "1", Value: "0", What: "overflows"},
		{SectorSize: 512, ByteOffset: 0, Filename: "DISK", SizeInBytes: 3, StartSector: "1", Value: "0", What: "odd size"},
		{SectorSize: 512, ByteOffset: 88, Filename: "DISK", SizeInBytes: 4, StartSector: "1", Value: "CRC32(2,16384)", What: "crc"},
	}

	ops, err := Patch(entries)
	if len(ops) != 2 {
		t.Fatalf("got %d operations, want 2", len(ops))
	}
	if ops[0].Label != "last usable" || ops[1].Label != "crc" {
		t.Errorf("operations = %v", ops)
	}
	for _, op := range ops {
		if op.Payload != nil || op.Bytes() != 0 {
			t.Errorf("patch %v carries a payload", op)
		}
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 2 {
		t.Fatalf("Patch() error = %v, want two entry errors", err)
	}
	var invalid *InvalidPatchError
	if !errors.As(merr.Errors[0], &invalid) || invalid.What != "overflows" {
		t.Errorf("first error = %v", merr.Errors[0])
	}
}

func TestBootablePartition(t *testing.T) {
	entries := []descriptor.ProgramEntry{
		{Label: "sbl1", PhysicalPartition: 3},
		{Label: "xbl_a", PhysicalPartition: 1},
		{Label: "boot_a", PhysicalPartition: 4},
	}
	if n, ok := BootablePartition(entries); !ok || n != 1 {
		t.Errorf("BootablePartition() = %d, %v; want 1 (xbl_a ranks above sbl1)", n, ok)
	}
	if _, ok := BootablePartition(entries[2:]); ok {
		t.Error("BootablePartition() found a bootloader in boot_a only")
	}
}
