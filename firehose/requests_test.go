package firehose

import (
	"strings"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "configure",
			req:  Configure{MemoryName: "ufs", MaxPayloadSize: 1048576, ZLPAwareHost: true},
			want: `<?xml version="1.0" ?><data><configure MemoryName="ufs" MaxPayloadSizeToTargetInBytes="1048576" verbose="0" ZLPAwareHost="1" SkipStorageInit="0" /></data>`,
		},
		{
			name: "program",
			req: Program{
				SectorSize:        4096,
				NumSectors:        2,
				PhysicalPartition: 4,
				StartSector:       "6",
				Filename:          "boot.img",
				Label:             "boot_a",
			},
			want: `<?xml version="1.0" ?><data><program SECTOR_SIZE_IN_BYTES="4096" num_partition_sectors="2" physical_partition_number="4" start_sector="6" filename="boot.img" label="boot_a" /></data>`,
		},
		{
			name: "patch with expression",
			req: Patch{
				SectorSize:  512,
				ByteOffset:  16,
				Filename:    "DISK",
				SizeInBytes: 4,
				StartSector: "NUM_DISK_SECTORS-1.",
				Value:       "CRC32(NUM_DISK_SECTORS-33.,4096)",
				What:        "Update Backup Header & Primary",
			},
			want: `<?xml version="1.0" ?><data><patch SECTOR_SIZE_IN_BYTES="512" byte_offset="16" filename="DISK" physical_partition_number="0" size_in_bytes="4" start_sector="NUM_DISK_SECTORS-1." value="CRC32(NUM_DISK_SECTORS-33.,4096)" what="Update Backup Header &amp; Primary" /></data>`,
		},
		{
			name: "nop",
			req:  Nop{},
			want: `<?xml version="1.0" ?><data><nop /></data>`,
		},
		{
			name: "power reset",
			req:  Power{Value: PowerReset},
			want: `<?xml version="1.0" ?><data><power value="reset" /></data>`,
		},
		{
			name: "ufs passes attributes through",
			req:  UFS{Attributes: []Attr{{"LUNum", "0"}, {"bLUEnable", "1"}}},
			want: `<?xml version="1.0" ?><data><ufs LUNum="0" bLUEnable="1" /></data>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(Encode(tt.req))
			if got != tt.want {
				t.Errorf("Encode() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestEncodeIsParseable(t *testing.T) {
	s := NewScanner(0)
	s.Feed(Encode(Program{SectorSize: 512, NumSectors: 1, StartSector: "0", Filename: `a"b<c>.img`}))

	_, ok, err := s.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !ok {
		t.Fatal("Next() did not return a frame for an encoded request")
	}
}

func TestRawLength(t *testing.T) {
	p := Program{SectorSize: 4096, NumSectors: 3}
	if got := p.RawLength(); got != 12288 {
		t.Errorf("Program.RawLength() = %d, want 12288", got)
	}
	r := Read{SectorSize: 512, NumSectors: 34}
	if got := r.RawLength(); got != 17408 {
		t.Errorf("Read.RawLength() = %d, want 17408", got)
	}
}

func TestDefaultSectorSize(t *testing.T) {
	if got := DefaultSectorSize(MemoryUFS); got != 4096 {
		t.Errorf("ufs = %d, want 4096", got)
	}
	if got := DefaultSectorSize(MemoryEMMC); got != 512 {
		t.Errorf("emmc = %d, want 512", got)
	}
	if !strings.Contains(string(Encode(Erase{SectorSize: 512, NumSectors: 8, StartSector: "0"})), `<erase `) {
		t.Error("erase request not encoded as <erase>")
	}
}
