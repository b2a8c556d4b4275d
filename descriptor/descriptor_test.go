package descriptor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moffa90/go-qdl/image"
)

const rawprogram = `<?xml version="1.0" ?>
<data>
  <!--NOTE: This is an ** Autogenerated file **-->
  <program SECTOR_SIZE_IN_BYTES="4096" file_sector_offset="0" filename="gpt_main0.bin" label="PrimaryGPT" num_partition_sectors="6" physical_partition_number="0" start_sector="0"/>
  <program SECTOR_SIZE_IN_BYTES="4096" file_sector_offset="0" filename="" label="ssd" num_partition_sectors="2" physical_partition_number="0" start_sector="8"/>
  <program SECTOR_SIZE_IN_BYTES="4096" file_sector_offset="0" filename="system.img" label="system_a" num_partition_sectors="" physical_partition_number="0" start_sector="label:system_a" sparse="true"/>
  <erase SECTOR_SIZE_IN_BYTES="4096" num_partition_sectors="256" physical_partition_number="0" start_sector="1024"/>
  <program SECTOR_SIZE_IN_BYTES="4096" file_sector_offset="0" filename="gpt_backup0.bin" label="BackupGPT" num_partition_sectors="5" physical_partition_number="0" start_sector="NUM_DISK_SECTORS-5."/>
</data>`

const patches = `<?xml version="1.0" ?>
<patches>
  <patch SECTOR_SIZE_IN_BYTES="4096" byte_offset="40" filename="gpt_main0.bin" physical_partition_number="0" size_in_bytes="8" start_sector="1" value="NUM_DISK_SECTORS-6." what="Update last partition 28 'last_parti' with actual size in Primary Header."/>
  <patch SECTOR_SIZE_IN_BYTES="4096" byte_offset="40" filename="DISK" physical_partition_number="0" size_in_bytes="8" start_sector="1" value="NUM_DISK_SECTORS-6." what="Update last partition 28 'last_parti' with actual size in Primary Header."/>
  <patch SECTOR_SIZE_IN_BYTES="4096" byte_offset="88" filename="DISK" physical_partition_number="0" size_in_bytes="4" start_sector="1" value="CRC32(2,4096)" what="Update Primary Header with CRC of Partition Array."/>
</patches>`

const provision = `<?xml version="1.0" ?>
<data>
  <ufs bNumberLU="6" bBootEnable="1" bDescrAccessEn="0" bInitPowerMode="1" bHighPriorityLUN="0x7F" bSecureRemovalType="0" bInitActiveICCLevel="0" wPeriodicRTCUpdate="0" bConfigDescrLock="0" />
  <ufs LUNum="0" bLUEnable="1" bBootLunID="0" size_in_kb="0" bDataReliability="0" bLUWriteProtect="0" bMemoryType="0" bLogicalBlockSize="0x0c" bProvisioningType="2" wContextCapabilities="0" desc="UserData"/>
  <ufs LUNum="1" bLUEnable="1" bBootLunID="1" size_in_kb="8192" bDataReliability="0" bLUWriteProtect="0" bMemoryType="3" bLogicalBlockSize="0x0c" bProvisioningType="2" wContextCapabilities="0" desc="XBL A"/>
  <ufs LUNtoGrow="0" commit="0" />
</data>`

func TestDetectType(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Type
	}{
		{"program", rawprogram, TypeProgram},
		{"patch", patches, TypePatch},
		{"ufs", provision, TypeUFS},
		{"contents", `<contents><product_info/></contents>`, TypeContents},
		{"erase only", `<data><erase SECTOR_SIZE_IN_BYTES="512" num_partition_sectors="1" physical_partition_number="0" start_sector="0"/></data>`, TypeProgram},
		{"empty data", `<data></data>`, TypeUnknown},
		{"other root", `<configuration/>`, TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectType(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("DetectType() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectType() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := DetectType(strings.NewReader("")); err == nil {
		t.Error("DetectType(empty) succeeded, want error")
	}
}

func TestParseProgram(t *testing.T) {
	p, err := ParseProgram(strings.NewReader(rawprogram))
	if err != nil {
		t.Fatalf("ParseProgram() error = %v", err)
	}
	if len(p.Entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(p.Entries))
	}

	gpt := p.Entries[0]
	if gpt.Filename != "gpt_main0.bin" || gpt.SectorSize != 4096 || gpt.NumSectors != 6 || !gpt.HasNumSectors {
		t.Errorf("entry 0 = %+v", gpt)
	}

	system := p.Entries[2]
	if system.HasNumSectors {
		t.Error("empty num_partition_sectors should leave the count unspecified")
	}
	if !system.Sparse || system.StartSector != "label:system_a" {
		t.Errorf("entry 2 = %+v", system)
	}

	erase := p.Entries[3]
	if !erase.Erase || erase.NumSectors != 256 || erase.Filename != "" {
		t.Errorf("entry 3 = %+v", erase)
	}

	if p.Entries[4].StartSector != "NUM_DISK_SECTORS-5." {
		t.Errorf("device expression not kept: %q", p.Entries[4].StartSector)
	}
}

func TestParseProgramErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		attr  string
	}{
		{
			name:  "missing sector size",
			input: `<data><program filename="a" num_partition_sectors="1" physical_partition_number="0" start_sector="0"/></data>`,
			attr:  "SECTOR_SIZE_IN_BYTES",
		},
		{
			name:  "bad partition",
			input: `<data><program SECTOR_SIZE_IN_BYTES="512" filename="a" physical_partition_number="x" start_sector="0"/></data>`,
			attr:  "physical_partition_number",
		},
		{
			name:  "erase without count",
			input: `<data><erase SECTOR_SIZE_IN_BYTES="512" physical_partition_number="0" start_sector="0"/></data>`,
			attr:  "num_partition_sectors",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProgram(strings.NewReader(tt.input))
			var ae *AttributeError
			if !errors.As(err, &ae) {
				t.Fatalf("ParseProgram() error = %v, want AttributeError", err)
			}
			if ae.Attr != tt.attr {
				t.Errorf("Attr = %q, want %q", ae.Attr, tt.attr)
			}
		})
	}

	var se *SyntaxError
	if _, err := ParseProgram(strings.NewReader(patches)); !errors.As(err, &se) {
		t.Errorf("ParseProgram(patch file) error = %v, want SyntaxError", err)
	}
}

func TestParsePatch(t *testing.T) {
	p, err := ParsePatch(strings.NewReader(patches))
	if err != nil {
		t.Fatalf("ParsePatch() error = %v", err)
	}
	if len(p.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(p.Entries))
	}

	e := p.Entries[2]
	if e.Filename != DiskTarget || e.ByteOffset != 88 || e.SizeInBytes != 4 || e.Value != "CRC32(2,4096)" {
		t.Errorf("entry 2 = %+v", e)
	}
	if !strings.HasPrefix(e.What, "Update Primary Header") {
		t.Errorf("What = %q", e.What)
	}
}

func TestParseUFS(t *testing.T) {
	u, err := ParseUFS(strings.NewReader(provision))
	if err != nil {
		t.Fatalf("ParseUFS() error = %v", err)
	}
	if len(u.Bodies) != 2 {
		t.Fatalf("got %d bodies, want 2", len(u.Bodies))
	}
	if u.Commit() {
		t.Error("Commit() = true for commit=\"0\"")
	}

	u.SetCommit(true)
	if !u.Commit() {
		t.Error("SetCommit(true) not applied")
	}

	reqs := u.Requests()
	if len(reqs) != 4 {
		t.Fatalf("Requests() returned %d, want 4", len(reqs))
	}
	if reqs[0].Attributes[0].Name != "bNumberLU" || reqs[3].Attributes[1].Name != "commit" {
		t.Errorf("requests out of order: %+v", reqs)
	}

	if _, err := ParseUFS(strings.NewReader(`<data><ufs LUNum="0"/></data>`)); err == nil {
		t.Error("ParseUFS() without common element succeeded")
	}
}

func TestImagesLocate(t *testing.T) {
	descDir := t.TempDir()
	incDir := t.TempDir()
	write := func(dir, name string, data []byte) {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(descDir, "boot.img", make([]byte, 8192))
	write(descDir, "dtbo.img", make([]byte, 100))
	write(incDir, "boot.img", make([]byte, 4096))

	im := Images{Include: []string{incDir}}
	descPath := filepath.Join(descDir, "rawprogram0.xml")

	got, err := im.Locate("boot.img", descPath)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if got != filepath.Join(incDir, "boot.img") {
		t.Errorf("Locate() = %s, want include dir first", got)
	}

	got, err = im.Locate("dtbo.img", descPath)
	if err != nil || got != filepath.Join(descDir, "dtbo.img") {
		t.Errorf("Locate(dtbo.img) = %s, %v", got, err)
	}

	var nf *ImageNotFoundError
	if _, err := im.Locate("vendor.img", descPath); !errors.As(err, &nf) {
		t.Errorf("Locate(missing) error = %v, want ImageNotFoundError", err)
	}

	src, err := im.Source(&Program{Path: descPath}, ProgramEntry{Filename: "dtbo.img", SectorSize: 512})
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	if _, ok := src.(*image.File); !ok || src.Size() != 100 {
		t.Errorf("Source() = %T size %d", src, src.Size())
	}
}
