package gpt

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"
	"unicode/utf16"
)

type testPart struct {
	name        string
	first, last uint64
}

// buildGPT returns the first PrimarySectors(sectorSize) sectors of a disk.
func buildGPT(sectorSize int, parts ...testPart) []byte {
	data := make([]byte, PrimarySectors(sectorSize)*sectorSize)

	entries := data[2*sectorSize : 2*sectorSize+DefaultEntries*minEntrySize]
	for i, p := range parts {
		e := entries[i*minEntrySize:]
		e[0] = 0xAF // any non-zero type GUID
		e[16] = byte(i + 1)
		binary.LittleEndian.PutUint64(e[32:], p.first)
		binary.LittleEndian.PutUint64(e[40:], p.last)
		for j, c := range utf16.Encode([]rune(p.name)) {
			binary.LittleEndian.PutUint16(e[56+2*j:], c)
		}
	}

	hdr := data[sectorSize : 2*sectorSize]
	copy(hdr, signature)
	binary.LittleEndian.PutUint32(hdr[8:], 0x00010000)
	binary.LittleEndian.PutUint32(hdr[12:], minHeaderSize)
	binary.LittleEndian.PutUint64(hdr[24:], 1)
	binary.LittleEndian.PutUint64(hdr[40:], uint64(PrimarySectors(sectorSize)))
	binary.LittleEndian.PutUint64(hdr[48:], 1<<20)
	binary.LittleEndian.PutUint64(hdr[72:], 2)
	binary.LittleEndian.PutUint32(hdr[80:], DefaultEntries)
	binary.LittleEndian.PutUint32(hdr[84:], minEntrySize)
	binary.LittleEndian.PutUint32(hdr[88:], crc32.ChecksumIEEE(entries))
	binary.LittleEndian.PutUint32(hdr[16:], crc32.ChecksumIEEE(hdr[:minHeaderSize]))
	return data
}

func TestParse(t *testing.T) {
	for _, sectorSize := range []int{512, 4096} {
		data := buildGPT(sectorSize,
			testPart{"xbl_a", 6, 905},
			testPart{"boot_a", 2000, 18383},
			testPart{"dtbo_a", 906, 1999},
		)

		l, err := Parse(data, sectorSize)
		if err != nil {
			t.Fatalf("Parse(%d) error = %v", sectorSize, err)
		}
		if len(l.Partitions) != 3 {
			t.Fatalf("got %d partitions, want 3", len(l.Partitions))
		}

		p, ok := l.Lookup("boot_a")
		if !ok {
			t.Fatal("Lookup(boot_a) not found")
		}
		if p.FirstLBA != 2000 || p.Sectors() != 16384 {
			t.Errorf("boot_a = %+v", p)
		}
		if _, ok := l.Lookup("system_a"); ok {
			t.Error("Lookup(system_a) found a missing partition")
		}
		if got := l.LowestFree(); got != 18384 {
			t.Errorf("LowestFree() = %d, want 18384", got)
		}
	}
}

func TestLowestFreeEmpty(t *testing.T) {
	l, err := Parse(buildGPT(4096), 4096)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := l.LowestFree(); got != uint64(PrimarySectors(4096)) {
		t.Errorf("LowestFree() = %d, want first usable %d", got, PrimarySectors(4096))
	}
}

// withHeader copies data, lets edit change the header and fixes its crc.
func withHeader(data []byte, sectorSize int, edit func(hdr []byte)) []byte {
	out := append([]byte(nil), data...)
	hdr := out[sectorSize : 2*sectorSize]
	edit(hdr)
	binary.LittleEndian.PutUint32(hdr[16:], 0)
	binary.LittleEndian.PutUint32(hdr[16:], crc32.ChecksumIEEE(hdr[:minHeaderSize]))
	return out
}

func TestParseErrors(t *testing.T) {
	good := buildGPT(512, testPart{"a", 34, 100})

	noSig := append([]byte(nil), good...)
	noSig[512] = 'X'

	badCRC := append([]byte(nil), good...)
	badCRC[512+40]++

	badEntries := append([]byte(nil), good...)
	badEntries[2*512+100]++

	farEntries := withHeader(good, 512, func(hdr []byte) {
		binary.LittleEndian.PutUint64(hdr[72:], 1<<55-1)
	})
	manyEntries := withHeader(good, 512, func(hdr []byte) {
		binary.LittleEndian.PutUint32(hdr[80:], 0xFFFFFFFF)
		binary.LittleEndian.PutUint32(hdr[84:], 0xFFFFFFF8)
	})

	tests := []struct {
		name   string
		data   []byte
		wantIs error
	}{
		{"no signature", noSig, ErrNoGPT},
		{"header crc", badCRC, nil},
		{"entries crc", badEntries, nil},
		{"truncated", good[:600], nil},
		{"entries not read", good[:4*512], nil},
		{"entry lba overflows", farEntries, nil},
		{"entry array overflows", manyEntries, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data, 512)
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			if tt.wantIs != nil {
				if !errors.Is(err, tt.wantIs) {
					t.Errorf("error = %v, want %v", err, tt.wantIs)
				}
				return
			}
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Errorf("error = %v, want FormatError", err)
			}
		})
	}
}

func TestPrimarySectors(t *testing.T) {
	if got := PrimarySectors(512); got != 34 {
		t.Errorf("PrimarySectors(512) = %d, want 34", got)
	}
	if got := PrimarySectors(4096); got != 6 {
		t.Errorf("PrimarySectors(4096) = %d, want 6", got)
	}
}
