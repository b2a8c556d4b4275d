package image

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Android sparse image format.
const (
	SparseMagic = 0xED26FF3A

	sparseHeaderSize = 28
	chunkHeaderSize  = 12

	ChunkRaw      = 0xCAC1
	ChunkFill     = 0xCAC2
	ChunkDontCare = 0xCAC3
	ChunkCRC32    = 0xCAC4
)

// SparseHeader is the file header of a sparse image.
type SparseHeader struct {
	Major       uint16
	Minor       uint16
	HeaderSize  uint16
	ChunkHeader uint16
	BlockSize   uint32
	TotalBlocks uint32
	TotalChunks uint32
	Checksum    uint32
}

// ExpandedSize is the number of bytes the image describes.
func (h SparseHeader) ExpandedSize() int64 {
	return int64(h.BlockSize) * int64(h.TotalBlocks)
}

// Sparse is a sparse image expanded while it is read. Don't-care chunks
// expand to zeros.
type Sparse struct {
	Path   string
	Header SparseHeader
}

// IsSparse reports whether path starts with the sparse magic.
func IsSparse(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, fmt.Errorf("read image: %w", err)
	}
	return binary.LittleEndian.Uint32(magic[:]) == SparseMagic, nil
}

// NewSparse reads and validates the header of a sparse image.
func NewSparse(path string) (*Sparse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	h, err := readSparseHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Sparse{Path: path, Header: h}, nil
}

func (s *Sparse) Name() string { return s.Path }

func (s *Sparse) Size() int64 { return s.Header.ExpandedSize() }

func (s *Sparse) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	r, err := NewSparseReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return &limitedFile{Reader: r, Closer: f}, nil
}

func readSparseHeader(r io.Reader) (SparseHeader, error) {
	var raw [sparseHeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return SparseHeader{}, fmt.Errorf("read sparse header: %w", err)
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != SparseMagic {
		return SparseHeader{}, ErrNotSparse
	}

	h := SparseHeader{
		Major:       binary.LittleEndian.Uint16(raw[4:6]),
		Minor:       binary.LittleEndian.Uint16(raw[6:8]),
		HeaderSize:  binary.LittleEndian.Uint16(raw[8:10]),
		ChunkHeader: binary.LittleEndian.Uint16(raw[10:12]),
		BlockSize:   binary.LittleEndian.Uint32(raw[12:16]),
		TotalBlocks: binary.LittleEndian.Uint32(raw[16:20]),
		TotalChunks: binary.LittleEndian.Uint32(raw[20:24]),
		Checksum:    binary.LittleEndian.Uint32(raw[24:28]),
	}

	switch {
	case h.Major != 1:
		return h, &SparseFormatError{Reason: fmt.Sprintf("unsupported major version %d", h.Major)}
	case h.HeaderSize < sparseHeaderSize:
		return h, &SparseFormatError{Reason: fmt.Sprintf("file header size %d", h.HeaderSize)}
	case h.ChunkHeader < chunkHeaderSize:
		return h, &SparseFormatError{Reason: fmt.Sprintf("chunk header size %d", h.ChunkHeader)}
	case h.BlockSize == 0 || h.BlockSize%4 != 0:
		return h, &SparseFormatError{Reason: fmt.Sprintf("block size %d", h.BlockSize)}
	}

	if extra := int64(h.HeaderSize) - sparseHeaderSize; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return h, fmt.Errorf("skip sparse header: %w", err)
		}
	}
	return h, nil
}

// SparseReader expands a sparse image stream chunk by chunk.
type SparseReader struct {
	r      *bufio.Reader
	header SparseHeader

	chunk     int    // chunks consumed
	kind      uint16 // type of the current chunk
	remaining int64  // expanded bytes left in the current chunk
	fill      [4]byte
	fillPos   int
	emitted   int64
}

// NewSparseReader reads the file header from r.
func NewSparseReader(r io.Reader) (*SparseReader, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	h, err := readSparseHeader(br)
	if err != nil {
		return nil, err
	}
	return &SparseReader{r: br, header: h}, nil
}

// Header returns the sparse file header.
func (s *SparseReader) Header() SparseHeader {
	return s.header
}

func (s *SparseReader) Read(p []byte) (int, error) {
	for s.remaining == 0 {
		if s.chunk == int(s.header.TotalChunks) {
			if s.emitted != s.header.ExpandedSize() {
				return 0, &SparseFormatError{
					Reason: fmt.Sprintf("chunks expand to %d bytes, header says %d", s.emitted, s.header.ExpandedSize()),
				}
			}
			return 0, io.EOF
		}
		if err := s.nextChunk(); err != nil {
			return 0, err
		}
	}

	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}

	var n int
	switch s.kind {
	case ChunkRaw:
		var err error
		n, err = s.r.Read(p)
		if err != nil && n == 0 {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, fmt.Errorf("sparse chunk %d: %w", s.chunk, err)
		}
	case ChunkFill:
		for i := range p {
			p[i] = s.fill[s.fillPos]
			s.fillPos = (s.fillPos + 1) % 4
		}
		n = len(p)
	case ChunkDontCare:
		clear(p)
		n = len(p)
	}

	s.remaining -= int64(n)
	s.emitted += int64(n)
	return n, nil
}

func (s *SparseReader) nextChunk() error {
	var raw [chunkHeaderSize]byte
	if _, err := io.ReadFull(s.r, raw[:]); err != nil {
		return fmt.Errorf("sparse chunk %d header: %w", s.chunk, err)
	}
	if extra := int64(s.header.ChunkHeader) - chunkHeaderSize; extra > 0 {
		if _, err := io.CopyN(io.Discard, s.r, extra); err != nil {
			return fmt.Errorf("sparse chunk %d header: %w", s.chunk, err)
		}
	}

	kind := binary.LittleEndian.Uint16(raw[0:2])
	blocks := binary.LittleEndian.Uint32(raw[4:8])
	total := binary.LittleEndian.Uint32(raw[8:12])
	expanded := int64(blocks) * int64(s.header.BlockSize)
	dataSize := int64(total) - int64(s.header.ChunkHeader)
	s.chunk++

	switch kind {
	case ChunkRaw:
		if dataSize != expanded {
			return &SparseFormatError{Reason: fmt.Sprintf("raw chunk %d carries %d bytes for %d blocks", s.chunk, dataSize, blocks)}
		}
	case ChunkFill:
		if dataSize != 4 {
			return &SparseFormatError{Reason: fmt.Sprintf("fill chunk %d carries %d bytes", s.chunk, dataSize)}
		}
		if _, err := io.ReadFull(s.r, s.fill[:]); err != nil {
			return fmt.Errorf("sparse chunk %d fill value: %w", s.chunk, err)
		}
		s.fillPos = 0
	case ChunkDontCare:
		if dataSize != 0 {
			return &SparseFormatError{Reason: fmt.Sprintf("don't care chunk %d carries %d bytes", s.chunk, dataSize)}
		}
	case ChunkCRC32:
		if _, err := io.CopyN(io.Discard, s.r, dataSize); err != nil {
			return fmt.Errorf("sparse chunk %d crc: %w", s.chunk, err)
		}
		expanded = 0
	default:
		return &SparseFormatError{Reason: fmt.Sprintf("unknown chunk type 0x%04X", kind)}
	}

	if s.emitted+expanded > s.header.ExpandedSize() {
		return &SparseFormatError{Reason: fmt.Sprintf("chunk %d overruns the image", s.chunk)}
	}
	s.kind = kind
	s.remaining = expanded
	return nil
}

// SparseFormatError reports a corrupt sparse image.
type SparseFormatError struct {
	Reason string
}

func (e *SparseFormatError) Error() string {
	return "sparse image: " + e.Reason
}
