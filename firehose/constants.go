package firehose

// Response values.
const (
	ValueACK = "ACK"
	ValueNAK = "NAK"
)

// Storage types understood by the configure command.
const (
	MemoryEMMC   = "emmc"
	MemoryUFS    = "ufs"
	MemoryNAND   = "nand"
	MemorySPINOR = "spinor"
)

// Default sector sizes per storage type.
const (
	SectorSizeEMMC = 512
	SectorSizeUFS  = 4096
)

// DefaultMaxPayloadSize is the payload size the host advertises in configure
// unless told otherwise (1 MiB).
const DefaultMaxPayloadSize = 1 << 20

// DefaultMaxFrameSize bounds how much XML may be buffered without a complete frame.
const DefaultMaxFrameSize = 64 << 10

// xmlHeader prefixes every outbound document.
const xmlHeader = `<?xml version="1.0" ?>`

// Attribute names that appear in configure responses.
const (
	attrMaxPayloadToTarget          = "MaxPayloadSizeToTargetInBytes"
	attrMaxPayloadToTargetSupported = "MaxPayloadSizeToTargetInBytesSupported"
	attrMaxXMLSize                  = "MaxXMLSizeInBytes"
)

// DefaultSectorSize returns the conventional sector size for a storage type.
func DefaultSectorSize(memoryName string) int {
	switch memoryName {
	case MemoryUFS:
		return SectorSizeUFS
	default:
		return SectorSizeEMMC
	}
}
