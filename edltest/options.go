package edltest

import "github.com/moffa90/go-qdl/sahara"

// Config describes how the simulated device behaves.
type Config struct {
	// Sahara
	SaharaVersion    uint32
	SaharaCompatible uint32
	Mode             sahara.Mode
	ImageID          uint32
	ProgrammerSize   int
	ReadChunk        int
	TransferStatus   uint32

	// SkipSahara starts the device with the programmer already running
	SkipSahara bool

	// Greeting is logged by the programmer right after it starts
	Greeting string

	// FragmentSize caps every Receive, splitting frames across transfers
	FragmentSize int

	// MaxPayload is the largest raw transfer the programmer accepts
	MaxPayload int

	// StrictPayload NAKs an oversized configure instead of lowering it
	StrictPayload bool

	// NAK is consulted for every request before it is handled
	NAK NAKFunc

	// FailWrite is consulted after the raw data of a program arrived
	FailWrite NAKFunc

	// HangAfter stops answering after that many Firehose requests (0 = never)
	HangAfter int

	DiskSectors uint64
	SectorSize  int

	// Storage seeds physical partitions
	Storage map[int][]byte
}

func defaultConfig() Config {
	return Config{
		SaharaVersion:    2,
		SaharaCompatible: 1,
		Mode:             sahara.ModeImageTransferPending,
		ImageID:          13,
		ProgrammerSize:   4096,
		ReadChunk:        2048,
		TransferStatus:   sahara.StatusSuccess,
		MaxPayload:       1 << 20,
		DiskSectors:      1 << 20,
		SectorSize:       4096,
	}
}

// Option configures a Device.
type Option func(*Config)

// WithProgrammerSize sets how many programmer bytes the device pulls.
func WithProgrammerSize(n int) Option {
	return func(c *Config) { c.ProgrammerSize = n }
}

// WithReadChunk sets the size of each ReadData request.
func WithReadChunk(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ReadChunk = n
		}
	}
}

// WithSaharaVersion sets the version and compatible fields of Hello.
func WithSaharaVersion(version, compatible uint32) Option {
	return func(c *Config) {
		c.SaharaVersion = version
		c.SaharaCompatible = compatible
	}
}

// WithMode sets the Sahara mode announced in Hello.
func WithMode(m sahara.Mode) Option {
	return func(c *Config) { c.Mode = m }
}

// WithTransferStatus sets the EndImageTransfer status.
func WithTransferStatus(status uint32) Option {
	return func(c *Config) { c.TransferStatus = status }
}

// WithProgrammerRunning skips Sahara.
func WithProgrammerRunning() Option {
	return func(c *Config) { c.SkipSahara = true }
}

// WithGreeting makes the programmer log line after Sahara completes.
func WithGreeting(line string) Option {
	return func(c *Config) { c.Greeting = line }
}

// WithFragmentSize splits device output into pieces of at most n bytes.
func WithFragmentSize(n int) Option {
	return func(c *Config) { c.FragmentSize = n }
}

// WithMaxPayload sets the largest raw transfer the programmer accepts.
// With strict set, a larger configure request is NAKed with the supported size.
func WithMaxPayload(n int, strict bool) Option {
	return func(c *Config) {
		c.MaxPayload = n
		c.StrictPayload = strict
	}
}

// WithNAK installs a hook that can refuse any request.
func WithNAK(fn NAKFunc) Option {
	return func(c *Config) { c.NAK = fn }
}

// WithFailWrite installs a hook that can fail a program after its data arrived.
func WithFailWrite(fn NAKFunc) Option {
	return func(c *Config) { c.FailWrite = fn }
}

// WithHangAfter stops the device answering after n Firehose requests.
func WithHangAfter(n int) Option {
	return func(c *Config) { c.HangAfter = n }
}

// WithDisk sets the disk geometry.
func WithDisk(sectors uint64, sectorSize int) Option {
	return func(c *Config) {
		c.DiskSectors = sectors
		c.SectorSize = sectorSize
	}
}

// WithStorage seeds physical partition n with data.
func WithStorage(n int, data []byte) Option {
	return func(c *Config) {
		if c.Storage == nil {
			c.Storage = make(map[int][]byte)
		}
		c.Storage[n] = data
	}
}
