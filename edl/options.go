package edl

import (
	"time"

	"github.com/moffa90/go-qdl/firehose"
	"github.com/moffa90/go-qdl/logging"
)

// Config holds the flasher configuration.
type Config struct {
	// ProgressCallback is called as the run advances (optional)
	ProgressCallback ProgressCallback

	// ResultCallback receives per-entry outcomes (optional)
	ResultCallback ResultCallback

	// LogCallback receives the programmer's log lines (optional)
	LogCallback func(line string)

	// Logger is used for logging operations (optional)
	Logger logging.Logger

	// Storage is the configure MemoryName: ufs (default) or emmc
	Storage string

	// MaxPayloadSize is the raw chunk size offered in configure
	MaxPayloadSize int

	// SectorSize overrides the storage type's default sector size
	SectorSize int

	// SaharaTimeout bounds each receive during the handshake
	SaharaTimeout time.Duration

	// FirehoseTimeout bounds each receive once the programmer runs
	FirehoseTimeout time.Duration

	// Verbose asks the programmer for more log output
	Verbose bool

	// ResetOnFinish powers the device through a reset after finalizing
	ResetOnFinish bool

	// ProgressInterval is how many raw bytes pass between progress reports
	// inside one program operation
	ProgressInterval int64
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Logger:           logging.Discard,
		Storage:          firehose.MemoryUFS,
		MaxPayloadSize:   firehose.DefaultMaxPayloadSize,
		SaharaTimeout:    5 * time.Second,
		FirehoseTimeout:  10 * time.Second,
		ResetOnFinish:    true,
		ProgressInterval: 4 << 20,
	}
}

// Option is a functional option for configuring the Flasher.
type Option func(*Config)

// WithProgressCallback sets a callback function to track progress.
//
// Example:
//
//	f := edl.New(dev,
//	    edl.WithProgressCallback(func(p edl.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithResultCallback sets a callback for per-entry outcomes.
func WithResultCallback(callback ResultCallback) Option {
	return func(c *Config) {
		c.ResultCallback = callback
	}
}

// WithLogCallback sets a sink for the programmer's log lines.
func WithLogCallback(callback func(line string)) Option {
	return func(c *Config) {
		c.LogCallback = callback
	}
}

// WithLogger sets a logger for the flasher, its Sahara engine and its
// Firehose session.
//
// Example:
//
//	f := edl.New(dev, edl.WithLogger(myLogger))
func WithLogger(logger logging.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithStorage selects the storage type: "ufs" or "emmc".
func WithStorage(memoryName string) Option {
	return func(c *Config) {
		if memoryName != "" {
			c.Storage = memoryName
		}
	}
}

// WithMaxPayloadSize sets the raw chunk size offered in configure.
func WithMaxPayloadSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.MaxPayloadSize = size
		}
	}
}

// WithSectorSize overrides the default sector size of the storage type.
func WithSectorSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.SectorSize = size
		}
	}
}

// WithTimeout sets both the Sahara and the Firehose receive timeouts.
//
// Example:
//
//	f := edl.New(dev, edl.WithTimeout(30*time.Second))
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.SaharaTimeout = timeout
			c.FirehoseTimeout = timeout
		}
	}
}

// WithFirehoseTimeout sets the receive timeout once the programmer runs.
func WithFirehoseTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.FirehoseTimeout = timeout
		}
	}
}

// WithVerbose asks the programmer for verbose logs.
func WithVerbose(verbose bool) Option {
	return func(c *Config) {
		c.Verbose = verbose
	}
}

// WithResetOnFinish controls the power reset after a successful run.
// Default is true.
func WithResetOnFinish(reset bool) Option {
	return func(c *Config) {
		c.ResetOnFinish = reset
	}
}

// WithProgressInterval sets how many raw bytes pass between progress reports
// during one program operation.
func WithProgressInterval(n int64) Option {
	return func(c *Config) {
		if n > 0 {
			c.ProgressInterval = n
		}
	}
}
