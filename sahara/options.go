package sahara

import (
	"time"

	"github.com/moffa90/go-qdl/logging"
)

// Config holds the engine configuration.
type Config struct {
	// Logger is used for logging operations (optional)
	Logger logging.Logger

	// ReadTimeout bounds every transport receive
	ReadTimeout time.Duration

	// ReadSize is the receive buffer handed to the transport.
	// Keep it a multiple of the USB max packet size.
	ReadSize int

	// MaxReadRequests bounds the image transfer loop
	MaxReadRequests int

	// ProgressCallback is called after every served read request (optional)
	ProgressCallback ProgressCallback
}

// TransferProgress describes one served read request.
type TransferProgress struct {
	Offset    uint64
	Length    uint64
	Served    uint64 // total bytes sent so far, overlaps counted twice
	ImageSize int
}

// ProgressCallback receives image transfer progress. It must return quickly.
type ProgressCallback func(TransferProgress)

func defaultConfig() Config {
	return Config{
		Logger:          logging.Discard,
		ReadTimeout:     5 * time.Second,
		ReadSize:        4096,
		MaxReadRequests: 1 << 16,
	}
}

// Option is a functional option for configuring the Engine.
type Option func(*Config)

// WithLogger sets a logger for the engine.
func WithLogger(logger logging.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithTimeout sets the per-receive timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReadTimeout = timeout
		}
	}
}

// WithReadSize sets the receive buffer size.
func WithReadSize(size int) Option {
	return func(c *Config) {
		if size >= MaxPacketSize {
			c.ReadSize = size
		}
	}
}

// WithMaxReadRequests bounds how many read requests one handshake may issue.
func WithMaxReadRequests(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxReadRequests = n
		}
	}
}

// WithProgressCallback sets a callback invoked after every served read request.
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}
