package firehose

import (
	"time"

	"github.com/moffa90/go-qdl/logging"
)

// Config holds the session configuration.
type Config struct {
	// Logger is used for logging operations (optional)
	Logger logging.Logger

	// LogCallback receives every <log> line from the device (optional).
	// It is advisory and never affects control flow.
	LogCallback func(line string)

	// ReadTimeout bounds every transport receive
	ReadTimeout time.Duration

	// ReadSize is the receive buffer for XML frames
	ReadSize int

	// MaxFrameSize bounds buffered XML without a complete frame
	MaxFrameSize int

	// Pending seeds the receive buffer, e.g. with bytes left over by Sahara
	Pending []byte
}

func defaultConfig() Config {
	return Config{
		Logger:       logging.Discard,
		ReadTimeout:  10 * time.Second,
		ReadSize:     16 << 10,
		MaxFrameSize: DefaultMaxFrameSize,
	}
}

// Option is a functional option for configuring the Session.
type Option func(*Config)

// WithLogger sets a logger for the session.
func WithLogger(logger logging.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithLogCallback registers a sink for device log lines.
//
// Example:
//
//	s := firehose.New(t, firehose.WithLogCallback(func(line string) {
//	    fmt.Println("device:", line)
//	}))
func WithLogCallback(callback func(line string)) Option {
	return func(c *Config) {
		c.LogCallback = callback
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

// WithReadSize sets the receive buffer size for XML frames.
func WithReadSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.ReadSize = size
		}
	}
}

// WithMaxFrameSize sets how much unterminated XML is tolerated.
func WithMaxFrameSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.MaxFrameSize = size
		}
	}
}

// WithPending seeds the receive buffer with already received bytes.
func WithPending(p []byte) Option {
	return func(c *Config) {
		c.Pending = append([]byte(nil), p...)
	}
}
