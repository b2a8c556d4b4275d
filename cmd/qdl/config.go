package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-qdl/firehose"
)

// Config holds the qdl settings. The YAML file supplies defaults; flags that
// were set on the command line win.
type Config struct {
	Storage              string        `yaml:"storage"`
	Include              []string      `yaml:"include"`
	Serial               string        `yaml:"serial"`
	MaxPayloadSize       int           `yaml:"max_payload_size"`
	FinalizeProvisioning bool          `yaml:"finalize_provisioning"`
	NoReset              bool          `yaml:"no_reset"`
	DeviceLog            string        `yaml:"device_log"`
	Timeout              time.Duration `yaml:"timeout"`
	Wait                 time.Duration `yaml:"wait"`
	Debug                bool          `yaml:"debug"`
}

func defaultConfig() Config {
	return Config{
		Storage:        firehose.MemoryUFS,
		MaxPayloadSize: firehose.DefaultMaxPayloadSize,
		Timeout:        10 * time.Second,
	}
}

// DefaultConfigPath returns the default config file path: <user config dir>/qdl/config.yaml
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "qdl.yaml")
	}
	return filepath.Join(dir, "qdl", "config.yaml")
}

// LoadConfig reads the configuration from the given YAML file path.
// A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// flagValues holds what the command line said.
type flagValues struct {
	config               string
	storage              string
	include              []string
	serial               string
	maxPayloadSize       int
	finalizeProvisioning bool
	noReset              bool
	deviceLog            string
	timeout              time.Duration
	wait                 time.Duration
	debug                bool
}

// override copies every flag the user set into cfg.
func (v *flagValues) override(cfg *Config, flags *pflag.FlagSet) {
	if flags.Changed("storage") {
		cfg.Storage = v.storage
	}
	if flags.Changed("include") {
		cfg.Include = v.include
	}
	if flags.Changed("serial") {
		cfg.Serial = v.serial
	}
	if flags.Changed("max-payload-size") {
		cfg.MaxPayloadSize = v.maxPayloadSize
	}
	if flags.Changed("finalize-provisioning") {
		cfg.FinalizeProvisioning = v.finalizeProvisioning
	}
	if flags.Changed("no-reset") {
		cfg.NoReset = v.noReset
	}
	if flags.Changed("device-log") {
		cfg.DeviceLog = v.deviceLog
	}
	if flags.Changed("timeout") {
		cfg.Timeout = v.timeout
	}
	if flags.Changed("wait") {
		cfg.Wait = v.wait
	}
	if flags.Changed("debug") {
		cfg.Debug = v.debug
	}
}
