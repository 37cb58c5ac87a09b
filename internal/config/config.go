// Package config loads pcapfwd settings from command line flags, environment
// variables (PCAPFWD_*) and an optional YAML file, in that order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	pcap "github.com/packetcap/go-pcapfwd"
	"github.com/packetcap/go-pcapfwd/savefile"
)

// ErrNoInputOutput a device was given without anything to do with it
var ErrNoInputOutput = errors.New("required input or output")

// Mode what a run does
type Mode int

const (
	ModeList Mode = iota
	ModeCapture
	ModeReplay
)

func (m Mode) String() string {
	switch m {
	case ModeCapture:
		return "capture"
	case ModeReplay:
		return "replay"
	default:
		return "list"
	}
}

// Config all settings of one run
type Config struct {
	Input      string  `mapstructure:"input" yaml:"input"`
	Output     string  `mapstructure:"output" yaml:"output"`
	Device     string  `mapstructure:"device" yaml:"device"`
	BufferSize int     `mapstructure:"buffer_size" yaml:"buffer_size"`
	Timeout    int     `mapstructure:"timeout" yaml:"timeout"` // milliseconds, 0 waits forever
	Snaplen    int     `mapstructure:"snaplen" yaml:"snaplen"`
	Promisc    bool    `mapstructure:"promisc" yaml:"promisc"`
	Rfmon      bool    `mapstructure:"rfmon" yaml:"rfmon"`
	Immediate  bool    `mapstructure:"immediate" yaml:"immediate"`
	Verbose    bool    `mapstructure:"verbose" yaml:"verbose"`
	Format     string  `mapstructure:"format" yaml:"format"`
	Count      uint64  `mapstructure:"count" yaml:"count"`
	Speed      float64 `mapstructure:"speed" yaml:"speed"`
	Waveform   string  `mapstructure:"waveform" yaml:"waveform"`

	Log LogConfig `mapstructure:"log" yaml:"log"`
}

// LogConfig logging settings; File enables a rotated log file next to stderr
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // trace / debug / info / warn / error
	Format     string `mapstructure:"format" yaml:"format"` // text / json
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// flagKeys maps command line flags onto configuration keys
var flagKeys = map[string]string{
	"input":           "input",
	"output":          "output",
	"device":          "device",
	"buffer-size":     "buffer_size",
	"timeout":         "timeout",
	"snaplen":         "snaplen",
	"promisc":         "promisc",
	"rfmon":           "rfmon",
	"immediate":       "immediate",
	"verbose":         "verbose",
	"format":          "format",
	"count":           "count",
	"speed":           "speed",
	"waveform":        "waveform",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"log-file":        "log.file",
	"log-max-size":    "log.max_size_mb",
	"log-max-backups": "log.max_backups",
	"log-max-age":     "log.max_age_days",
	"log-compress":    "log.compress",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input", "")
	v.SetDefault("output", "")
	v.SetDefault("device", "")
	v.SetDefault("buffer_size", pcap.DefaultBufferSize)
	v.SetDefault("timeout", 0)
	v.SetDefault("snaplen", pcap.DefaultSnaplen)
	v.SetDefault("promisc", false)
	v.SetDefault("rfmon", false)
	v.SetDefault("immediate", false)
	v.SetDefault("verbose", false)
	v.SetDefault("format", savefile.FormatPcap)
	v.SetDefault("count", 0)
	v.SetDefault("speed", 0)
	v.SetDefault("waveform", "")

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}

// Load merge defaults, the YAML file at path (if not empty), PCAPFWD_*
// environment variables and the flags that were set, then validate.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PCAPFWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "failed to bind flag --%s", name)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		log.WithField("file", v.ConfigFileUsed()).Debug("loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, rejectUnknownKeys); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return &cfg, nil
}

// rejectUnknownKeys turns typos in the config file into errors
func rejectUnknownKeys(dc *mapstructure.DecoderConfig) {
	dc.ErrorUnused = true
}

// Validate check ranges and the combination of input, output and device.
func (c *Config) Validate() error {
	if c.Input != "" && c.Output != "" {
		return errors.New("input and output are mutually exclusive")
	}
	if c.Device != "" && c.Input == "" && c.Output == "" {
		return ErrNoInputOutput
	}
	if c.BufferSize <= 0 {
		return errors.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.Timeout < 0 {
		return errors.Errorf("timeout must not be negative, got %d", c.Timeout)
	}
	if c.Snaplen <= 0 || c.Snaplen > maxSnaplen {
		return errors.Errorf("snaplen must be between 1 and %d, got %d", maxSnaplen, c.Snaplen)
	}
	if !savefile.ValidFormat(c.Format) {
		return errors.Errorf("format must be %s or %s, got %q", savefile.FormatPcap, savefile.FormatPcapNG, c.Format)
	}
	if c.Speed < 0 {
		return errors.Errorf("speed must not be negative, got %v", c.Speed)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// largest snap length libpcap accepts
const maxSnaplen = 262144

// Mode the kind of run the configuration asks for. Without a device the
// available devices are listed.
func (c *Config) Mode() Mode {
	switch {
	case c.Device == "":
		return ModeList
	case c.Output != "":
		return ModeCapture
	default:
		return ModeReplay
	}
}

// YAML the configuration in the format Load reads
func (c *Config) YAML() ([]byte, error) {
	b, err := yaml.Marshal(c)
	return b, errors.Wrap(err, "failed to marshal config")
}

// Capture the handle settings
func (c *Config) Capture() pcap.Config {
	return pcap.Config{
		Device:      c.Device,
		BufferSize:  c.BufferSize,
		Timeout:     time.Duration(c.Timeout) * time.Millisecond,
		Snaplen:     int32(c.Snaplen),
		Promiscuous: c.Promisc,
		Monitor:     c.Rfmon,
		Immediate:   c.Immediate,
	}
}
