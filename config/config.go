// Package config loads the YAML device-set configuration: which peripherals
// to poll, which measurement channels each carries, and the timing bounds for
// a cycle.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/makosa-irvin/blezero/sensor"
)

// measurements maps config measurement names to their characteristic UUIDs.
var measurements = map[string]string{
	"temperature": sensor.UUIDTemperature,
	"pressure":    sensor.UUIDPressure,
	"humidity":    sensor.UUIDHumidity,
	"irradiance":  sensor.UUIDIrradiance,
	"light":       sensor.UUIDIrradiance, // alias
}

// Duration wraps time.Duration so YAML values can be written as "5s", "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// ChannelConfig describes one measurement channel on one device.
type ChannelConfig struct {
	Caption     string    `yaml:"caption"`
	Measurement string    `yaml:"measurement"`
	// An explicit "samples: 0" is indistinguishable from leaving the key
	// out and takes the default rather than failing validation.
	Samples     int       `yaml:"samples" default:"160"`
	Range       []float64 `yaml:"range,omitempty"` // [lower, upper]; omit for autorange
}

// Build constructs the sensor channel described by this entry.
func (cc *ChannelConfig) Build() (*sensor.Channel, error) {
	uuid, ok := measurements[cc.Measurement]
	if !ok {
		return nil, fmt.Errorf("channel %q: unknown measurement %q", cc.Caption, cc.Measurement)
	}
	if len(cc.Range) == 2 {
		return sensor.NewChannelWithRange(cc.Caption, cc.Samples, uuid, cc.Range[0], cc.Range[1])
	}
	return sensor.NewChannel(cc.Caption, cc.Samples, uuid)
}

// DeviceConfig describes one peripheral and its channels.
type DeviceConfig struct {
	Name     string          `yaml:"name"`
	Channels []ChannelConfig `yaml:"channels"`
}

// BuildChannels constructs the device's channels in configured order.
func (dc *DeviceConfig) BuildChannels() ([]*sensor.Channel, error) {
	channels := make([]*sensor.Channel, 0, len(dc.Channels))
	for i := range dc.Channels {
		ch, err := dc.Channels[i].Build()
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", dc.Name, err)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// Config holds the application configuration.
type Config struct {
	LogLevel       string         `yaml:"log_level" default:"info"`
	Interval       Duration       `yaml:"interval"`
	ScanTimeout    Duration       `yaml:"scan_timeout"`
	ConnectTimeout Duration       `yaml:"connect_timeout"`
	ResolveTimeout Duration       `yaml:"resolve_timeout"`
	ReadTimeout    Duration       `yaml:"read_timeout"`
	Devices        []DeviceConfig `yaml:"devices"`
}

// DefaultConfig returns the default configuration values: the reference 5
// second scan window, a 1 second cycle interval, and no devices.
func DefaultConfig() *Config {
	cfg := &Config{
		Interval:       Duration(time.Second),
		ScanTimeout:    Duration(5 * time.Second),
		ConnectTimeout: Duration(10 * time.Second),
		ResolveTimeout: Duration(5 * time.Second),
		ReadTimeout:    Duration(5 * time.Second),
	}
	defaults.SetDefaults(cfg)
	return cfg
}

// Parse decodes YAML into a Config on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for i := range cfg.Devices {
		for j := range cfg.Devices[i].Channels {
			defaults.SetDefaults(&cfg.Devices[i].Channels[j])
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	return Parse(data)
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	for _, dev := range c.Devices {
		if dev.Name == "" {
			return fmt.Errorf("device with empty name")
		}
		if len(dev.Channels) == 0 {
			return fmt.Errorf("device %q has no channels", dev.Name)
		}
		for _, ch := range dev.Channels {
			if _, ok := measurements[ch.Measurement]; !ok {
				return fmt.Errorf("device %q channel %q: unknown measurement %q", dev.Name, ch.Caption, ch.Measurement)
			}
			if ch.Samples <= 0 {
				return fmt.Errorf("device %q channel %q: samples must be positive", dev.Name, ch.Caption)
			}
			switch len(ch.Range) {
			case 0:
			case 2:
				if ch.Range[0] >= ch.Range[1] {
					return fmt.Errorf("device %q channel %q: range lower bound must be below upper", dev.Name, ch.Caption)
				}
			default:
				return fmt.Errorf("device %q channel %q: range must be [lower, upper]", dev.Name, ch.Caption)
			}
		}
	}
	return nil
}

// NewLogger creates a logger configured from the LogLevel field.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
