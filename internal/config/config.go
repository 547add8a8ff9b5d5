// Package config loads the YAML description of the emulated buses, their
// devices and the optional hardware front end.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/eeprom"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

// Environment variables that override file settings.
const (
	EnvLogLevel  = "I2CGPIO_LOG_LEVEL"
	EnvLogFormat = "I2CGPIO_LOG_FORMAT"
	EnvCapture   = "I2CGPIO_CAPTURE"
)

// DeviceTypeEEPROM is the only device type so far.
const DeviceTypeEEPROM = "eeprom"

// Config is the root configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Buses    []BusConfig    `yaml:"buses"`
	Capture  CaptureConfig  `yaml:"capture"`
	Hardware HardwareConfig `yaml:"hardware"`
}

// LoggingConfig selects level, format and destination of the log.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BusConfig is one named bus and the devices on it.
type BusConfig struct {
	Name    string         `yaml:"name"`
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one device.
type DeviceConfig struct {
	Type    string `yaml:"type"`
	Address int    `yaml:"address"`
	// Count is the number of addresses claimed. Zero means as many as the
	// device needs.
	Count int `yaml:"count"`

	Size         int    `yaml:"size"`
	PageSize     int    `yaml:"page_size"`
	WriteProtect bool   `yaml:"write_protect"`
	File         string `yaml:"file"`
	// Data preloads the memory, as hex digits. Whitespace is ignored.
	Data string `yaml:"data"`
}

// CaptureConfig enables traffic capture when Path is set.
type CaptureConfig struct {
	Path string `yaml:"path"`
}

// HardwareConfig selects the MCP2221 and the pins used by the attach
// command.
type HardwareConfig struct {
	VID          int           `yaml:"vid"`
	PID          int           `yaml:"pid"`
	Bus          string        `yaml:"bus"`
	SCLPin       int           `yaml:"scl_pin"`
	SDAPin       int           `yaml:"sda_pin"`
	DrivePin     int           `yaml:"drive_pin"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Load reads the configuration file at path. An empty path returns the
// defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a single DDC bus with an EDID sized EEPROM.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Buses: []BusConfig{
			{
				Name: "ddc",
				Devices: []DeviceConfig{
					{Type: DeviceTypeEEPROM, Address: 0x50, Size: int(eeprom.Size24C02)},
				},
			},
		},
		Hardware: HardwareConfig{
			VID:          0x04D8,
			PID:          0x00DD,
			Bus:          "ddc",
			SCLPin:       0,
			SDAPin:       1,
			DrivePin:     2,
			PollInterval: time.Millisecond,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvCapture); v != "" {
		cfg.Capture.Path = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not text or json", c.Logging.Format))
	}

	names := make(map[string]bool)
	for i, bus := range c.Buses {
		if bus.Name == "" {
			errs = append(errs, fmt.Sprintf("buses[%d].name is required", i))
		} else if names[bus.Name] {
			errs = append(errs, fmt.Sprintf("buses[%d].name %q is used twice", i, bus.Name))
		}
		names[bus.Name] = true

		used := make(map[int]int)
		for j, dev := range bus.Devices {
			prefix := fmt.Sprintf("buses[%d].devices[%d]", i, j)
			errs = append(errs, dev.validate(prefix)...)

			for a := dev.Address; a < dev.Address+dev.AddressCount(); a++ {
				if k, ok := used[a]; ok {
					errs = append(errs, fmt.Sprintf("%s: address 0x%02X already used by device %d", prefix, a, k))
				}
				used[a] = j
			}
		}
	}

	h := c.Hardware
	if h.VID < 0 || h.VID > 0xffff || h.PID < 0 || h.PID > 0xffff {
		errs = append(errs, "hardware.vid and hardware.pid must be 16-bit values")
	}
	if h.SCLPin < 0 || h.SCLPin > 3 || h.SDAPin < 0 || h.SDAPin > 3 || h.SCLPin == h.SDAPin {
		errs = append(errs, "hardware.scl_pin and hardware.sda_pin must be distinct pins 0-3")
	}
	if h.DrivePin < -1 || h.DrivePin > 3 || (h.DrivePin >= 0 && (h.DrivePin == h.SCLPin || h.DrivePin == h.SDAPin)) {
		errs = append(errs, "hardware.drive_pin must be -1 or a free pin 0-3")
	}
	if h.PollInterval < 0 {
		errs = append(errs, "hardware.poll_interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (d DeviceConfig) validate(prefix string) []string {
	var errs []string

	if d.Type != DeviceTypeEEPROM {
		errs = append(errs, fmt.Sprintf("%s.type %q is not supported", prefix, d.Type))
	}
	if !eeprom.Size(d.Size).Valid() {
		errs = append(errs, fmt.Sprintf("%s.size %d is not a 24Cxx size", prefix, d.Size))
	}
	if d.Count < 0 {
		errs = append(errs, fmt.Sprintf("%s.count must not be negative", prefix))
	}
	if !i2c.Address(d.Address).Valid() || d.Address < 0 || d.Address+d.AddressCount()-1 > int(i2c.MaxAddress) {
		errs = append(errs, fmt.Sprintf("%s.address 0x%02X does not fit %d addresses", prefix, d.Address, d.AddressCount()))
	}
	if d.PageSize != 0 && (d.PageSize&(d.PageSize-1) != 0 || d.PageSize > d.Size) {
		errs = append(errs, fmt.Sprintf("%s.page_size %d must be a power of two no larger than the device", prefix, d.PageSize))
	}
	if _, err := d.Bytes(); err != nil {
		errs = append(errs, fmt.Sprintf("%s.data: %v", prefix, err))
	}
	return errs
}

// AddressCount returns the number of addresses the device claims.
func (d DeviceConfig) AddressCount() int {
	if d.Count > 0 {
		return d.Count
	}
	return eeprom.Size(d.Size).Blocks()
}

// Bytes decodes Data.
func (d DeviceConfig) Bytes() ([]byte, error) {
	clean := strings.Join(strings.Fields(d.Data), "")
	return hex.DecodeString(clean)
}
