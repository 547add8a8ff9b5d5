package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "i2cgpio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
buses:
  - name: ddc
    devices:
      - type: eeprom
        address: 0x50
        size: 256
        data: "00 ff ff ff ff ff ff 00"
  - name: spd
    devices:
      - type: eeprom
        address: 0x54
        size: 1024
        page_size: 16
        write_protect: true
capture:
  path: /tmp/bus.cbor
hardware:
  scl_pin: 2
  sda_pin: 3
  drive_pin: -1
  poll_interval: 5ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	require.Len(t, cfg.Buses, 2)
	assert.Equal(t, "spd", cfg.Buses[1].Name)

	ddc := cfg.Buses[0].Devices[0]
	assert.Equal(t, 0x50, ddc.Address)
	data, err := ddc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}, data)

	spd := cfg.Buses[1].Devices[0]
	assert.Equal(t, 4, spd.AddressCount())
	assert.True(t, spd.WriteProtect)

	assert.Equal(t, "/tmp/bus.cbor", cfg.Capture.Path)
	assert.Equal(t, 2, cfg.Hardware.SCLPin)
	assert.Equal(t, -1, cfg.Hardware.DrivePin)
	assert.Equal(t, 5*time.Millisecond, cfg.Hardware.PollInterval)
	assert.Equal(t, 0x04D8, cfg.Hardware.VID, "unset fields keep defaults")
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Buses, cfg.Buses)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "buses: [\n"))
	assert.ErrorContains(t, err, "parsing config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvCapture, "/var/tmp/capture.cbor")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/var/tmp/capture.cbor", cfg.Capture.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults",
			modify: func(c *Config) {},
		},
		{
			name:    "bad level",
			modify:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:    "bad format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "missing bus name",
			modify:  func(c *Config) { c.Buses[0].Name = "" },
			wantErr: "buses[0].name is required",
		},
		{
			name: "duplicate bus",
			modify: func(c *Config) {
				c.Buses = append(c.Buses, BusConfig{Name: "ddc"})
			},
			wantErr: "used twice",
		},
		{
			name:    "unknown device type",
			modify:  func(c *Config) { c.Buses[0].Devices[0].Type = "sensor" },
			wantErr: "not supported",
		},
		{
			name:    "bad size",
			modify:  func(c *Config) { c.Buses[0].Devices[0].Size = 300 },
			wantErr: "not a 24Cxx size",
		},
		{
			name: "range past end",
			modify: func(c *Config) {
				c.Buses[0].Devices[0].Address = 0x7e
				c.Buses[0].Devices[0].Size = 2048
			},
			wantErr: "does not fit 8 addresses",
		},
		{
			name: "overlap",
			modify: func(c *Config) {
				c.Buses[0].Devices = append(c.Buses[0].Devices,
					DeviceConfig{Type: DeviceTypeEEPROM, Address: 0x50, Size: 128})
			},
			wantErr: "already used",
		},
		{
			name:    "bad page size",
			modify:  func(c *Config) { c.Buses[0].Devices[0].PageSize = 12 },
			wantErr: "page_size",
		},
		{
			name:    "bad data",
			modify:  func(c *Config) { c.Buses[0].Devices[0].Data = "zz" },
			wantErr: "data",
		},
		{
			name:    "shared pins",
			modify:  func(c *Config) { c.Hardware.SDAPin = c.Hardware.SCLPin },
			wantErr: "sda_pin",
		},
		{
			name:    "drive on sampled pin",
			modify:  func(c *Config) { c.Hardware.DrivePin = c.Hardware.SDAPin },
			wantErr: "drive_pin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
