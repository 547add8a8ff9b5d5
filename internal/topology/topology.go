// Package topology wires the buses, endpoints and devices described by a
// configuration into a running emulation.
package topology

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/OpenTraceLab/OpenTraceI2C/internal/config"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/eeprom"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2cgpio"
)

// DeviceInfo describes one attached device.
type DeviceInfo struct {
	Bus     string
	Type    string
	Address i2c.Address
	Count   int
	Size    eeprom.Size
	File    string
}

type imageFile struct {
	dev  *eeprom.EEPROM
	path string
	// missing is set until the image has been written once.
	missing bool
}

// Topology is a built set of buses.
type Topology struct {
	Hub *i2c.Hub

	log       *slog.Logger
	endpoints map[string]*i2cgpio.Endpoint
	buses     map[string]*i2c.Bus
	devices   []DeviceInfo
	images    []*imageFile

	sink    *capture.FileSink
	session string
}

// Build creates every bus and device in cfg. A capture file is opened when
// cfg.Capture.Path is set. On error everything built so far is released.
func Build(cfg *config.Config, log *slog.Logger) (t *Topology, err error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	t = &Topology{
		Hub:       i2c.NewHub(log),
		log:       log,
		endpoints: make(map[string]*i2cgpio.Endpoint),
		buses:     make(map[string]*i2c.Bus),
		session:   uuid.New().String(),
	}
	defer func() {
		if err != nil {
			t.closeEndpoints()
			if t.sink != nil {
				t.sink.Close()
			}
			t = nil
		}
	}()

	if cfg.Capture.Path != "" {
		if t.sink, err = capture.NewFileSink(cfg.Capture.Path); err != nil {
			return t, fmt.Errorf("topology: capture: %w", err)
		}
		log.Info("capturing bus traffic", "path", cfg.Capture.Path, "session", t.session)
	}

	for _, bc := range cfg.Buses {
		if err = t.addBus(bc); err != nil {
			return t, err
		}
	}
	return t, nil
}

func (t *Topology) addBus(bc config.BusConfig) error {
	opts := []i2cgpio.Option{i2cgpio.WithLogger(t.log)}

	var (
		ep  *i2cgpio.Endpoint
		bus *i2c.Bus
		err error
	)
	if t.sink == nil {
		opts = append(opts, i2cgpio.WithMissHandler(func(addr i2c.Address, read bool) {
			t.log.Debug("no device at address", "bus", bc.Name, "address", addr.String(), "read", read)
		}))
		if ep, err = i2cgpio.New(t.Hub, bc.Name, opts...); err != nil {
			return fmt.Errorf("topology: %w", err)
		}
		bus = ep.Bus()
	} else {
		if bus, err = t.Hub.AddBus(bc.Name); err != nil {
			return fmt.Errorf("topology: %w", err)
		}
		rec := capture.NewRecorder(bus, bc.Name, t.sink, capture.WithSession(t.session))
		opts = append(opts, i2cgpio.WithMissHandler(rec.Miss))
		ep = i2cgpio.Attach(bc.Name, rec, opts...)
	}
	t.endpoints[bc.Name] = ep
	t.buses[bc.Name] = bus

	for _, dc := range bc.Devices {
		if err := t.addDevice(bus, dc); err != nil {
			return fmt.Errorf("topology: bus %q: %w", bc.Name, err)
		}
	}
	return nil
}

func (t *Topology) addDevice(bus *i2c.Bus, dc config.DeviceConfig) error {
	if dc.Type != config.DeviceTypeEEPROM {
		return fmt.Errorf("device type %q is not supported", dc.Type)
	}

	data, err := dc.Bytes()
	if err != nil {
		return fmt.Errorf("device 0x%02X: data: %w", dc.Address, err)
	}

	size := eeprom.Size(dc.Size)
	dev := eeprom.New(size,
		eeprom.WithLogger(t.log),
		eeprom.WithPageSize(dc.PageSize),
		eeprom.WithWriteProtect(dc.WriteProtect),
		eeprom.WithData(data),
	)

	if dc.File != "" {
		img := &imageFile{dev: dev, path: dc.File}
		if err := dev.Load(dc.File); errors.Is(err, os.ErrNotExist) {
			img.missing = true
		} else if err != nil {
			return err
		}
		t.images = append(t.images, img)
	}

	addr := i2c.Address(dc.Address)
	if err := bus.Attach(addr, dc.AddressCount(), dev); err != nil {
		return err
	}

	t.devices = append(t.devices, DeviceInfo{
		Bus:     bus.Name(),
		Type:    dc.Type,
		Address: addr,
		Count:   dc.AddressCount(),
		Size:    size,
		File:    dc.File,
	})
	return nil
}

// Endpoint returns the endpoint of the named bus.
func (t *Topology) Endpoint(name string) (*i2cgpio.Endpoint, error) {
	ep, ok := t.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("topology: %w: %q", i2c.ErrNoBus, name)
	}
	return ep, nil
}

// Bus returns the device registry of the named bus.
func (t *Topology) Bus(name string) (*i2c.Bus, error) {
	return t.Hub.Bus(name)
}

// Names returns the bus names in sorted order.
func (t *Topology) Names() []string {
	names := make([]string, 0, len(t.endpoints))
	for name := range t.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Devices returns the attached devices in configuration order.
func (t *Topology) Devices() []DeviceInfo {
	return append([]DeviceInfo(nil), t.devices...)
}

// Session returns the capture session id.
func (t *Topology) Session() string {
	return t.session
}

// Save writes every file-backed EEPROM that changed since it was loaded,
// and creates the images that did not exist yet.
func (t *Topology) Save() error {
	var errs []error
	for _, img := range t.images {
		if !img.missing && img.dev.IsSaved() {
			continue
		}
		if err := img.dev.Save(img.path); err != nil {
			errs = append(errs, err)
			continue
		}
		img.missing = false
	}
	return errors.Join(errs...)
}

func (t *Topology) closeEndpoints() {
	for name, ep := range t.endpoints {
		ep.Close()
		t.Hub.RemoveBus(t.buses[name])
	}
	t.endpoints = map[string]*i2cgpio.Endpoint{}
}

// Close saves changed EEPROM images, removes the buses and closes the
// capture file.
func (t *Topology) Close() error {
	errs := []error{t.Save()}
	t.closeEndpoints()
	if t.sink != nil {
		errs = append(errs, t.sink.Close())
		t.sink = nil
	}
	return errors.Join(errs...)
}
