package i2c

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Bus is a named set of devices keyed by address. It implements Registry and
// is safe for concurrent use, so devices may be attached while a line decoder
// is talking to the bus.
type Bus struct {
	name string
	log  *slog.Logger

	mu      sync.RWMutex
	devices map[Address]*claim
}

// claim is one attached range. Every address of the range maps to the same
// claim, so ranges are told apart without comparing devices.
type claim struct {
	base  Address
	count int
	dev   Device
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to trace device traffic at debug level.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBus creates an empty bus.
func NewBus(name string, opts ...BusOption) *Bus {
	b := &Bus{
		name:    name,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		devices: make(map[Address]*claim),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("bus", name)
	return b
}

// Name returns the bus name.
func (b *Bus) Name() string {
	return b.name
}

// Attach maps count consecutive addresses starting at base to dev. Nothing is
// attached if any address in the range is invalid or already taken.
func (b *Bus) Attach(base Address, count int, dev Device) error {
	if dev == nil {
		return fmt.Errorf("i2c: attach %s: nil device", base)
	}
	if count < 1 {
		count = 1
	}
	last := int(base) + count - 1
	if !base.Valid() || last > int(MaxAddress) {
		return fmt.Errorf("%w: %s+%d", ErrInvalidAddress, base, count)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for a := int(base); a <= last; a++ {
		if _, ok := b.devices[Address(a)]; ok {
			return fmt.Errorf("%w: %s on bus %q", ErrAddressInUse, Address(a), b.name)
		}
	}
	c := &claim{base: base, count: count, dev: dev}
	for a := int(base); a <= last; a++ {
		b.devices[Address(a)] = c
	}
	b.log.Debug("device attached", "address", base.String(), "count", count)
	return nil
}

// Detach removes the range attached at base and reports whether there was
// one. An address inside a range that is not its base detaches nothing.
func (b *Bus) Detach(base Address) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.devices[base]
	if !ok || c.base != base {
		return false
	}
	for a := int(c.base); a < int(c.base)+c.count; a++ {
		if b.devices[Address(a)] == c {
			delete(b.devices, Address(a))
		}
	}
	b.log.Debug("device detached", "address", base.String(), "count", c.count)
	return true
}

// Device returns the device mapped at addr.
func (b *Bus) Device(addr Address) (Device, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.devices[addr]
	if !ok {
		return nil, false
	}
	return c.dev, true
}

// Addresses lists the occupied addresses in ascending order.
func (b *Bus) Addresses() []Address {
	b.mu.RLock()
	defer b.mu.RUnlock()

	addrs := make([]Address, 0, len(b.devices))
	for a := range b.devices {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// HasDevice implements Registry.
func (b *Bus) HasDevice(addr Address) bool {
	_, ok := b.Device(addr)
	return ok
}

// Start implements Registry.
func (b *Bus) Start(addr Address) {
	if dev, ok := b.Device(addr); ok {
		b.log.Debug("start", "address", addr.String())
		dev.Start(addr)
	}
}

// Stop implements Registry.
func (b *Bus) Stop(addr Address) {
	if dev, ok := b.Device(addr); ok {
		b.log.Debug("stop", "address", addr.String())
		dev.Stop(addr)
	}
}

// Read implements Registry. Unmapped addresses read as a released bus.
func (b *Bus) Read(addr Address) byte {
	dev, ok := b.Device(addr)
	if !ok {
		return Released
	}
	v := dev.Read(addr)
	b.log.Debug("read", "address", addr.String(), "value", fmt.Sprintf("%#02x", v))
	return v
}

// Write implements Registry.
func (b *Bus) Write(addr Address, v byte) {
	if dev, ok := b.Device(addr); ok {
		b.log.Debug("write", "address", addr.String(), "value", fmt.Sprintf("%#02x", v))
		dev.Write(addr, v)
	}
}

// Compile-time interface satisfaction check.
var _ Registry = (*Bus)(nil)
