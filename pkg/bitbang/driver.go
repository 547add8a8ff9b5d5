// Package bitbang is a software I2C master that produces legal SCL/SDA
// waveforms one level change at a time. It is used to exercise emulated buses
// without a real host driver.
package bitbang

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

// ErrNack is returned when a byte is not acknowledged.
var ErrNack = errors.New("bitbang: not acknowledged")

// Lines is the far side of the bus. Set receives the levels the master
// drives; SCL and SDA report what the far side drives back. The effective
// bus level is the wired-AND of both.
type Lines interface {
	Set(scl, sda bool)
	SCL() bool
	SDA() bool
}

// Observer is called with the effective bus levels after every change.
type Observer func(scl, sda bool)

// Driver is a bit-banging I2C master.
type Driver struct {
	lines Lines
	log   *slog.Logger
	obs   []Observer

	// outputs of the master
	scl, sda bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger traces bytes and conditions at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithObserver adds an observer of the effective bus levels.
func WithObserver(o Observer) Option {
	return func(d *Driver) {
		if o != nil {
			d.obs = append(d.obs, o)
		}
	}
}

// New creates a driver with both lines released. The released levels are
// sent to lines immediately.
func New(lines Lines, opts ...Option) *Driver {
	d := &Driver{
		lines: lines,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.set(true, true)
	return d
}

// SCL returns the effective clock level.
func (d *Driver) SCL() bool {
	return d.scl && d.lines.SCL()
}

// SDA returns the effective data level.
func (d *Driver) SDA() bool {
	return d.sda && d.lines.SDA()
}

// SetLines drives raw levels. It is the escape hatch for waveforms the other
// methods do not produce.
func (d *Driver) SetLines(scl, sda bool) {
	d.set(scl, sda)
}

func (d *Driver) set(scl, sda bool) {
	d.scl, d.sda = scl, sda
	d.lines.Set(scl, sda)

	if len(d.obs) > 0 {
		escl, esda := d.SCL(), d.SDA()
		for _, o := range d.obs {
			o(escl, esda)
		}
	}
}

// Start issues a start condition, or a repeated start inside a transfer. The
// clock is left low.
func (d *Driver) Start() {
	d.log.Debug("start")
	if d.scl && !d.sda {
		d.set(false, false)
	}
	if !d.sda {
		d.set(false, true)
	}
	if !d.scl {
		d.set(true, true)
	}
	d.set(true, false)
	d.set(false, false)
}

// Stop issues a stop condition and leaves both lines released.
func (d *Driver) Stop() {
	d.log.Debug("stop")
	if d.scl {
		d.set(false, d.sda)
	}
	if d.sda {
		d.set(false, false)
	}
	d.set(true, false)
	d.set(true, true)
}

func (d *Driver) clock(bit bool) {
	d.set(false, bit)
	d.set(true, bit)
	d.set(false, bit)
}

// WriteByte shifts b out MSB first and reports whether the far side
// acknowledged it.
func (d *Driver) WriteByte(b byte) bool {
	for i := 7; i >= 0; i-- {
		d.clock(b&(1<<i) != 0)
	}

	d.set(false, true)
	d.set(true, true)
	ack := !d.SDA()
	d.set(false, true)

	d.log.Debug("write byte", "value", fmt.Sprintf("%#02x", b), "ack", ack)
	return ack
}

// ReadByte shifts a byte in, sampling after each rising clock edge, and
// answers with an acknowledge when ack is set.
func (d *Driver) ReadByte(ack bool) byte {
	var b byte
	for i := 0; i < 8; i++ {
		d.set(false, true)
		d.set(true, true)
		b <<= 1
		if d.SDA() {
			b |= 1
		}
		d.set(false, true)
	}
	d.clock(!ack)

	d.log.Debug("read byte", "value", fmt.Sprintf("%#02x", b), "ack", ack)
	return b
}

func (d *Driver) address(addr i2c.Address, read bool) error {
	if !addr.Valid() {
		return fmt.Errorf("bitbang: %w: %s", i2c.ErrInvalidAddress, addr)
	}
	b := byte(addr) << 1
	if read {
		b |= 1
	}
	if !d.WriteByte(b) {
		return fmt.Errorf("%w: address %s", ErrNack, addr)
	}
	return nil
}

func (d *Driver) send(data []byte) error {
	for i, b := range data {
		if !d.WriteByte(b) {
			return fmt.Errorf("%w: byte %d (%#02x)", ErrNack, i, b)
		}
	}
	return nil
}

func (d *Driver) receive(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = d.ReadByte(i < n-1)
	}
	return out
}

// Write performs a complete write transaction to addr.
func (d *Driver) Write(addr i2c.Address, data []byte) error {
	d.Start()
	defer d.Stop()

	if err := d.address(addr, false); err != nil {
		return err
	}
	return d.send(data)
}

// Read performs a complete read transaction of n bytes from addr. Every byte
// but the last is acknowledged.
func (d *Driver) Read(addr i2c.Address, n int) ([]byte, error) {
	if n < 1 {
		return nil, fmt.Errorf("bitbang: read of %d bytes", n)
	}

	d.Start()
	defer d.Stop()

	if err := d.address(addr, true); err != nil {
		return nil, err
	}
	return d.receive(n), nil
}

// WriteRead writes w to addr, then reads n bytes after a repeated start. This
// is the usual way of reading a register or an EEPROM location.
func (d *Driver) WriteRead(addr i2c.Address, w []byte, n int) ([]byte, error) {
	if n < 1 {
		return nil, fmt.Errorf("bitbang: read of %d bytes", n)
	}

	d.Start()
	defer d.Stop()

	if err := d.address(addr, false); err != nil {
		return nil, err
	}
	if err := d.send(w); err != nil {
		return nil, err
	}

	d.Start()
	if err := d.address(addr, true); err != nil {
		return nil, err
	}
	return d.receive(n), nil
}
