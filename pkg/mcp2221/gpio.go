// Package mcp2221 uses the GPIO pins of a Microchip MCP2221 USB bridge to
// watch and drive a real pair of I2C lines, so an emulated bus can be
// attached to hardware.
package mcp2221

import (
	"errors"
	"fmt"
)

const (
	cmdGPIOSet byte = 0x50
	cmdGPIOGet byte = 0x51

	// PinCount is the number of GP pins.
	PinCount = 4

	wordSet     byte = 0xFF
	modeInvalid byte = 0xEE

	dirOutput byte = 0x00
	dirInput  byte = 0x01
)

var (
	// ErrPin is returned for pin numbers outside 0..3.
	ErrPin = errors.New("mcp2221: invalid GPIO pin")

	// ErrNotGPIO is returned when a pin is configured for another function.
	ErrNotGPIO = errors.New("mcp2221: pin not in GPIO mode")

	// ErrCommand is returned when the device reports a failed command.
	ErrCommand = errors.New("mcp2221: command failed")
)

// Transport exchanges one command report for one response report.
// *USBTransport implements it.
type Transport interface {
	WriteRead(cmd []byte) ([]byte, error)
	Close() error
}

var _ Transport = (*USBTransport)(nil)

// Device talks the MCP2221 GPIO commands over a transport.
type Device struct {
	t Transport
}

// New wraps a transport.
func New(t Transport) *Device {
	return &Device{t: t}
}

// Open opens the first MCP2221 with the given identifiers.
func Open(vid, pid uint16) (*Device, error) {
	t, err := NewUSBTransport(vid, pid)
	if err != nil {
		return nil, err
	}
	return New(t), nil
}

// Close closes the transport.
func (d *Device) Close() error {
	return d.t.Close()
}

func (d *Device) send(cmd byte, payload []byte) ([]byte, error) {
	msg := make([]byte, ReportSize)
	msg[0] = cmd
	copy(msg[1:], payload)

	rsp, err := d.t.WriteRead(msg)
	if err != nil {
		return nil, err
	}
	if len(rsp) < 2+2*PinCount {
		return nil, fmt.Errorf("%w: [cmd=0x%02X] short response (%d bytes)", ErrCommand, cmd, len(rsp))
	}
	if rsp[0] != cmd || rsp[1] != 0 {
		return nil, fmt.Errorf("%w: [cmd=0x%02X] status 0x%02X", ErrCommand, cmd, rsp[1])
	}
	return rsp, nil
}

// Levels reads all four pins with one command. Pins that are not in GPIO
// mode are reported through ok.
func (d *Device) Levels() (levels, ok [PinCount]bool, err error) {
	rsp, err := d.send(cmdGPIOGet, nil)
	if err != nil {
		return levels, ok, err
	}
	for pin := 0; pin < PinCount; pin++ {
		v := rsp[2+2*pin]
		if v == modeInvalid {
			continue
		}
		ok[pin] = true
		levels[pin] = v != 0
	}
	return levels, ok, nil
}

// Get reads one pin.
func (d *Device) Get(pin int) (bool, error) {
	if pin < 0 || pin >= PinCount {
		return false, fmt.Errorf("%w: %d", ErrPin, pin)
	}
	levels, ok, err := d.Levels()
	if err != nil {
		return false, err
	}
	if !ok[pin] {
		return false, fmt.Errorf("%w: %d", ErrNotGPIO, pin)
	}
	return levels[pin], nil
}

// Set drives pin as a push-pull output.
func (d *Device) Set(pin int, v bool) error {
	if pin < 0 || pin >= PinCount {
		return fmt.Errorf("%w: %d", ErrPin, pin)
	}

	payload := make([]byte, ReportSize-1)
	i := 1 + 4*pin // payload starts at report byte 1
	payload[i+0] = wordSet
	if v {
		payload[i+1] = 1
	}
	payload[i+2] = wordSet
	payload[i+3] = dirOutput

	_, err := d.send(cmdGPIOSet, payload)
	return err
}

// SetOpenDrain emulates an open-drain output: low pulls the pin down, high
// turns it into an input and lets the line float up.
func (d *Device) SetOpenDrain(pin int, v bool) error {
	if pin < 0 || pin >= PinCount {
		return fmt.Errorf("%w: %d", ErrPin, pin)
	}

	payload := make([]byte, ReportSize-1)
	i := 1 + 4*pin
	payload[i+2] = wordSet
	if v {
		payload[i+3] = dirInput
	} else {
		payload[i+0] = wordSet
		payload[i+1] = 0
		payload[i+3] = dirOutput
	}

	_, err := d.send(cmdGPIOSet, payload)
	return err
}
