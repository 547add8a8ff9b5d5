// Package i2c holds the device side of an emulated I2C bus: 7-bit addresses,
// the Device interface implemented by peripherals, and the Bus registry that
// maps addresses to devices.
//
// The line-level protocol lives in package i2cgpio, which consumes a bus
// through the Registry interface. Keeping the two apart lets the registry be
// driven by anything that already speaks in bytes (a test, a capture replay)
// and lets the line decoder be tested against a fake registry.
package i2c

import (
	"errors"
	"fmt"
)

// Address is a 7-bit I2C device address.
type Address uint8

// MaxAddress is the highest valid 7-bit address.
const MaxAddress Address = 0x7f

// Valid reports whether the address fits in 7 bits.
func (a Address) Valid() bool {
	return a <= MaxAddress
}

func (a Address) String() string {
	return fmt.Sprintf("0x%02X", uint8(a))
}

// Device is a peripheral attached to a Bus. Every call carries the address
// the master used, so a device spanning several addresses can tell them apart.
type Device interface {
	Start(addr Address)
	Read(addr Address) byte
	Write(addr Address, b byte)
	Stop(addr Address)
}

// Registry is the byte-level view of a bus used by the line decoder.
type Registry interface {
	HasDevice(addr Address) bool
	Start(addr Address)
	Stop(addr Address)
	Read(addr Address) byte
	Write(addr Address, b byte)
}

// Released is the value read from an address nobody drives.
const Released byte = 0xff

var (
	ErrInvalidAddress = errors.New("i2c: invalid address")
	ErrAddressInUse   = errors.New("i2c: address already in use")
	ErrBusExists      = errors.New("i2c: bus already exists")
	ErrNoBus          = errors.New("i2c: no such bus")
)
