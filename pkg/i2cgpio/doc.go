// Package i2cgpio emulates an I2C bus whose SCL and SDA lines are driven as
// plain GPIO levels, such as the DDC or SPD lines exposed through a graphics
// or chipset GPIO register.
//
// The caller owns the electrical side. Every time it observes a change on
// either line it calls Endpoint.Set with the new levels; the endpoint
// reconstructs start and stop conditions, bytes and acknowledge cycles from
// the edges alone and forwards complete transfers to an i2c.Registry. After
// each call the caller reads back SCL and SDA to learn what the endpoint
// drives, and combines that with its own outputs (open drain: the line is the
// logical AND of all drivers).
//
// # Structure
//
// Two state machines cooperate:
//   - The line decoder (State) reacts to clock edges and to data edges while
//     the clock is held high. It shifts bits in and out of a single byte
//     register and handles the acknowledge slot after every byte.
//   - The transfer controller (TransferState) interprets complete bytes: the
//     first byte after a start carries the 7-bit address and the read flag,
//     later bytes are written to the addressed device, and reads fetch bytes
//     from it.
//
// # Usage
//
//	hub := i2c.NewHub(nil)
//	ep, err := i2cgpio.New(hub, "ddc")
//	if err != nil {
//		return err
//	}
//	defer ep.Close()
//
//	ep.Bus().Attach(0x50, 1, eeprom.New(eeprom.Size24C02))
//
//	// for every observed line change
//	ep.Set(scl, sda)
//	sdaOut := ep.SDA()
//
// # Timing
//
// There is no notion of time. Only the order of calls matters, and calls with
// unchanged levels are no-ops, so the endpoint can be sampled at any rate.
//
// # Compatibility
//
// A start condition is accepted from Idle whenever SDA falls with SCL high,
// without requiring a clock-high sample first. Address bytes for which no
// device exists are acknowledged and the rest of the transfer is ignored
// until the next stop; WithMissHandler reports them.
package i2cgpio
