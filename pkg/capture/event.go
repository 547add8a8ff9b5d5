// Package capture records the device traffic of emulated buses to CBOR files
// and reads it back.
package capture

import (
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

// Kind is the registry operation an event records.
type Kind uint8

const (
	KindStart Kind = 0
	KindStop  Kind = 1
	KindRead  Kind = 2
	KindWrite Kind = 3
	// KindMiss is an address byte no device answered.
	KindMiss Kind = 4
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "START"
	case KindStop:
		return "STOP"
	case KindRead:
		return "READ"
	case KindWrite:
		return "WRITE"
	case KindMiss:
		return "MISS"
	default:
		return "UNKNOWN"
	}
}

// Event is one registry operation.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Seq numbers the events of a session from zero.
	Seq uint64 `cbor:"1,keyasint"`

	// Time when the operation happened (nanosecond precision).
	Time time.Time `cbor:"2,keyasint"`

	// Session identifies the recorder (UUID).
	Session string `cbor:"3,keyasint"`

	Bus     string      `cbor:"4,keyasint"`
	Kind    Kind        `cbor:"5,keyasint"`
	Address i2c.Address `cbor:"6,keyasint"`

	// Data is the byte read or written.
	Data []byte `cbor:"7,keyasint,omitempty"`
}

// String formats the event for display.
func (e Event) String() string {
	s := fmt.Sprintf("%6d %s %-8s %-5s %s",
		e.Seq, e.Time.Format("15:04:05.000000"), e.Bus, e.Kind, e.Address)
	if len(e.Data) > 0 {
		s += fmt.Sprintf(" % x", e.Data)
	}
	return s
}
