package i2cgpio

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

// Endpoint is one emulated bus attached to GPIO lines. It is not safe for
// concurrent use: a single driver owns the lines and calls Set for every
// change it observes.
type Endpoint struct {
	name string
	hub  *i2c.Hub
	bus  *i2c.Bus
	log  *slog.Logger

	// scl is the last clock level seen. sda is the level the endpoint
	// drives while transmitting or acknowledging, latched from the observed
	// level otherwise. lastSDA is the observed data level of the previous
	// call, used to spot data edges while the clock is held high.
	scl     bool
	sda     bool
	lastSDA bool

	state State
	pos   int

	// shift accumulates incoming bits MSB first while receiving and holds
	// the remaining outgoing bits, MSB first, while transmitting. Transfers
	// are half duplex so a single register serves both directions.
	shift uint8

	ctl controller
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithLogger traces decoder and transfer state changes at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMissHandler reports address bytes that no device answers. By default
// such transfers are absorbed silently.
func WithMissHandler(h MissHandler) Option {
	return func(e *Endpoint) {
		e.ctl.miss = h
	}
}

// New registers a bus called name on hub and attaches an endpoint to it.
func New(hub *i2c.Hub, name string, opts ...Option) (*Endpoint, error) {
	if hub == nil {
		return nil, fmt.Errorf("i2cgpio: %q: nil hub", name)
	}
	bus, err := hub.AddBus(name)
	if err != nil {
		return nil, fmt.Errorf("i2cgpio: %w", err)
	}

	e := Attach(name, bus, opts...)
	e.hub = hub
	e.bus = bus
	return e, nil
}

// Attach creates an endpoint talking to reg. The caller keeps ownership of
// the registry; Close does not touch it.
func Attach(name string, reg i2c.Registry, opts ...Option) *Endpoint {
	e := &Endpoint{
		name:    name,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		scl:     true,
		sda:     true,
		lastSDA: true,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("bus", name)
	e.ctl.reg = reg
	e.ctl.log = e.log
	e.ctl.role = TransmitterMaster
	return e
}

// Close deregisters the bus created by New. No stop is sent to a device with
// an open transaction.
func (e *Endpoint) Close() error {
	if e.hub != nil {
		e.hub.RemoveBus(e.bus)
		e.hub = nil
	}
	e.log.Debug("closed")
	return nil
}

// Name returns the bus name.
func (e *Endpoint) Name() string {
	return e.name
}

// Registry returns the registry the endpoint forwards transfers to.
func (e *Endpoint) Registry() i2c.Registry {
	return e.ctl.reg
}

// Bus returns the bus created by New, or nil for endpoints made with Attach.
func (e *Endpoint) Bus() *i2c.Bus {
	return e.bus
}

// SCL returns the clock level driven by the endpoint. The endpoint never
// stretches the clock so this is the last level it saw.
func (e *Endpoint) SCL() bool {
	return e.scl
}

// SDA returns the data level driven by the endpoint. The effective line is
// the wired-AND of this and every other driver's output.
func (e *Endpoint) SDA() bool {
	switch e.state {
	case StateTransmit, StateAcknowledge:
		return e.sda
	case StateReceiveWait:
		return false
	}
	return true
}

// State returns the line decoder state.
func (e *Endpoint) State() State {
	return e.state
}

// TransferState returns the transfer controller state.
func (e *Endpoint) TransferState() TransferState {
	return e.ctl.state
}

// Transaction returns the address of the open device transaction.
func (e *Endpoint) Transaction() (i2c.Address, bool) {
	return e.ctl.tx.addr, e.ctl.tx.open
}

// BitPosition returns the number of bits shifted in or out of the current
// byte.
func (e *Endpoint) BitPosition() int {
	return e.pos
}

// Set feeds the current line levels to the decoder. It may be called with
// unchanged levels; only edges have an effect.
func (e *Endpoint) Set(scl, sda bool) {
	rising := !e.scl && scl
	falling := e.scl && !scl
	held := e.scl && scl
	start := held && e.lastSDA && !sda
	stop := held && !e.lastSDA && sda

	switch e.state {
	case StateIdle:
		// the previous clock level is not checked. some drivers raise SCL
		// and lower SDA without a clock-high sample in between
		if scl && e.lastSDA && !sda {
			e.log.Debug("start condition")
			e.setState(StateReceive)
			e.pos = 0
		}

	case StateReceiveWait:
		if rising {
			e.setState(StateReceive)
		}
		e.receive(sda, rising, start, stop)

	case StateReceive:
		e.receive(sda, rising, start, stop)

	case StateAcknowledge:
		if rising {
			e.log.Debug("acknowledge")
			e.pos = 0
			if e.ctl.role == TransmitterMaster {
				e.setState(StateReceiveWait)
			} else {
				e.setState(StateTransmit)
			}
			// SDA is pulled low for the acknowledge slot. lastSDA keeps the
			// observed level so a repeated sample is not taken for a stop
			e.sda = false
			e.lastSDA = sda
			e.scl = scl
			return
		} else if stop {
			e.endTransfer()
		}

	case StateTransAcknowledge:
		if rising {
			if sda {
				// not acknowledged: the master is done reading
				e.endTransfer()
			} else {
				e.shift = e.ctl.nextByte()
				e.pos = 0
				e.setState(StateTransmitStart)
			}
		}

	case StateTransmitWait:
		if start {
			e.shift = e.ctl.nextByte()
			e.pos = 0
		}
		if stop {
			e.endTransfer()
		}

	case StateTransmitStart:
		if rising {
			e.setState(StateTransmit)
		} else if stop {
			e.endTransfer()
		}
		if e.state == StateTransmit && e.transmit(scl, sda, rising, falling) {
			return
		}

	case StateTransmit:
		if stop {
			e.endTransfer()
		} else if e.transmit(scl, sda, rising, falling) {
			return
		}
	}

	if rising {
		e.sda = sda
	}
	e.lastSDA = sda
	e.scl = scl
}

// receive shifts in a bit on a rising clock edge and watches for start and
// stop conditions while the clock is held high.
func (e *Endpoint) receive(sda, rising, start, stop bool) {
	if rising {
		e.shift <<= 1
		if sda {
			e.shift |= 1
		}
		e.pos++
		if e.pos == 8 {
			if next, load := e.ctl.consumeByte(e.shift); load {
				e.shift = next
			}
			e.setState(StateAcknowledge)
		}
		return
	}

	if stop {
		e.endTransfer()
	} else if start {
		e.log.Debug("repeated start")
		e.pos = 0
		e.ctl.restart()
	}
}

// transmit drives the next outgoing bit on a rising clock edge. It reports
// whether the call is fully handled, in which case the caller must not run
// the common epilogue: the driven bit must not be overwritten by the observed
// level. lastSDA still follows the input so that a repeated sample of the
// same levels cannot look like a stop condition.
func (e *Endpoint) transmit(scl, sda, rising, falling bool) bool {
	if rising {
		e.scl = scl
		e.lastSDA = sda
		e.sda = e.shift&0x80 != 0
		e.shift <<= 1
		e.pos++
		return true
	}
	if falling && e.pos == 8 {
		e.setState(StateTransAcknowledge)
	}
	return false
}

func (e *Endpoint) endTransfer() {
	e.log.Debug("stop condition")
	e.setState(StateIdle)
	e.ctl.endTransaction()
}

func (e *Endpoint) setState(s State) {
	if s != e.state {
		e.log.Debug("decoder state", "from", e.state, "to", s)
		e.state = s
	}
}
