package mcp2221

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// LineSink consumes sampled line levels and reports the data level it
// drives back. *i2cgpio.Endpoint implements it.
type LineSink interface {
	Set(scl, sda bool)
	SDA() bool
}

// Pins selects the GP pins of a Poller. Drive is the pin the sink's SDA
// output is written to, or -1 to leave the bus untouched. It must not be
// the pin SDA is sampled from: the sampled level has to be the master's
// alone.
type Pins struct {
	SCL   int
	SDA   int
	Drive int
}

// Validate checks the pin assignment.
func (p Pins) Validate() error {
	for _, pin := range []int{p.SCL, p.SDA} {
		if pin < 0 || pin >= PinCount {
			return fmt.Errorf("%w: %d", ErrPin, pin)
		}
	}
	if p.SCL == p.SDA {
		return fmt.Errorf("mcp2221: SCL and SDA share pin %d", p.SCL)
	}
	if p.Drive >= PinCount || p.Drive < -1 {
		return fmt.Errorf("%w: %d", ErrPin, p.Drive)
	}
	if p.Drive == p.SCL || p.Drive == p.SDA {
		return fmt.Errorf("mcp2221: drive pin %d is also sampled", p.Drive)
	}
	return nil
}

// Poller samples two pins at a fixed interval and feeds them to a sink.
// The MCP2221 answers a GPIO command about once per millisecond, so only
// slow buses can be followed.
type Poller struct {
	dev      *Device
	pins     Pins
	interval time.Duration
	sink     LineSink
	log      *slog.Logger

	// driven is the last level written to the drive pin
	driven  bool
	samples uint64
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithLogger logs sampling errors and line changes.
func WithLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.log = l
		}
	}
}

// WithInterval sets the sampling interval. Zero polls as fast as the device
// answers.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d >= 0 {
			p.interval = d
		}
	}
}

// NewPoller creates a poller. The pins are checked before anything is sent
// to the device.
func NewPoller(dev *Device, pins Pins, sink LineSink, opts ...PollerOption) (*Poller, error) {
	if err := pins.Validate(); err != nil {
		return nil, err
	}
	p := &Poller{
		dev:      dev,
		pins:     pins,
		interval: time.Millisecond,
		sink:     sink,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		driven:   true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Samples returns the number of samples taken.
func (p *Poller) Samples() uint64 {
	return p.samples
}

// Poll takes one sample, feeds it to the sink and updates the drive pin.
func (p *Poller) Poll() error {
	levels, ok, err := p.dev.Levels()
	if err != nil {
		return err
	}
	for _, pin := range []int{p.pins.SCL, p.pins.SDA} {
		if !ok[pin] {
			return fmt.Errorf("%w: %d", ErrNotGPIO, pin)
		}
	}

	p.samples++
	p.sink.Set(levels[p.pins.SCL], levels[p.pins.SDA])

	if p.pins.Drive < 0 {
		return nil
	}
	if out := p.sink.SDA(); out != p.driven {
		if err := p.dev.SetOpenDrain(p.pins.Drive, out); err != nil {
			return err
		}
		p.driven = out
	}
	return nil
}

// Run polls until ctx is cancelled or the device fails. The drive pin is
// released on return.
func (p *Poller) Run(ctx context.Context) error {
	if p.pins.Drive >= 0 {
		if err := p.dev.SetOpenDrain(p.pins.Drive, true); err != nil {
			return err
		}
		p.driven = true
		defer func() {
			if err := p.dev.SetOpenDrain(p.pins.Drive, true); err != nil {
				p.log.Warn("failed to release drive pin", "pin", p.pins.Drive, "error", err)
			}
		}()
	}

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	p.log.Info("polling", "scl", p.pins.SCL, "sda", p.pins.SDA, "drive", p.pins.Drive, "interval", p.interval)
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := p.Poll(); err != nil {
			return fmt.Errorf("mcp2221: poll: %w", err)
		}
	}
}
