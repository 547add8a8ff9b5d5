// Package waveform keeps a short history of the SCL and SDA lines and draws
// it as text, for watching a bus from a terminal.
package waveform

import (
	"fmt"
	"io"
	"strings"
)

// DefaultLength is the history length used when none is given.
const DefaultLength = 64

// Condition marks a bus condition found at a sample.
type Condition byte

const (
	None  Condition = ' '
	Start Condition = 'S'
	Stop  Condition = 'P'
)

type sample struct {
	scl, sda bool
	mark     Condition
}

// Probe samples both bus lines and spots start and stop conditions: a data
// edge between two samples that both have the clock high.
type Probe struct {
	ring []sample
	next int // slot of the next sample
	n    int // samples taken

	// levels of the previous sample, released before the first one
	lastSCL bool
	lastSDA bool

	starts int
	stops  int
}

// NewProbe creates a probe keeping the last length samples. A length below
// one uses DefaultLength.
func NewProbe(length int) *Probe {
	if length < 1 {
		length = DefaultLength
	}
	return &Probe{
		ring:    make([]sample, length),
		lastSCL: true,
		lastSDA: true,
	}
}

// Sample records one pair of line levels. Its signature matches
// bitbang.Observer.
func (p *Probe) Sample(scl, sda bool) {
	s := sample{scl: scl, sda: sda, mark: None}
	if scl && p.lastSCL {
		switch {
		case p.lastSDA && !sda:
			s.mark = Start
			p.starts++
		case !p.lastSDA && sda:
			s.mark = Stop
			p.stops++
		}
	}
	p.lastSCL, p.lastSDA = scl, sda

	p.ring[p.next] = s
	p.next = (p.next + 1) % len(p.ring)
	p.n++
}

// Conditions returns the number of start and stop conditions seen.
func (p *Probe) Conditions() (starts, stops int) {
	return p.starts, p.stops
}

// Samples returns the number of samples taken so far.
func (p *Probe) Samples() int {
	return p.n
}

// history returns the kept samples, oldest first.
func (p *Probe) history() []sample {
	if p.n < len(p.ring) {
		return p.ring[:p.n]
	}
	return append(append([]sample(nil), p.ring[p.next:]...), p.ring[:p.next]...)
}

// Render draws the kept history, oldest sample first. High levels are drawn
// as '-', low levels as '_', and start and stop conditions are marked on a
// third row.
func (p *Probe) Render(w io.Writer) error {
	h := p.history()
	if len(h) == 0 {
		_, err := fmt.Fprintln(w, "no samples")
		return err
	}

	scl := make([]byte, len(h))
	sda := make([]byte, len(h))
	marks := make([]byte, len(h))
	for i, s := range h {
		scl[i] = level(s.scl)
		sda[i] = level(s.sda)
		marks[i] = byte(s.mark)
	}

	_, err := fmt.Fprintf(w, "SCL %s\nSDA %s\n    %s\n",
		scl, sda, strings.TrimRight(string(marks), " "))
	return err
}

// String returns the rendered history.
func (p *Probe) String() string {
	var sb strings.Builder
	_ = p.Render(&sb)
	return sb.String()
}

func level(v bool) byte {
	if v {
		return '-'
	}
	return '_'
}
