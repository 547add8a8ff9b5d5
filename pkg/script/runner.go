package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/bitbang"
	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

// ErrExpectation is returned when an expect command does not match the bytes
// of the last read.
var ErrExpectation = errors.New("script: expectation failed")

// Master is the bus master a script runs against. *bitbang.Driver
// implements it.
type Master interface {
	Start()
	Stop()
	WriteByte(b byte) bool
	ReadByte(ack bool) byte
	Write(addr i2c.Address, data []byte) error
	Read(addr i2c.Address, n int) ([]byte, error)
	WriteRead(addr i2c.Address, w []byte, n int) ([]byte, error)
	SetLines(scl, sda bool)
}

var _ Master = (*bitbang.Driver)(nil)

// Result is the outcome of one op. Data holds the bytes read, if any.
type Result struct {
	Op   Op
	Data []byte
}

func (r Result) String() string {
	if len(r.Data) == 0 {
		return r.Op.String()
	}
	return fmt.Sprintf("%-28s => % x", r.Op, r.Data)
}

// Runner executes programs on a master.
type Runner struct {
	master Master
	log    *slog.Logger

	// last holds the bytes of the most recent read for expect
	last []byte
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger logs each op at debug level.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRunner creates a runner driving m.
func NewRunner(m Master, opts ...RunnerOption) *Runner {
	r := &Runner{
		master: m,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every op of prog in order. It stops at the first failing op
// and returns the results gathered so far together with the error. The
// context is checked between ops.
func (r *Runner) Run(ctx context.Context, prog *Program) ([]Result, error) {
	results := make([]Result, 0, len(prog.Ops))
	for _, op := range prog.Ops {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		r.log.Debug("script op", "line", op.Line, "op", op.String())
		res, err := r.exec(op)
		if err != nil {
			return results, fmt.Errorf("line %d: %s: %w", op.Line, op.Kind, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) exec(op Op) (Result, error) {
	res := Result{Op: op}

	switch op.Kind {
	case OpStart:
		r.master.Start()

	case OpStop:
		r.master.Stop()

	case OpSend:
		for _, b := range op.Data {
			if !r.master.WriteByte(b) {
				return res, fmt.Errorf("%w: byte %#02x", bitbang.ErrNack, b)
			}
		}

	case OpRecv:
		res.Data = make([]byte, op.Count)
		for i := range res.Data {
			res.Data[i] = r.master.ReadByte(i < op.Count-1)
		}
		r.last = res.Data

	case OpWrite:
		if err := r.master.Write(op.Addr, op.Data); err != nil {
			return res, err
		}

	case OpRead:
		data, err := r.master.Read(op.Addr, op.Count)
		if err != nil {
			return res, err
		}
		res.Data = data
		r.last = data

	case OpXfer:
		data, err := r.master.WriteRead(op.Addr, op.Data, op.Count)
		if err != nil {
			return res, err
		}
		res.Data = data
		r.last = data

	case OpLines:
		r.master.SetLines(op.SCL, op.SDA)

	case OpExpect:
		if !bytes.Equal(r.last, op.Data) {
			return res, fmt.Errorf("%w: got % x, want % x", ErrExpectation, r.last, op.Data)
		}

	default:
		return res, fmt.Errorf("script: unknown op %s", op.Kind)
	}
	return res, nil
}

// Last returns the bytes of the most recent read.
func (r *Runner) Last() []byte {
	return r.last
}
