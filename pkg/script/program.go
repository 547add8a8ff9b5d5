package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

// MaxCount bounds the number of bytes a single read may request.
const MaxCount = 4096

// ErrValue is returned for numbers that do not fit where they are used.
var ErrValue = errors.New("script: value out of range")

// OpKind identifies a command.
type OpKind uint8

const (
	OpStart OpKind = iota
	OpStop
	OpSend
	OpRecv
	OpWrite
	OpRead
	OpXfer
	OpLines
	OpExpect
)

var opNames = map[OpKind]string{
	OpStart:  "start",
	OpStop:   "stop",
	OpSend:   "send",
	OpRecv:   "recv",
	OpWrite:  "write",
	OpRead:   "read",
	OpXfer:   "xfer",
	OpLines:  "lines",
	OpExpect: "expect",
}

func (k OpKind) String() string {
	if name, ok := opNames[k]; ok {
		return name
	}
	return fmt.Sprintf("OpKind(%d)", k)
}

// Op is a checked command ready to run.
type Op struct {
	Kind OpKind
	Line int

	Addr  i2c.Address
	Data  []byte
	Count int

	SCL, SDA bool
}

// String renders the op in script syntax.
func (o Op) String() string {
	var sb strings.Builder
	sb.WriteString(o.Kind.String())

	switch o.Kind {
	case OpWrite, OpRead, OpXfer:
		fmt.Fprintf(&sb, " %s", o.Addr)
	}
	switch o.Kind {
	case OpSend, OpWrite, OpXfer, OpExpect:
		for _, b := range o.Data {
			fmt.Fprintf(&sb, " 0x%02X", b)
		}
	}
	switch o.Kind {
	case OpRecv, OpRead:
		fmt.Fprintf(&sb, " %d", o.Count)
	case OpXfer:
		fmt.Fprintf(&sb, " read %d", o.Count)
	case OpLines:
		fmt.Fprintf(&sb, " %d %d", bit(o.SCL), bit(o.SDA))
	}
	return sb.String()
}

func bit(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Program is a list of ops.
type Program struct {
	Ops []Op
}

func compile(f *File) (*Program, error) {
	prog := &Program{}
	for _, st := range f.Statements {
		op, err := compileStatement(st)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", st.Pos.Line, err)
		}
		op.Line = st.Pos.Line
		prog.Ops = append(prog.Ops, op)
	}
	return prog, nil
}

func compileStatement(st *Statement) (Op, error) {
	var (
		op  Op
		err error
	)

	switch {
	case st.Start:
		op.Kind = OpStart

	case st.Stop:
		op.Kind = OpStop

	case st.Send != nil:
		op.Kind = OpSend
		op.Data, err = parseBytes(st.Send.Bytes)

	case st.Recv != nil:
		op.Kind = OpRecv
		op.Count, err = parseCount(st.Recv.Count)

	case st.Write != nil:
		op.Kind = OpWrite
		if op.Addr, err = parseAddress(st.Write.Addr); err == nil {
			op.Data, err = parseBytes(st.Write.Data)
		}

	case st.Read != nil:
		op.Kind = OpRead
		if op.Addr, err = parseAddress(st.Read.Addr); err == nil {
			op.Count, err = parseCount(st.Read.Count)
		}

	case st.Xfer != nil:
		op.Kind = OpXfer
		if op.Addr, err = parseAddress(st.Xfer.Addr); err != nil {
			break
		}
		if op.Data, err = parseBytes(st.Xfer.Data); err != nil {
			break
		}
		op.Count, err = parseCount(st.Xfer.Count)

	case st.Lines != nil:
		op.Kind = OpLines
		if op.SCL, err = parseLevel(st.Lines.SCL); err == nil {
			op.SDA, err = parseLevel(st.Lines.SDA)
		}

	case st.Expect != nil:
		op.Kind = OpExpect
		op.Data, err = parseBytes(st.Expect.Bytes)

	default:
		err = errors.New("script: empty statement")
	}
	return op, err
}

// parseNumber reads the number forms the lexer admits: 0x hex, 0b binary and
// plain decimal. A leading zero does not mean octal.
func parseNumber(s string, max uint64) (uint64, error) {
	digits, base := s, 10
	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X':
			digits, base = s[2:], 16
		case 'b', 'B':
			digits, base = s[2:], 2
		}
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil || v > max {
		return 0, fmt.Errorf("%w: %s (max %d)", ErrValue, s, max)
	}
	return v, nil
}

func parseBytes(ss []string) ([]byte, error) {
	out := make([]byte, 0, len(ss))
	for _, s := range ss {
		v, err := parseNumber(s, 0xff)
		if err != nil {
			return nil, err
		}
		out = append(out, byte(v))
	}
	return out, nil
}

func parseAddress(s string) (i2c.Address, error) {
	v, err := parseNumber(s, uint64(i2c.MaxAddress))
	return i2c.Address(v), err
}

func parseCount(s string) (int, error) {
	v, err := parseNumber(s, MaxCount)
	if err == nil && v == 0 {
		err = fmt.Errorf("%w: count must be at least 1", ErrValue)
	}
	return int(v), err
}

func parseLevel(s string) (bool, error) {
	v, err := parseNumber(s, 1)
	return v == 1, err
}
