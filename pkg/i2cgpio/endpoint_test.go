package i2cgpio

import (
	"bytes"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

// fakeRegistry records every registry call except HasDevice lookups.
type fakeRegistry struct {
	devices map[i2c.Address][]byte // bytes handed out by Read, in order
	calls   []string
	lookups int
}

func newFakeRegistry(addrs ...i2c.Address) *fakeRegistry {
	r := &fakeRegistry{devices: make(map[i2c.Address][]byte)}
	for _, a := range addrs {
		r.devices[a] = nil
	}
	return r
}

func (r *fakeRegistry) HasDevice(addr i2c.Address) bool {
	r.lookups++
	_, ok := r.devices[addr]
	return ok
}

func (r *fakeRegistry) Start(addr i2c.Address) { r.calls = append(r.calls, "start "+addr.String()) }
func (r *fakeRegistry) Stop(addr i2c.Address)  { r.calls = append(r.calls, "stop "+addr.String()) }

func (r *fakeRegistry) Read(addr i2c.Address) byte {
	r.calls = append(r.calls, "read "+addr.String())
	queue := r.devices[addr]
	if len(queue) == 0 {
		return 0xff
	}
	r.devices[addr] = queue[1:]
	return queue[0]
}

func (r *fakeRegistry) Write(addr i2c.Address, b byte) {
	r.calls = append(r.calls, fmt.Sprintf("write %s %02X", addr, b))
}

func (r *fakeRegistry) count(prefix string) int {
	n := 0
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type snapshot struct {
	state    State
	transfer TransferState
	pos      int
	scl, sda bool
}

func snap(e *Endpoint) snapshot {
	return snapshot{e.State(), e.TransferState(), e.BitPosition(), e.SCL(), e.SDA()}
}

// wire drives an endpoint the way a bit-banging master would. When repeat is
// set, every sample is fed again with unchanged levels and must not change
// anything observable.
type wire struct {
	t        *testing.T
	ep       *Endpoint
	scl, sda bool
	repeat   int
}

func newWire(t *testing.T, ep *Endpoint) *wire {
	w := &wire{t: t, ep: ep, scl: true, sda: true}
	ep.Set(true, true)
	return w
}

func (w *wire) set(scl, sda bool) {
	w.t.Helper()
	w.scl, w.sda = scl, sda
	w.ep.Set(scl, sda)
	if w.repeat == 0 {
		return
	}
	before := snap(w.ep)
	for i := 0; i < w.repeat; i++ {
		w.ep.Set(scl, sda)
	}
	if after := snap(w.ep); after != before {
		w.t.Fatalf("repeated Set(%v, %v) changed endpoint: %+v -> %+v", scl, sda, before, after)
	}
}

func (w *wire) start() {
	w.t.Helper()
	if w.scl && !w.sda {
		w.set(false, false)
	}
	if !w.sda {
		w.set(false, true)
	}
	if !w.scl {
		w.set(true, true)
	}
	w.set(true, false)
	w.set(false, false)
}

func (w *wire) stop() {
	w.t.Helper()
	if w.scl {
		w.set(false, w.sda)
	}
	if w.sda {
		w.set(false, false)
	}
	w.set(true, false)
	w.set(true, true)
}

func (w *wire) writeBits(b byte) {
	w.t.Helper()
	for i := 7; i >= 0; i-- {
		bit := b&(1<<i) != 0
		w.set(false, bit)
		w.set(true, bit)
		w.set(false, bit)
	}
}

// writeByte sends b and clocks the acknowledge slot, returning whether the
// line was pulled low.
func (w *wire) writeByte(b byte) bool {
	w.t.Helper()
	w.writeBits(b)
	w.set(false, true)
	w.set(true, true)
	ack := !(w.sda && w.ep.SDA())
	w.set(false, true)
	return ack
}

// readByte clocks eight bits out of the endpoint, sampling right after each
// rising edge, then answers with ack or not-acknowledge.
func (w *wire) readByte(ack bool) byte {
	w.t.Helper()
	var b byte
	for i := 0; i < 8; i++ {
		w.set(false, true)
		w.set(true, true)
		b <<= 1
		if w.ep.SDA() {
			b |= 1
		}
		w.set(false, true)
	}
	w.set(false, !ack)
	w.set(true, !ack)
	w.set(false, !ack)
	return b
}

func TestStateNames(t *testing.T) {
	if got := StateTransAcknowledge.String(); got != "TransAcknowledge" {
		t.Fatalf("String() = %q", got)
	}
	if got := State(42).String(); got != "State(42)" {
		t.Fatalf("String() = %q", got)
	}
	if got := TransferInvalid.String(); got != "Invalid" {
		t.Fatalf("String() = %q", got)
	}
	if got := TransmitterSlave.String(); got != "slave" {
		t.Fatalf("String() = %q", got)
	}
}

func TestNewEndpointIdle(t *testing.T) {
	ep := Attach("test", newFakeRegistry())
	if !ep.SCL() || !ep.SDA() {
		t.Fatalf("lines = %v/%v, want released", ep.SCL(), ep.SDA())
	}
	if ep.State() != StateIdle || ep.TransferState() != TransferIdle {
		t.Fatalf("state = %s/%s, want Idle/Idle", ep.State(), ep.TransferState())
	}
	if _, open := ep.Transaction(); open {
		t.Fatalf("new endpoint has an open transaction")
	}
}

func TestWriteTransaction(t *testing.T) {
	reg := newFakeRegistry(0x50)
	ep := Attach("test", reg)
	w := newWire(t, ep)

	w.start()
	if ep.State() != StateReceive {
		t.Fatalf("State() after start = %s, want Receive", ep.State())
	}
	if !w.writeByte(0x50 << 1) {
		t.Fatalf("address byte not acknowledged")
	}
	if ep.TransferState() != TransferReceiveAddress {
		t.Fatalf("TransferState() = %s, want ReceiveAddress", ep.TransferState())
	}
	if !w.writeByte(0xa5) {
		t.Fatalf("data byte not acknowledged")
	}
	w.stop()

	want := []string{"start 0x50", "write 0x50 A5", "stop 0x50"}
	if !reflect.DeepEqual(reg.calls, want) {
		t.Fatalf("calls = %v, want %v", reg.calls, want)
	}
	if ep.State() != StateIdle || ep.TransferState() != TransferIdle {
		t.Fatalf("state after stop = %s/%s, want Idle/Idle", ep.State(), ep.TransferState())
	}
}

func TestWriteSeveralBytes(t *testing.T) {
	reg := newFakeRegistry(0x50)
	ep := Attach("test", reg)
	w := newWire(t, ep)

	w.start()
	w.writeByte(0xa0)
	for _, b := range []byte{0x10, 0x01, 0x02, 0xfe} {
		if !w.writeByte(b) {
			t.Fatalf("byte %#02x not acknowledged", b)
		}
	}
	if ep.TransferState() != TransferReceiveData {
		t.Fatalf("TransferState() = %s, want ReceiveData", ep.TransferState())
	}
	w.stop()

	want := []string{
		"start 0x50",
		"write 0x50 10", "write 0x50 01", "write 0x50 02", "write 0x50 FE",
		"stop 0x50",
	}
	if !reflect.DeepEqual(reg.calls, want) {
		t.Fatalf("calls = %v, want %v", reg.calls, want)
	}
}

func TestReadTransactionDrivesBits(t *testing.T) {
	reg := newFakeRegistry(0x50)
	reg.devices[0x50] = []byte{0xa5, 0x3c}
	ep := Attach("test", reg)
	w := newWire(t, ep)

	w.start()
	if !w.writeByte(0x50<<1 | 1) {
		t.Fatalf("address byte not acknowledged")
	}
	if ep.TransferState() != TransferSendData {
		t.Fatalf("TransferState() = %s, want SendData", ep.TransferState())
	}

	// sample each bit right after its rising edge
	var bits []bool
	for i := 0; i < 8; i++ {
		w.set(false, true)
		w.set(true, true)
		bits = append(bits, ep.SDA())
		w.set(false, true)
	}
	want := []bool{true, false, true, false, false, true, false, true}
	if !reflect.DeepEqual(bits, want) {
		t.Fatalf("driven bits = %v, want %v", bits, want)
	}
	if ep.State() != StateTransAcknowledge {
		t.Fatalf("State() after 8 bits = %s, want TransAcknowledge", ep.State())
	}

	// acknowledge, then read the second byte and refuse it
	w.set(false, false)
	w.set(true, false)
	w.set(false, false)
	if ep.State() != StateTransmitStart {
		t.Fatalf("State() after ack = %s, want TransmitStart", ep.State())
	}
	if got := w.readByte(false); got != 0x3c {
		t.Fatalf("second byte = %#02x, want 0x3c", got)
	}
	if ep.State() != StateIdle {
		t.Fatalf("State() after not-acknowledge = %s, want Idle", ep.State())
	}
	w.stop()

	wantCalls := []string{"start 0x50", "read 0x50", "read 0x50", "stop 0x50"}
	if !reflect.DeepEqual(reg.calls, wantCalls) {
		t.Fatalf("calls = %v, want %v", reg.calls, wantCalls)
	}
}

func TestUnregisteredAddressAbsorbed(t *testing.T) {
	reg := newFakeRegistry(0x50)
	var misses []i2c.Address
	ep := Attach("test", reg, WithMissHandler(func(addr i2c.Address, read bool) {
		misses = append(misses, addr)
	}))
	w := newWire(t, ep)

	w.start()
	w.writeByte(0x23 << 1)
	if ep.TransferState() != TransferInvalid {
		t.Fatalf("TransferState() = %s, want Invalid", ep.TransferState())
	}
	for _, b := range []byte{0x01, 0x02, 0x03} {
		w.writeByte(b)
		if ep.TransferState() != TransferInvalid {
			t.Fatalf("TransferState() = %s, want Invalid", ep.TransferState())
		}
	}
	w.stop()

	if len(reg.calls) != 0 {
		t.Fatalf("registry received %v for an unknown address", reg.calls)
	}
	if ep.State() != StateIdle || ep.TransferState() != TransferIdle {
		t.Fatalf("state after stop = %s/%s, want Idle/Idle", ep.State(), ep.TransferState())
	}
	if !reflect.DeepEqual(misses, []i2c.Address{0x23}) {
		t.Fatalf("misses = %v, want [0x23]", misses)
	}
}

func TestUnregisteredReadReturnsReleasedBus(t *testing.T) {
	reg := newFakeRegistry()
	ep := Attach("test", reg)
	w := newWire(t, ep)

	w.start()
	w.writeByte(0x23<<1 | 1)
	for i := 0; i < 2; i++ {
		if got := w.readByte(true); got != 0xff {
			t.Fatalf("read from unknown address = %#02x, want 0xff", got)
		}
	}
	w.stop()

	if len(reg.calls) != 0 {
		t.Fatalf("registry received %v for an unknown address", reg.calls)
	}
}

func TestRepeatedStartInReceive(t *testing.T) {
	reg := newFakeRegistry(0x50)
	reg.devices[0x50] = []byte{0x77}
	ep := Attach("test", reg)
	w := newWire(t, ep)

	w.start()
	w.writeByte(0xa0)
	w.writeByte(0x10)

	// release SDA and raise SCL: the decoder takes this as a first data bit
	w.set(false, true)
	w.set(true, true)
	if ep.BitPosition() != 1 {
		t.Fatalf("BitPosition() = %d, want 1", ep.BitPosition())
	}
	w.set(true, false)
	if ep.BitPosition() != 0 {
		t.Fatalf("BitPosition() after repeated start = %d, want 0", ep.BitPosition())
	}
	if ep.TransferState() != TransferIdle {
		t.Fatalf("TransferState() after repeated start = %s, want Idle", ep.TransferState())
	}
	if addr, open := ep.Transaction(); !open || addr != 0x50 {
		t.Fatalf("Transaction() = %s, %v, want 0x50, true", addr, open)
	}
	if n := reg.count("stop"); n != 0 {
		t.Fatalf("repeated start emitted %d stop(s)", n)
	}
	w.set(false, false)

	w.writeByte(0xa1)
	if got := w.readByte(false); got != 0x77 {
		t.Fatalf("read = %#02x, want 0x77", got)
	}
	w.stop()

	want := []string{"start 0x50", "write 0x50 10", "read 0x50", "stop 0x50"}
	if !reflect.DeepEqual(reg.calls, want) {
		t.Fatalf("calls = %v, want %v", reg.calls, want)
	}
}

func TestRepeatedStartToAnotherDevice(t *testing.T) {
	reg := newFakeRegistry(0x50, 0x51)
	reg.devices[0x51] = []byte{0x42}
	ep := Attach("test", reg)
	w := newWire(t, ep)

	w.start()
	w.writeByte(0x50 << 1)
	w.writeByte(0x00)
	w.start()
	w.writeByte(0x51<<1 | 1)
	if got := w.readByte(false); got != 0x42 {
		t.Fatalf("read = %#02x, want 0x42", got)
	}
	w.stop()

	want := []string{"start 0x50", "write 0x50 00", "read 0x51", "stop 0x51"}
	if !reflect.DeepEqual(reg.calls, want) {
		t.Fatalf("calls = %v, want %v", reg.calls, want)
	}
}

func TestRepeatedStartMovesOpenTransaction(t *testing.T) {
	reg := newFakeRegistry(0x50, 0x51)
	ep := Attach("test", reg)
	w := newWire(t, ep)

	w.start()
	w.writeByte(0x50 << 1)
	w.writeByte(0x00)
	w.start()
	w.writeByte(0x51 << 1)

	if addr, open := ep.Transaction(); !open || addr != 0x51 {
		t.Fatalf("Transaction() = %v, %v, want 0x51, true", addr, open)
	}
	for _, call := range reg.calls {
		if call == "stop 0x50" {
			t.Fatalf("stop sent before the stop condition: %v", reg.calls)
		}
	}

	w.writeByte(0x7e)
	w.stop()

	want := []string{"start 0x50", "write 0x50 00", "write 0x51 7E", "stop 0x51"}
	if !reflect.DeepEqual(reg.calls, want) {
		t.Fatalf("calls = %v, want %v", reg.calls, want)
	}
}

func TestAcknowledgeDrivesLow(t *testing.T) {
	ep := Attach("test", newFakeRegistry(0x50))
	w := newWire(t, ep)

	w.start()
	for _, b := range []byte{0xa0, 0xff, 0x00} {
		w.writeBits(b)
		if ep.State() != StateAcknowledge {
			t.Fatalf("State() after 8 bits = %s, want Acknowledge", ep.State())
		}
		w.set(false, true)
		w.set(true, true)
		if ep.SDA() {
			t.Fatalf("SDA() in acknowledge slot after %#02x = true, want false", b)
		}
		if ep.BitPosition() != 0 {
			t.Fatalf("BitPosition() after acknowledge = %d, want 0", ep.BitPosition())
		}
		w.set(false, true)
	}
}

func TestStopAlwaysTerminates(t *testing.T) {
	cases := []struct {
		name  string
		setup func(w *wire)
		state State
		stops int
	}{
		{
			name: "receive before address",
			setup: func(w *wire) {
				w.start()
				w.set(true, false)
			},
			state: StateReceive,
			stops: 0,
		},
		{
			name: "receive mid byte",
			setup: func(w *wire) {
				w.start()
				w.writeByte(0xa0)
				w.set(false, false)
				w.set(true, false)
			},
			state: StateReceive,
			stops: 1,
		},
		{
			name: "receive wait",
			setup: func(w *wire) {
				w.start()
				w.writeBits(0xa0)
				w.set(false, true)
				w.set(true, true)
				w.set(true, false)
			},
			state: StateReceiveWait,
			stops: 1,
		},
		{
			name: "acknowledge",
			setup: func(w *wire) {
				w.start()
				for i := 0; i < 7; i++ {
					bit := 0xa0&(0x80>>i) != 0
					w.set(false, bit)
					w.set(true, bit)
					w.set(false, bit)
				}
				w.set(false, false)
				w.set(true, false)
			},
			state: StateAcknowledge,
			stops: 1,
		},
		{
			name: "transmit",
			setup: func(w *wire) {
				w.start()
				w.writeBits(0xa1)
				w.set(false, true)
				w.set(true, true)
				w.set(true, false)
			},
			state: StateTransmit,
			stops: 1,
		},
		{
			name: "transmit start",
			setup: func(w *wire) {
				w.start()
				w.writeByte(0xa1)
				for i := 0; i < 8; i++ {
					w.set(false, true)
					w.set(true, true)
					w.set(false, true)
				}
				w.set(false, false)
				w.set(true, false)
			},
			state: StateTransmitStart,
			stops: 1,
		},
		{
			name: "unknown address",
			setup: func(w *wire) {
				w.start()
				w.writeByte(0x40)
				w.set(false, false)
				w.set(true, false)
			},
			state: StateReceive,
			stops: 0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := newFakeRegistry(0x50)
			ep := Attach("test", reg)
			w := newWire(t, ep)
			tc.setup(w)

			if ep.State() != tc.state {
				t.Fatalf("State() before stop = %s, want %s", ep.State(), tc.state)
			}
			if !ep.SCL() {
				t.Fatalf("setup must leave SCL high")
			}

			w.set(true, true)

			if ep.State() != StateIdle {
				t.Fatalf("State() after stop = %s, want Idle", ep.State())
			}
			if ep.TransferState() != TransferIdle {
				t.Fatalf("TransferState() after stop = %s, want Idle", ep.TransferState())
			}
			if _, open := ep.Transaction(); open {
				t.Fatalf("transaction still open after stop")
			}
			if n := reg.count("stop"); n != tc.stops {
				t.Fatalf("stops = %d, want %d (calls %v)", n, tc.stops, reg.calls)
			}
		})
	}
}

func TestStopWhileIdleIgnored(t *testing.T) {
	reg := newFakeRegistry(0x50)
	ep := Attach("test", reg)
	w := newWire(t, ep)

	w.stop()
	w.stop()
	if ep.State() != StateIdle || len(reg.calls) != 0 {
		t.Fatalf("stop while idle: state %s, calls %v", ep.State(), reg.calls)
	}
}

func TestIdleStartWithoutClockHighSample(t *testing.T) {
	ep := Attach("test", newFakeRegistry())
	ep.Set(false, true)
	ep.Set(true, false)
	if ep.State() != StateReceive {
		t.Fatalf("State() = %s, want Receive", ep.State())
	}
}

func TestNoEdgeCallsAreIdempotent(t *testing.T) {
	reg := newFakeRegistry(0x50)
	reg.devices[0x50] = []byte{0x12, 0x34}
	ep := Attach("test", reg)
	w := newWire(t, ep)
	w.repeat = 3

	w.start()
	w.writeByte(0xa0)
	w.writeByte(0x00)
	w.start()
	w.writeByte(0xa1)
	first := w.readByte(true)
	second := w.readByte(false)
	w.stop()

	if first != 0x12 || second != 0x34 {
		t.Fatalf("read %#02x %#02x, want 0x12 0x34", first, second)
	}
	want := []string{"start 0x50", "write 0x50 00", "read 0x50", "read 0x50", "stop 0x50"}
	if !reflect.DeepEqual(reg.calls, want) {
		t.Fatalf("calls = %v, want %v", reg.calls, want)
	}
}

func TestTransmitWaitHandlesStartAndStop(t *testing.T) {
	reg := newFakeRegistry(0x50)
	reg.devices[0x50] = []byte{0x99}
	ep := Attach("test", reg)

	// no transition leads here from the wire; put the decoder there directly
	ep.ctl.tx = transaction{addr: 0x50, open: true}
	ep.ctl.target = 0x50
	ep.state = StateTransmitWait
	ep.pos = 5

	ep.Set(true, true)
	ep.Set(true, false)
	if ep.BitPosition() != 0 || ep.shift != 0x99 {
		t.Fatalf("start in TransmitWait: pos %d shift %#02x", ep.BitPosition(), ep.shift)
	}
	if ep.State() != StateTransmitWait {
		t.Fatalf("State() = %s, want TransmitWait", ep.State())
	}
	ep.Set(true, true)
	if ep.State() != StateIdle {
		t.Fatalf("State() after stop = %s, want Idle", ep.State())
	}
	want := []string{"read 0x50", "stop 0x50"}
	if !reflect.DeepEqual(reg.calls, want) {
		t.Fatalf("calls = %v, want %v", reg.calls, want)
	}
}

func TestNewRegistersBus(t *testing.T) {
	hub := i2c.NewHub(nil)
	ep, err := New(hub, "ddc")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if ep.Bus() == nil || ep.Registry() != i2c.Registry(ep.Bus()) {
		t.Fatalf("Registry() does not expose the created bus")
	}
	if _, err := hub.Bus("ddc"); err != nil {
		t.Fatalf("bus not registered: %v", err)
	}
	if _, err := New(hub, "ddc"); err == nil {
		t.Fatalf("second New with the same name succeeded")
	}

	if err := ep.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := hub.Bus("ddc"); err == nil {
		t.Fatalf("bus still registered after Close")
	}
	if _, err := New(nil, "x"); err == nil {
		t.Fatalf("New(nil hub) succeeded")
	}
}

func TestLoggerTracesTransitions(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ep := Attach("ddc", newFakeRegistry(0x50), WithLogger(log))
	w := newWire(t, ep)

	w.start()
	w.writeByte(0xa0)
	w.stop()

	out := buf.String()
	for _, want := range []string{"bus=ddc", "to=Receive", "to=ReceiveAddress", "stop condition"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}
