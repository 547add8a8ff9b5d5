package capture

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

// Recorder is an i2c.Registry that forwards every operation to another
// registry and records it.
type Recorder struct {
	inner   i2c.Registry
	bus     string
	sink    Sink
	session string
	now     func() time.Time

	mu  sync.Mutex
	seq uint64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSession sets the session id instead of a random UUID. Recorders of
// several buses share one session this way.
func WithSession(id string) RecorderOption {
	return func(r *Recorder) {
		if id != "" {
			r.session = id
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder wraps inner, naming the events after bus.
func NewRecorder(inner i2c.Registry, bus string, sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		inner:   inner,
		bus:     bus,
		sink:    sink,
		session: uuid.New().String(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns the session id stamped on every event.
func (r *Recorder) Session() string {
	return r.session
}

func (r *Recorder) record(kind Kind, addr i2c.Address, data []byte) {
	r.mu.Lock()
	seq := r.seq
	r.seq++
	r.mu.Unlock()

	r.sink.Record(Event{
		Seq:     seq,
		Time:    r.now(),
		Session: r.session,
		Bus:     r.bus,
		Kind:    kind,
		Address: addr,
		Data:    data,
	})
}

// HasDevice implements i2c.Registry. Lookups are not recorded.
func (r *Recorder) HasDevice(addr i2c.Address) bool {
	return r.inner.HasDevice(addr)
}

// Start implements i2c.Registry.
func (r *Recorder) Start(addr i2c.Address) {
	r.inner.Start(addr)
	r.record(KindStart, addr, nil)
}

// Stop implements i2c.Registry.
func (r *Recorder) Stop(addr i2c.Address) {
	r.inner.Stop(addr)
	r.record(KindStop, addr, nil)
}

// Read implements i2c.Registry.
func (r *Recorder) Read(addr i2c.Address) byte {
	b := r.inner.Read(addr)
	r.record(KindRead, addr, []byte{b})
	return b
}

// Write implements i2c.Registry.
func (r *Recorder) Write(addr i2c.Address, b byte) {
	r.inner.Write(addr, b)
	r.record(KindWrite, addr, []byte{b})
}

// Miss records an address byte that no device answered. Its signature
// matches i2cgpio.MissHandler.
func (r *Recorder) Miss(addr i2c.Address, read bool) {
	flag := byte(0)
	if read {
		flag = 1
	}
	r.record(KindMiss, addr, []byte{flag})
}

var _ i2c.Registry = (*Recorder)(nil)
