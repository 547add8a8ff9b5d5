package capture

import (
	"os"
	"slices"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Sink receives recorded events.
type Sink interface {
	Record(event Event)
}

// encMode writes map keys in canonical order and times with nanoseconds, so
// equal events always encode to equal bytes.
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// FileSink writes events to a file in CBOR format.
// It is safe for concurrent use from multiple goroutines.
type FileSink struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	err     error
}

// NewFileSink creates a FileSink that appends to the file at path, creating
// it if needed.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{
		file:    f,
		encoder: encMode.NewEncoder(f),
	}, nil
}

// Record writes an event to the file. The first encoding error is kept and
// returned by Close; recording must not disturb the bus.
func (s *FileSink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if err := s.encoder.Encode(event); err != nil && s.err == nil {
		s.err = err
	}
}

// Close closes the file. It is safe to call Close multiple times.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.err
	}
	s.closed = true
	if err := s.file.Close(); err != nil && s.err == nil {
		s.err = err
	}
	return s.err
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Record implements Sink.
func (s *MemorySink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// Compile-time interface satisfaction checks.
var (
	_ Sink = (*FileSink)(nil)
	_ Sink = (*MemorySink)(nil)
)
