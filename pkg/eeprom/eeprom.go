// Package eeprom emulates 24Cxx serial EEPROMs such as the ones holding EDID
// and SPD data.
//
// A device of more than 256 bytes answers on several consecutive addresses;
// the low address bits select a 256 byte block. The first byte written after
// a start is the word address, later bytes are stored at the word address
// and advance it within the current page. Reads are sequential across the
// whole array.
package eeprom

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/OpenTraceLab/OpenTraceI2C/pkg/i2c"
)

// Size is the capacity of an EEPROM in bytes.
type Size int

const (
	Size24C01 Size = 128
	Size24C02 Size = 256
	Size24C04 Size = 512
	Size24C08 Size = 1024
	Size24C16 Size = 2048
)

const blockSize = 256

var (
	// ErrSize is returned for capacities that no 24Cxx part has.
	ErrSize = errors.New("eeprom: unsupported size")

	// ErrImageSize is returned when an image file does not match the device.
	ErrImageSize = errors.New("eeprom: image size mismatch")
)

// Valid reports whether s is one of the supported capacities.
func (s Size) Valid() bool {
	switch s {
	case Size24C01, Size24C02, Size24C04, Size24C08, Size24C16:
		return true
	}
	return false
}

// Blocks returns the number of bus addresses a device of this size occupies.
func (s Size) Blocks() int {
	if s <= blockSize {
		return 1
	}
	return int(s) / blockSize
}

// DefaultPageSize returns the write page size of the part.
func (s Size) DefaultPageSize() int {
	if s <= Size24C02 {
		return 8
	}
	return 16
}

func (s Size) String() string {
	return fmt.Sprintf("24C%02d", int(s)/128)
}

// EEPROM is an i2c.Device. It is safe for concurrent use.
type EEPROM struct {
	log *slog.Logger

	mu       sync.Mutex
	size     Size
	pageSize int
	readOnly bool

	// data is the memory array, disk is what was last loaded or saved.
	data []byte
	disk []byte

	// ptr is the next byte a read or write will access. wordNext is set
	// between a start and the first written byte.
	ptr      int
	wordNext bool
}

// Option configures an EEPROM.
type Option func(*EEPROM)

// WithLogger traces device traffic at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(e *EEPROM) {
		if l != nil {
			e.log = l
		}
	}
}

// WithPageSize overrides the write page size. It must be a power of two no
// larger than the device.
func WithPageSize(n int) Option {
	return func(e *EEPROM) {
		if n > 0 && n&(n-1) == 0 && n <= int(e.size) {
			e.pageSize = n
		}
	}
}

// WithWriteProtect sets the initial state of the write protect pin.
func WithWriteProtect(on bool) Option {
	return func(e *EEPROM) {
		e.readOnly = on
	}
}

// WithData preloads the array from offset zero. Bytes past the end of the
// device are ignored.
func WithData(b []byte) Option {
	return func(e *EEPROM) {
		copy(e.data, b)
		copy(e.disk, e.data)
	}
}

// New creates an erased device. An unsupported size falls back to 256 bytes;
// callers taking sizes from user input check Size.Valid first.
func New(size Size, opts ...Option) *EEPROM {
	if !size.Valid() {
		size = Size24C02
	}
	e := &EEPROM{
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		size:     size,
		pageSize: size.DefaultPageSize(),
		data:     make([]byte, size),
		disk:     make([]byte, size),
	}

	// erased cells read as 0xff
	for i := range e.data {
		e.data[i] = 0xff
	}
	copy(e.disk, e.data)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Size returns the device capacity.
func (e *EEPROM) Size() Size {
	return e.size
}

// PageSize returns the write page size.
func (e *EEPROM) PageSize() int {
	return e.pageSize
}

// SetWriteProtect drives the write protect pin.
func (e *EEPROM) SetWriteProtect(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readOnly = on
}

// Start implements i2c.Device.
func (e *EEPROM) Start(addr i2c.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.wordNext = true
	e.log.Debug("eeprom start", "address", addr.String())
}

// Stop implements i2c.Device.
func (e *EEPROM) Stop(addr i2c.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.wordNext = false
	e.log.Debug("eeprom stop", "address", addr.String(), "pointer", e.ptr)
}

// Write implements i2c.Device.
func (e *EEPROM) Write(addr i2c.Address, b byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.wordNext {
		e.wordNext = false
		e.ptr = (e.block(addr)*blockSize + int(b)) % int(e.size)
		return
	}

	if e.readOnly {
		e.log.Debug("eeprom write protected", "offset", e.ptr)
		return
	}
	e.data[e.ptr] = b
	e.nextPageAddress()
}

// Read implements i2c.Device.
func (e *EEPROM) Read(addr i2c.Address) byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.wordNext = false
	v := e.data[e.ptr]
	e.ptr = (e.ptr + 1) % int(e.size)
	return v
}

// block extracts the block select bits from the device address.
func (e *EEPROM) block(addr i2c.Address) int {
	return int(addr) & (e.size.Blocks() - 1)
}

// nextPageAddress keeps writes on the same page by looping back to the start
// of the current page.
func (e *EEPROM) nextPageAddress() {
	mask := e.pageSize - 1
	if e.ptr&mask == mask {
		e.ptr &^= mask
	} else {
		e.ptr++
	}
}

// Peek returns the byte at offset without touching the address pointer.
func (e *EEPROM) Peek(offset int) (byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if offset < 0 || offset >= len(e.data) {
		return 0, fmt.Errorf("eeprom: offset %d out of range", offset)
	}
	return e.data[offset], nil
}

// Poke stores a byte regardless of write protection.
func (e *EEPROM) Poke(offset int, v byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if offset < 0 || offset >= len(e.data) {
		return fmt.Errorf("eeprom: offset %d out of range", offset)
	}
	e.data[offset] = v
	return nil
}

// Bytes returns a copy of the memory array.
func (e *EEPROM) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.data)
}

// Load replaces the memory array with the image at path.
func (e *EEPROM) Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("eeprom: load: %w", err)
	}
	if len(b) != int(e.size) {
		return fmt.Errorf("%w: %s is %d bytes, device is %d", ErrImageSize, path, len(b), e.size)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.data, b)
	copy(e.disk, b)
	e.log.Info("eeprom image loaded", "path", path)
	return nil
}

// Save writes the memory array to path.
func (e *EEPROM) Save(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.WriteFile(path, e.data, 0o644); err != nil {
		return fmt.Errorf("eeprom: save: %w", err)
	}
	copy(e.disk, e.data)
	e.log.Info("eeprom image saved", "path", path)
	return nil
}

// IsSaved reports whether the memory array matches the last loaded or saved
// image.
func (e *EEPROM) IsSaved() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Equal(e.data, e.disk)
}

var _ i2c.Device = (*EEPROM)(nil)
