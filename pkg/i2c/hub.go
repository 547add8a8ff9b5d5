package i2c

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Hub owns the named buses of an emulated system. It replaces a process-wide
// device table: whoever composes the topology creates a Hub and hands it to
// the bus endpoints.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	buses map[string]*Bus
}

// NewHub creates an empty hub. A nil logger disables tracing.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		buses: make(map[string]*Bus),
	}
}

// AddBus registers a new empty bus under name.
func (h *Hub) AddBus(name string) (*Bus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.buses[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrBusExists, name)
	}
	bus := NewBus(name, WithLogger(h.log))
	h.buses[name] = bus
	return bus, nil
}

// RemoveBus deregisters bus. Removing a bus that is not registered is a no-op.
func (h *Hub) RemoveBus(bus *Bus) {
	if bus == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.buses[bus.name] == bus {
		delete(h.buses, bus.name)
	}
}

// Bus looks up a bus by name.
func (h *Hub) Bus(name string) (*Bus, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bus, ok := h.buses[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoBus, name)
	}
	return bus, nil
}

// Names returns the registered bus names in sorted order.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.buses))
	for name := range h.buses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
