package residency

import (
	"fmt"
	"sync"
)

// Model is an opaque handle to a loadable model component.
type Model interface {
	Name() string
	SizeBytes() int64
}

// Device is the accelerator memory the manager places models on.
type Device interface {
	FreeBytes() int64
	Load(m Model) error
	Offload(m Model) error
}

// MemoryDevice is an accounting-only device with a fixed capacity.
type MemoryDevice struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	loaded   map[string]int64
}

// NewMemoryDevice returns a device that can hold capacity bytes.
func NewMemoryDevice(capacity int64) *MemoryDevice {
	return &MemoryDevice{capacity: capacity, loaded: make(map[string]int64)}
}

func (d *MemoryDevice) FreeBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capacity - d.used
}

// CapacityBytes is the total device size.
func (d *MemoryDevice) CapacityBytes() int64 {
	return d.capacity
}

func (d *MemoryDevice) Load(m Model) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.loaded[m.Name()]; ok {
		return nil
	}
	size := m.SizeBytes()
	if d.used+size > d.capacity {
		return fmt.Errorf("%w: load %s needs %d bytes, %d free", ErrResourceExhausted, m.Name(), size, d.capacity-d.used)
	}
	d.loaded[m.Name()] = size
	d.used += size
	return nil
}

func (d *MemoryDevice) Offload(m Model) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	size, ok := d.loaded[m.Name()]
	if !ok {
		return nil
	}
	delete(d.loaded, m.Name())
	d.used -= size
	return nil
}

// Loaded reports whether a model is currently on the device.
func (d *MemoryDevice) Loaded(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.loaded[name]
	return ok
}

// StaticModel is a named model with a fixed footprint.
type StaticModel struct {
	ModelName string `json:"name" yaml:"name"`
	Bytes     int64  `json:"sizeBytes" yaml:"sizeBytes"`
}

func (m StaticModel) Name() string     { return m.ModelName }
func (m StaticModel) SizeBytes() int64 { return m.Bytes }
