package jobstore

import (
	"context"
	"errors"
	"sync"
)

// Memory is an in-process Store. Records are stored encoded so callers
// never share slices with the store.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("jobstore: record id is required")
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = data
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	data, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return decode(data)
}

func (m *Memory) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, data := range m.records {
		rec, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return newestFirst(out, limit), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *Memory) Close() error { return nil }

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Badger)(nil)
)
