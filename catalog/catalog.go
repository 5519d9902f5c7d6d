package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"DatasetApp/dataset"
)

var ErrNotFound = errors.New("dataset not found")

// Catalog records datasets by name.
type Catalog interface {
	Has(ctx context.Context, name string) (bool, error)
	Put(ctx context.Context, ds *dataset.Dataset) error
	Get(ctx context.Context, name string) (*dataset.Dataset, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

type Memory struct {
	mu       sync.RWMutex
	datasets map[string]*dataset.Dataset
}

func NewMemory() *Memory {
	return &Memory{datasets: make(map[string]*dataset.Dataset)}
}

var (
	defaultOnce sync.Once
	defaultMem  *Memory
)

// Default is the process-wide in-memory catalog.
func Default() *Memory {
	defaultOnce.Do(func() {
		defaultMem = NewMemory()
	})
	return defaultMem
}

func (m *Memory) Has(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.datasets[name]
	return ok, nil
}

func (m *Memory) Put(_ context.Context, ds *dataset.Dataset) error {
	if ds == nil || ds.Name() == "" {
		return errors.New("dataset must have a name")
	}
	m.mu.Lock()
	m.datasets[ds.Name()] = ds
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, name string) (*dataset.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.datasets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ds, nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.datasets))
	for name := range m.datasets {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.datasets, name)
	return nil
}
