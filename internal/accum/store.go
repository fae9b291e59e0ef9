package accum

import (
	"context"
	"errors"
	"sync"
)

// Record is the persisted form of one bucket.
// Key is the calendar period the value belongs to; empty when unknown.
type Record struct {
	Value float64
	Key   string
}

// Store persists bucket records across restarts.
type Store interface {
	// Load returns the last saved record for name. ok is false when nothing was saved.
	Load(ctx context.Context, name string) (rec Record, ok bool, err error)

	// Save writes the record for name.
	Save(ctx context.Context, name string, rec Record) error

	// Close releases the store.
	Close() error
}

// MemoryStore is an in-process Store, used when persistence is disabled and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record

	// LoadError, if set, will be returned by Load.
	LoadError error

	// SaveError, if set, will be returned by Save.
	SaveError error

	// Saves counts successful Save calls.
	Saves int

	// Attempts counts every Save call, failed ones included.
	Attempts int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Load returns the record for name.
func (m *MemoryStore) Load(ctx context.Context, name string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadError != nil {
		return Record{}, false, m.LoadError
	}
	rec, ok := m.records[name]
	return rec, ok, nil
}

// Save stores the record for name.
func (m *MemoryStore) Save(ctx context.Context, name string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts++
	if m.SaveError != nil {
		return m.SaveError
	}
	m.records[name] = rec
	m.Saves++
	return nil
}

// Put seeds a record directly.
func (m *MemoryStore) Put(name string, rec Record) {
	m.mu.Lock()
	m.records[name] = rec
	m.mu.Unlock()
}

// Get returns the stored record for name.
func (m *MemoryStore) Get(name string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	return rec, ok
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// ErrMalformedValue is returned by stores when a persisted value cannot be parsed.
var ErrMalformedValue = errors.New("malformed persisted value")
