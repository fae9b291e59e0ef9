package power

import (
	"context"
	"errors"
	"sync"
)

// FakeSource is a test double that returns scripted readings.
type FakeSource struct {
	mu sync.Mutex

	// Readings contains scripted values to return.
	// Each call to Read consumes the next reading.
	Readings []Reading

	// index tracks current position in Readings
	index int

	// Reads counts calls to Read.
	Reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read
	ReadError error

	// Block makes Read wait for the context to be done.
	Block bool
}

// NewFakeSource creates a FakeSource with the given readings.
func NewFakeSource(readings ...Reading) *FakeSource {
	return &FakeSource{Readings: readings}
}

// Read returns the next scripted reading.
// If readings are exhausted, returns the last reading repeatedly.
func (f *FakeSource) Read(ctx context.Context) (Reading, error) {
	f.mu.Lock()
	f.Reads++
	block := f.Block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return Reading{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return Reading{}, f.ReadError
	}
	if len(f.Readings) == 0 {
		return Reading{}, errors.New("no readings configured")
	}

	r := f.Readings[f.index]
	if f.index < len(f.Readings)-1 {
		f.index++
	}
	return r, nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
