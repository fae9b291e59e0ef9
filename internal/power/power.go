// Package power provides the instantaneous electrical power reading of the
// boiler with hardware abstraction.
// The MQTT implementation follows a smart-plug topic, the pulse implementation
// counts the S0 output of a kWh meter on a GPIO line, and the fake
// implementation allows testing without either.
package power

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/fioul-boiler/internal/logic"
)

var (
	// ErrMalformedReading is returned when an available reading is not a finite number.
	ErrMalformedReading = errors.New("malformed power reading")

	// ErrReadTimeout is returned when a source does not answer in time.
	ErrReadTimeout = errors.New("power read timed out")
)

// Status is the availability of a reading.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusUnknown     Status = "unknown"
)

// Reading is one power observation as reported by a source.
type Reading struct {
	Status Status
	Raw    string // numeric text in watts when Status is available
	At     time.Time
}

// Sample converts the reading into the engine's input.
// Unavailable and unknown readings become an invalid sample (treated as 0 W).
func (r Reading) Sample() (logic.PowerSample, error) {
	if r.Status != StatusAvailable {
		return logic.PowerSample{}, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return logic.PowerSample{}, fmt.Errorf("%w: %q", ErrMalformedReading, r.Raw)
	}
	return logic.PowerSample{Value: v, Valid: true}, nil
}

// Source reads the current power draw.
type Source interface {
	// Read returns the most recent reading.
	Read(ctx context.Context) (Reading, error)

	// Close releases the source.
	Close() error
}

// DefaultReadTimeout bounds a read when no timeout is configured.
const DefaultReadTimeout = 500 * time.Millisecond

// ReadWithTimeout reads src, giving up after d.
// Every read is bounded: a non-positive d falls back to DefaultReadTimeout.
func ReadWithTimeout(ctx context.Context, src Source, d time.Duration) (Reading, error) {
	if d <= 0 {
		d = DefaultReadTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		r   Reading
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := src.Read(ctx)
		done <- result{r, err}
	}()

	select {
	case res := <-done:
		return res.r, res.err
	case <-ctx.Done():
		return Reading{}, fmt.Errorf("%w after %s", ErrReadTimeout, d)
	}
}

// ParsePayload interprets a sensor payload received at.
// Accepted forms are a bare number, the words "unavailable" or "unknown",
// or a JSON object whose field holds either of those.
func ParsePayload(payload []byte, field string, at time.Time) Reading {
	text := strings.TrimSpace(string(payload))

	if strings.HasPrefix(text, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return Reading{Status: StatusAvailable, Raw: text, At: at}
		}
		v, ok := obj[field]
		if !ok || v == nil {
			return Reading{Status: StatusUnknown, At: at}
		}
		switch val := v.(type) {
		case float64:
			return Reading{Status: StatusAvailable, Raw: strconv.FormatFloat(val, 'f', -1, 64), At: at}
		case string:
			text = strings.TrimSpace(val)
		default:
			return Reading{Status: StatusAvailable, Raw: fmt.Sprint(val), At: at}
		}
	}

	switch strings.ToLower(text) {
	case "", string(StatusUnknown):
		return Reading{Status: StatusUnknown, At: at}
	case string(StatusUnavailable):
		return Reading{Status: StatusUnavailable, At: at}
	}
	return Reading{Status: StatusAvailable, Raw: text, At: at}
}
