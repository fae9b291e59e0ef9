package power

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// DefaultPulsesPerKWh is the usual S0 rate of DIN-rail kWh meters.
const DefaultPulsesPerKWh = 1000

// PulseConfig configures a PulseSource.
type PulseConfig struct {
	Chip         string // e.g. "gpiochip0"
	Line         int    // line offset (BCM numbering on a Raspberry Pi)
	PulsesPerKWh float64
}

// pulseMeter turns pulse timestamps into watts.
// One pulse is 1/ppk kWh, so the mean power over an interval of s seconds is
// 3.6e6 / (ppk * s) watts.
type pulseMeter struct {
	ppk float64

	mu    sync.Mutex
	prev  time.Time
	last  time.Time
	count int
}

func newPulseMeter(pulsesPerKWh float64) *pulseMeter {
	if pulsesPerKWh <= 0 {
		pulsesPerKWh = DefaultPulsesPerKWh
	}
	return &pulseMeter{ppk: pulsesPerKWh}
}

func (m *pulseMeter) pulse(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prev = m.last
	m.last = at
	m.count++
}

// reading reports the power at now. While no new pulse arrives the last
// interval is stretched to now, so the value decays as an upper bound.
func (m *pulseMeter) reading(now time.Time) Reading {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count < 2 {
		return Reading{Status: StatusUnknown, At: now}
	}

	interval := m.last.Sub(m.prev)
	if since := now.Sub(m.last); since > interval {
		interval = since
	}
	if interval <= 0 {
		return Reading{Status: StatusUnknown, At: now}
	}

	watts := 3.6e6 / (m.ppk * interval.Seconds())
	return Reading{Status: StatusAvailable, Raw: strconv.FormatFloat(watts, 'f', 1, 64), At: now}
}

// PulseSource reads power from the S0 pulse output of a kWh meter.
type PulseSource struct {
	meter *pulseMeter
	now   func() time.Time
	line  pulseLine
}

// pulseLine is the hardware side of a PulseSource.
type pulseLine interface {
	Close() error
}

// Read returns the power derived from the last pulses.
func (s *PulseSource) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	return s.meter.reading(s.now()), nil
}

// Close releases the GPIO line.
func (s *PulseSource) Close() error {
	if s.line == nil {
		return nil
	}
	return s.line.Close()
}
