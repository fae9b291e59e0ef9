package logic

import "time"

// Debouncer turns a noisy raw state stream into a stable filtered one.
type Debouncer struct {
	duration time.Duration

	seeded          bool
	lastRaw         State
	lastRawChangeAt time.Time
	filtered        State
}

// NewDebouncer creates a filter that adopts a raw state once it has been
// current for at least d.
func NewDebouncer(d time.Duration) *Debouncer {
	return &Debouncer{duration: d}
}

// Update feeds one raw observation and returns the filtered state.
// The very first observation is adopted immediately.
func (d *Debouncer) Update(raw State, now time.Time) State {
	if !d.seeded {
		d.seeded = true
		d.lastRaw = raw
		d.lastRawChangeAt = now
		d.filtered = raw
		return d.filtered
	}

	if raw != d.lastRaw {
		d.lastRaw = raw
		d.lastRawChangeAt = now
	}

	if now.Sub(d.lastRawChangeAt) >= d.duration {
		d.filtered = d.lastRaw
	}
	return d.filtered
}

// Filtered returns the current filtered state (empty before the first update).
func (d *Debouncer) Filtered() State {
	return d.filtered
}
