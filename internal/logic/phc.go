package logic

import "time"

// Preheat verification defaults.
const (
	DefaultMinPreheat  = 20 * time.Second
	DefaultCheckWindow = 2 * time.Minute
	DefaultStableBurn  = 20 * time.Second
)

// PHCOutcome is what a PreheatCheck update produced.
type PHCOutcome int

const (
	PHCNone PHCOutcome = iota
	PHCArmed
	PHCPassed
	PHCFailed
)

// PreheatCheck verifies that a completed preheat cycle is followed by a
// stable burner ignition within the check window.
//
// Arm: the filtered state leaves prechauffage after holding it for at least
// minPreheat. Resolve: once the deadline has passed, the check passes if the
// filtered state is burn and the current burn run has lasted stableBurn.
// The error flag is latched until the next resolve.
type PreheatCheck struct {
	minPreheat time.Duration
	window     time.Duration
	stableBurn time.Duration

	pending  bool
	deadline time.Time
	err      bool

	seeded       bool
	last         State
	lastChangeAt time.Time
}

// NewPreheatCheck creates an idle check.
func NewPreheatCheck(minPreheat, window, stableBurn time.Duration) *PreheatCheck {
	return &PreheatCheck{
		minPreheat: minPreheat,
		window:     window,
		stableBurn: stableBurn,
	}
}

// Update feeds the filtered state for one tick.
func (p *PreheatCheck) Update(filtered State, now time.Time) PHCOutcome {
	outcome := PHCNone

	if !p.seeded {
		p.seeded = true
		p.last = filtered
		p.lastChangeAt = now
	} else if filtered != p.last {
		held := now.Sub(p.lastChangeAt)
		// A check already in flight runs to completion; re-arming is ignored.
		if p.last == StatePrechauffage && held >= p.minPreheat && !p.pending {
			p.pending = true
			p.deadline = now.Add(p.window)
			p.err = false
			outcome = PHCArmed
		}
		p.last = filtered
		p.lastChangeAt = now
	}

	if p.pending && !now.Before(p.deadline) {
		p.pending = false
		p.deadline = time.Time{}
		if filtered == StateBurn && now.Sub(p.lastChangeAt) >= p.stableBurn {
			p.err = false
			return PHCPassed
		}
		p.err = true
		return PHCFailed
	}

	return outcome
}

// HeldFor returns how long the current filtered state has been held.
func (p *PreheatCheck) HeldFor(now time.Time) time.Duration {
	if !p.seeded {
		return 0
	}
	return now.Sub(p.lastChangeAt)
}

// Pending reports whether a verification window is open.
func (p *PreheatCheck) Pending() bool {
	return p.pending
}

// Deadline returns the end of the open verification window.
func (p *PreheatCheck) Deadline() (time.Time, bool) {
	return p.deadline, p.pending
}

// Error reports the latched PHC fault flag.
func (p *PreheatCheck) Error() bool {
	return p.err
}
