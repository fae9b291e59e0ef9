package logic

import "time"

// DefaultAbsenceLimit is how long the boiler may go without a certified burn.
const DefaultAbsenceLimit = time.Hour

// AbsenceWatchdog flags prolonged absence of burner activity.
type AbsenceWatchdog struct {
	limit      time.Duration
	burnLastOK time.Time
	certified  bool
}

// NewAbsenceWatchdog creates a watchdog with no certified burn yet.
func NewAbsenceWatchdog(limit time.Duration) *AbsenceWatchdog {
	return &AbsenceWatchdog{limit: limit}
}

// Certify records a healthy burn at now. Repeated calls only refresh the timestamp.
func (a *AbsenceWatchdog) Certify(now time.Time) {
	a.burnLastOK = now
	a.certified = true
}

// LastOK returns the last certified burn, if any.
func (a *AbsenceWatchdog) LastOK() (time.Time, bool) {
	return a.burnLastOK, a.certified
}

// Evaluate returns the absence error for the given filtered state.
// Arret and nuit are deliberate idle states and never raise the flag.
func (a *AbsenceWatchdog) Evaluate(filtered State, now time.Time) bool {
	if filtered.Idle() {
		return false
	}
	if !a.certified {
		return true
	}
	return now.Sub(a.burnLastOK) > a.limit
}
