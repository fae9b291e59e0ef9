package logic

import "time"

// BurnAccountant charges fuel for each completed burn phase.
// A phase is only charged when it ends, so a run still in progress contributes nothing.
type BurnAccountant struct {
	lphRun      float64
	kwhPerLiter float64

	active    bool
	startedAt time.Time
}

// NewBurnAccountant creates an accountant for a burner consuming lphRun liters
// per hour while running.
func NewBurnAccountant(lphRun, kwhPerLiter float64) *BurnAccountant {
	return &BurnAccountant{lphRun: lphRun, kwhPerLiter: kwhPerLiter}
}

// Update feeds the filtered state and returns the delta emitted this tick.
// The second return value is true on the tick a phase completes.
func (b *BurnAccountant) Update(filtered State, now time.Time) (Delta, bool) {
	if filtered == StateBurn {
		if !b.active {
			b.active = true
			b.startedAt = now
		}
		return Delta{}, false
	}

	if !b.active {
		return Delta{}, false
	}

	hours := now.Sub(b.startedAt).Hours()
	liters := hours * b.lphRun
	b.active = false
	b.startedAt = time.Time{}
	return Delta{Liters: liters, EnergyKWh: liters * b.kwhPerLiter}, true
}

// Active reports whether a burn phase is in progress and when it started.
func (b *BurnAccountant) Active() (time.Time, bool) {
	return b.startedAt, b.active
}

// Flow returns the display flow rate (L/h) for the filtered state.
func (b *BurnAccountant) Flow(filtered State) float64 {
	if filtered == StateBurn {
		return b.lphRun
	}
	return 0
}

// ThermalKW converts a flow rate into thermal power.
func (b *BurnAccountant) ThermalKW(flowLPH float64) float64 {
	return flowLPH * b.kwhPerLiter
}
