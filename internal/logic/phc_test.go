package logic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// segment is a filtered state held for a number of one-second ticks.
type segment struct {
	state State
	secs  int
}

// runPHC feeds segments into p at 1 Hz starting at base and returns the
// outcome observed at each second.
func runPHC(p *PreheatCheck, base time.Time, segs ...segment) map[int]PHCOutcome {
	out := make(map[int]PHCOutcome)
	sec := 0
	for _, sg := range segs {
		for i := 0; i < sg.secs; i++ {
			if o := p.Update(sg.state, base.Add(time.Duration(sec)*time.Second)); o != PHCNone {
				out[sec] = o
			}
			sec++
		}
	}
	return out
}

func newTestPHC() *PreheatCheck {
	return NewPreheatCheck(DefaultMinPreheat, DefaultCheckWindow, DefaultStableBurn)
}

func TestPHCSuccess(t *testing.T) {
	base := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	p := newTestPHC()

	// Preheat 25s, postcirc until t=115, burn from t=115 through the t=145 deadline.
	outcomes := runPHC(p, base,
		segment{StatePrechauffage, 25},
		segment{StatePostcirc, 90},
		segment{StateBurn, 40},
	)

	assert.Equal(t, map[int]PHCOutcome{25: PHCArmed, 145: PHCPassed}, outcomes)
	assert.False(t, p.Error())
	assert.False(t, p.Pending())
}

func TestPHCFailureNoBurn(t *testing.T) {
	base := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	p := newTestPHC()

	outcomes := runPHC(p, base,
		segment{StatePrechauffage, 25},
		segment{StatePostcirc, 130},
	)

	assert.Equal(t, map[int]PHCOutcome{25: PHCArmed, 145: PHCFailed}, outcomes)
	assert.True(t, p.Error())
	assert.False(t, p.Pending())
}

func TestPHCFailureBurnNotStableAtDeadline(t *testing.T) {
	base := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	p := newTestPHC()

	// Burn starts at t=135, only 10s old when the deadline hits.
	outcomes := runPHC(p, base,
		segment{StatePrechauffage, 25},
		segment{StatePostcirc, 110},
		segment{StateBurn, 60},
	)

	assert.Equal(t, PHCFailed, outcomes[145])
	assert.True(t, p.Error())
}

func TestPHCShortPreheatDoesNotArm(t *testing.T) {
	base := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	p := newTestPHC()

	outcomes := runPHC(p, base,
		segment{StatePrechauffage, 19},
		segment{StatePostcirc, 200},
	)

	assert.Empty(t, outcomes)
	assert.False(t, p.Error())
	assert.False(t, p.Pending())
}

func TestPHCMinPreheatVariant(t *testing.T) {
	base := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	p := NewPreheatCheck(15*time.Second, DefaultCheckWindow, DefaultStableBurn)

	outcomes := runPHC(p, base,
		segment{StatePrechauffage, 16},
		segment{StatePostcirc, 10},
	)

	assert.Equal(t, map[int]PHCOutcome{16: PHCArmed}, outcomes)
	assert.True(t, p.Pending())
}

func TestPHCRearmIgnoredWhilePending(t *testing.T) {
	base := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	p := newTestPHC()

	runPHC(p, base,
		segment{StatePrechauffage, 25},
		segment{StatePompe, 5},
	)
	first, pending := p.Deadline()
	require.True(t, pending)
	assert.Equal(t, base.Add(145*time.Second), first)

	// A second full preheat while the first check is still open.
	for sec := 30; sec < 55; sec++ {
		p.Update(StatePrechauffage, base.Add(time.Duration(sec)*time.Second))
	}
	assert.Equal(t, PHCNone, p.Update(StatePompe, base.Add(55*time.Second)))

	again, pending := p.Deadline()
	require.True(t, pending)
	assert.Equal(t, first, again, "deadline must not move while pending")
}

func TestPHCErrorLatchedUntilNextResolve(t *testing.T) {
	base := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	p := newTestPHC()

	runPHC(p, base,
		segment{StatePrechauffage, 25},
		segment{StatePostcirc, 130},
	)
	require.True(t, p.Error())

	// Long after the failure, the flag stays set while idle.
	p.Update(StateArret, base.Add(10*time.Minute))
	p.Update(StateArret, base.Add(30*time.Minute))
	assert.True(t, p.Error())

	// Next cycle arms (clearing the flag) and passes.
	start := 31 * time.Minute
	p.Update(StatePrechauffage, base.Add(start))
	assert.Equal(t, PHCArmed, p.Update(StateBurn, base.Add(start+25*time.Second)))
	assert.False(t, p.Error())
	assert.Equal(t, PHCPassed, p.Update(StateBurn, base.Add(start+25*time.Second+DefaultCheckWindow)))
	assert.False(t, p.Error())
}

func TestPHCHeldFor(t *testing.T) {
	base := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	p := newTestPHC()

	assert.Equal(t, time.Duration(0), p.HeldFor(base))
	p.Update(StateBurn, base)
	p.Update(StateBurn, base.Add(10*time.Second))
	assert.Equal(t, 12*time.Second, p.HeldFor(base.Add(12*time.Second)))
}
