package logic

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Representative power levels for each state under DefaultThresholds.
var watts = map[State]float64{
	StateArret:        0,
	StateNuit:         20,
	StatePompe:        60,
	StatePrechauffage: 100,
	StatePostcirc:     300,
	StateBurn:         1000,
	StateHorsPlage:    2500,
}

func newTestEngine(t *testing.T, debounce time.Duration) (*Engine, time.Time) {
	t.Helper()
	start := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	p := DefaultParams()
	p.Debounce = debounce
	p.LPHRun = 2.0
	p.KWhPerLiter = 10.0
	e, err := NewEngine(p, start)
	require.NoError(t, err)
	return e, start
}

// feed ticks the engine at 1 Hz through the given segments starting at second
// *sec and returns the last result.
func feed(t *testing.T, e *Engine, base time.Time, sec *int, segs ...segment) Result {
	t.Helper()
	var r Result
	for _, sg := range segs {
		for i := 0; i < sg.secs; i++ {
			var err error
			r, err = e.Tick(base.Add(time.Duration(*sec)*time.Second), PowerSample{Value: watts[sg.state], Valid: true})
			require.NoError(t, err)
			*sec++
		}
	}
	return r
}

func TestNewEngineRejectsInvalidParams(t *testing.T) {
	start := time.Now()

	bad := DefaultParams()
	bad.Thresholds.Postcirc = bad.Thresholds.BurnMax
	_, err := NewEngine(bad, start)
	assert.ErrorIs(t, err, ErrInvalidThresholds)

	for name, mutate := range map[string]func(*Params){
		"zero lph":         func(p *Params) { p.LPHRun = 0 },
		"negative kwh":     func(p *Params) { p.KWhPerLiter = -1 },
		"nan lph":          func(p *Params) { p.LPHRun = math.NaN() },
		"negative bounce":  func(p *Params) { p.Debounce = -time.Second },
		"zero window":      func(p *Params) { p.CheckWindow = 0 },
		"negative trickle": func(p *Params) { p.PreheatTrickleLPH = -0.1 },
	} {
		p := DefaultParams()
		mutate(&p)
		_, err := NewEngine(p, start)
		assert.ErrorIs(t, err, ErrInvalidParams, name)
	}
}

func TestEngineUnavailableIsZeroWatts(t *testing.T) {
	e, start := newTestEngine(t, 0)

	r, err := e.Tick(start, PowerSample{Value: 1500, Valid: false})
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Power)
	assert.Equal(t, StateArret, r.StateRaw)
	assert.Equal(t, StateArret, r.StateFiltered)
	assert.False(t, r.ErrorGlobal)
}

func TestEngineMalformedSampleDoesNotMutate(t *testing.T) {
	e, start := newTestEngine(t, 0)

	first, err := e.Tick(start, PowerSample{Value: 1000, Valid: true})
	require.NoError(t, err)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := e.Tick(start.Add(time.Second), PowerSample{Value: v, Valid: true})
		assert.ErrorIs(t, err, ErrMalformedSample)
	}

	last, ok := e.Last()
	require.True(t, ok)
	assert.Equal(t, first, last)
	assert.Equal(t, 1, e.CountsSnapshot().Ticks)
}

func TestEnginePHCSuccessScenario(t *testing.T) {
	e, start := newTestEngine(t, 0)
	sec := 0

	feed(t, e, start, &sec,
		segment{StatePrechauffage, 25},
		segment{StatePostcirc, 90},
	)
	require.True(t, e.PHCPending())

	r := feed(t, e, start, &sec, segment{StateBurn, 31}) // t=115..145
	assert.False(t, e.PHCPending())
	assert.False(t, r.ErrorPHC)

	last, ok := e.BurnLastOK()
	require.True(t, ok)
	assert.Equal(t, start.Add(145*time.Second), last)
	assert.False(t, r.ErrorAbsence)
	assert.False(t, r.ErrorGlobal)
	assert.Equal(t, 1, e.CountsSnapshot().PHCPasses)
}

func TestEnginePHCFailureScenario(t *testing.T) {
	e, start := newTestEngine(t, 0)
	sec := 0

	r := feed(t, e, start, &sec,
		segment{StatePrechauffage, 25},
		segment{StatePostcirc, 120}, // t=25..144
	)
	assert.False(t, r.ErrorPHC, "no verdict before the deadline")

	r = feed(t, e, start, &sec, segment{StatePostcirc, 1}) // t=145
	assert.True(t, r.ErrorPHC)
	assert.True(t, r.ErrorGlobal)
	assert.Equal(t, 1, e.CountsSnapshot().PHCFailures)
}

func TestEngineAbsenceScenario(t *testing.T) {
	e, start := newTestEngine(t, 0)
	sec := 0
	r := feed(t, e, start, &sec, segment{StatePompe, 61 * 60})
	assert.True(t, r.ErrorAbsence)
	assert.True(t, r.ErrorGlobal)

	e, start = newTestEngine(t, 0)
	sec = 0
	r = feed(t, e, start, &sec, segment{StateNuit, 61 * 60})
	assert.False(t, r.ErrorAbsence)
	assert.False(t, r.ErrorGlobal)
}

func TestEngineStableBurnCertifies(t *testing.T) {
	e, start := newTestEngine(t, 0)
	sec := 0

	r := feed(t, e, start, &sec, segment{StateBurn, 20}) // t=0..19, held 19s
	assert.True(t, r.ErrorAbsence)
	_, ok := e.BurnLastOK()
	assert.False(t, ok)

	r = feed(t, e, start, &sec, segment{StateBurn, 1}) // t=20
	assert.False(t, r.ErrorAbsence)

	// Pump runs afterwards: fine for an hour, flagged after.
	feed(t, e, start, &sec, segment{StatePompe, 3600}) // t=21..3620
	r = feed(t, e, start, &sec, segment{StatePompe, 1})
	assert.True(t, r.ErrorAbsence)
}

func TestEngineBurnPhaseDelta(t *testing.T) {
	e, start := newTestEngine(t, 0)
	sec := 0

	feed(t, e, start, &sec, segment{StateArret, 10})
	r := feed(t, e, start, &sec, segment{StateBurn, 1800})
	assert.True(t, r.BurnerRunning)
	assert.Equal(t, 2.0, r.FlowLPH)
	assert.InDelta(t, 20.0, r.ThermalKW, 1e-9)
	assert.True(t, r.Delta().IsZero())

	r = feed(t, e, start, &sec, segment{StatePostcirc, 1})
	assert.InDelta(t, 1.0, r.DeltaLiters, 1e-9)
	assert.InDelta(t, 10.0, r.DeltaEnergyKWh, 1e-9)
	assert.False(t, r.BurnerRunning)
	assert.Equal(t, 0.0, r.FlowLPH)

	r = feed(t, e, start, &sec, segment{StatePostcirc, 1})
	assert.True(t, r.Delta().IsZero(), "delta is emitted exactly once")
	assert.Equal(t, 1, e.CountsSnapshot().BurnPhases)
}

func TestEngineDebounceDelaysBothEdges(t *testing.T) {
	e, start := newTestEngine(t, 3*time.Second)
	sec := 0

	feed(t, e, start, &sec, segment{StateArret, 5})
	r := feed(t, e, start, &sec, segment{StateBurn, 3}) // raw burn from t=5
	assert.Equal(t, StateBurn, r.StateRaw)
	assert.Equal(t, StateArret, r.StateFiltered)

	r = feed(t, e, start, &sec, segment{StateBurn, 600}) // filtered burn from t=8
	assert.Equal(t, StateBurn, r.StateFiltered)

	feed(t, e, start, &sec, segment{StateArret, 3})
	r = feed(t, e, start, &sec, segment{StateArret, 1}) // filtered leaves burn at t=611
	assert.InDelta(t, 2.0*603/3600, r.DeltaLiters, 1e-9)
}

func TestEnginePreheatTrickleIsCosmetic(t *testing.T) {
	start := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	p := DefaultParams()
	p.Debounce = 0
	p.PreheatTrickleLPH = 0.3
	e, err := NewEngine(p, start)
	require.NoError(t, err)

	r, err := e.Tick(start, PowerSample{Value: watts[StatePrechauffage], Valid: true})
	require.NoError(t, err)
	assert.Equal(t, 0.3, r.DisplayFlowLPH)
	assert.Equal(t, 0.0, r.FlowLPH)
	assert.Equal(t, 0.0, r.ThermalKW)
	assert.True(t, r.Delta().IsZero())
}

func TestEngineHorsPlage(t *testing.T) {
	e, start := newTestEngine(t, 0)

	r, err := e.Tick(start, PowerSample{Value: watts[StateHorsPlage], Valid: true})
	require.NoError(t, err)
	assert.Equal(t, StateHorsPlage, r.StateRaw)
	assert.False(t, r.BurnerRunning)

	r, err = e.Tick(start.Add(time.Second), PowerSample{Value: watts[StateBurn], Valid: true})
	require.NoError(t, err)
	assert.Equal(t, StateBurn, r.StateRaw)
}

func TestEngineCheckHeartbeat(t *testing.T) {
	e, start := newTestEngine(t, 0)

	assert.Nil(t, e.CheckHeartbeat(start.Add(time.Hour), time.Minute), "no heartbeat before first tick")

	_, err := e.Tick(start, PowerSample{Valid: true})
	require.NoError(t, err)

	assert.Nil(t, e.CheckHeartbeat(start.Add(30*time.Second), time.Minute))
	assert.Nil(t, e.CheckHeartbeat(start.Add(2*time.Minute), 0), "disabled")

	hb := e.CheckHeartbeat(start.Add(time.Minute), time.Minute)
	require.NotNil(t, hb)
	assert.Equal(t, time.Minute, hb.Uptime)
	assert.Equal(t, 1, hb.Counts.Ticks)

	assert.Nil(t, e.CheckHeartbeat(start.Add(90*time.Second), time.Minute))
	assert.NotNil(t, e.CheckHeartbeat(start.Add(2*time.Minute), time.Minute))
}
