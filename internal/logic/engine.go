package logic

import (
	"fmt"
	"math"
	"time"
)

// Params configures an Engine. They are fixed for the life of the engine;
// changing them means building a new engine with fresh state.
type Params struct {
	Thresholds   Thresholds
	Debounce     time.Duration
	LPHRun       float64
	KWhPerLiter  float64
	MinPreheat   time.Duration
	CheckWindow  time.Duration
	StableBurn   time.Duration
	AbsenceLimit time.Duration
	// PreheatTrickleLPH is a cosmetic flow shown during prechauffage.
	// It never reaches the burn accounting.
	PreheatTrickleLPH float64
}

// DefaultParams returns the factory settings.
func DefaultParams() Params {
	return Params{
		Thresholds:   DefaultThresholds(),
		Debounce:     3 * time.Second,
		LPHRun:       2.1,
		KWhPerLiter:  10.0,
		MinPreheat:   DefaultMinPreheat,
		CheckWindow:  DefaultCheckWindow,
		StableBurn:   DefaultStableBurn,
		AbsenceLimit: DefaultAbsenceLimit,
	}
}

// Validate checks the parameters. Invalid parameters must prevent startup.
func (p Params) Validate() error {
	if err := p.Thresholds.Validate(); err != nil {
		return err
	}
	switch {
	case p.Debounce < 0:
		return fmt.Errorf("%w: debounce must be >= 0, got %v", ErrInvalidParams, p.Debounce)
	case !(p.LPHRun > 0):
		return fmt.Errorf("%w: lph_run must be > 0, got %v", ErrInvalidParams, p.LPHRun)
	case !(p.KWhPerLiter > 0):
		return fmt.Errorf("%w: kwh_per_liter must be > 0, got %v", ErrInvalidParams, p.KWhPerLiter)
	case p.MinPreheat <= 0, p.CheckWindow <= 0, p.StableBurn <= 0, p.AbsenceLimit <= 0:
		return fmt.Errorf("%w: preheat, window, stable burn and absence durations must be > 0", ErrInvalidParams)
	case p.PreheatTrickleLPH < 0:
		return fmt.Errorf("%w: preheat trickle must be >= 0, got %v", ErrInvalidParams, p.PreheatTrickleLPH)
	}
	return nil
}

// Engine is the single owner of all per-tick inference state.
// Not safe for concurrent use; ticks must run one after another.
type Engine struct {
	params Params

	debounce *Debouncer
	phc      *PreheatCheck
	absence  *AbsenceWatchdog
	burn     *BurnAccountant

	startTime     time.Time
	lastHeartbeat time.Time
	counts        Counts
	last          Result
}

// NewEngine validates params and creates an engine in the neutral state.
// The startTime is used for calculating uptime in heartbeat events.
func NewEngine(params Params, startTime time.Time) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		params:        params,
		debounce:      NewDebouncer(params.Debounce),
		phc:           NewPreheatCheck(params.MinPreheat, params.CheckWindow, params.StableBurn),
		absence:       NewAbsenceWatchdog(params.AbsenceLimit),
		burn:          NewBurnAccountant(params.LPHRun, params.KWhPerLiter),
		startTime:     startTime,
		lastHeartbeat: startTime,
	}, nil
}

// Tick runs one inference pass. A malformed sample returns an error and
// leaves every piece of state untouched.
func (e *Engine) Tick(now time.Time, sample PowerSample) (Result, error) {
	if sample.Valid && (math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0)) {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedSample, sample.Value)
	}

	watts := sample.Watts()
	raw := Classify(watts, e.params.Thresholds)
	filtered := e.debounce.Update(raw, now)

	switch e.phc.Update(filtered, now) {
	case PHCPassed:
		e.absence.Certify(now)
		e.counts.PHCPasses++
	case PHCFailed:
		e.counts.PHCFailures++
	}

	// Any burn run that has stayed stable certifies the burner too.
	if filtered == StateBurn && e.phc.HeldFor(now) >= e.params.StableBurn {
		e.absence.Certify(now)
	}

	delta, completed := e.burn.Update(filtered, now)
	if completed {
		e.counts.BurnPhases++
	}

	flow := e.burn.Flow(filtered)
	display := flow
	if filtered == StatePrechauffage {
		display = e.params.PreheatTrickleLPH
	}

	errPHC := e.phc.Error()
	errAbsence := e.absence.Evaluate(filtered, now)

	e.counts.Ticks++
	e.last = Result{
		Time:           now,
		Power:          watts,
		StateRaw:       raw,
		StateFiltered:  filtered,
		BurnerRunning:  filtered == StateBurn,
		FlowLPH:        flow,
		DisplayFlowLPH: display,
		ThermalKW:      e.burn.ThermalKW(flow),
		DeltaLiters:    delta.Liters,
		DeltaEnergyKWh: delta.EnergyKWh,
		ErrorPHC:       errPHC,
		ErrorAbsence:   errAbsence,
		ErrorGlobal:    errPHC || errAbsence,
	}
	return e.last, nil
}

// Params returns the engine configuration.
func (e *Engine) Params() Params {
	return e.params
}

// Last returns the result of the most recent successful tick.
func (e *Engine) Last() (Result, bool) {
	return e.last, e.counts.Ticks > 0
}

// Ready reports whether at least one tick has completed.
func (e *Engine) Ready() bool {
	return e.counts.Ticks > 0
}

// CountsSnapshot returns a copy of the activity counters.
func (e *Engine) CountsSnapshot() Counts {
	return e.counts
}

// PHCPending reports whether a preheat verification window is open.
func (e *Engine) PHCPending() bool {
	return e.phc.Pending()
}

// BurnLastOK returns the last certified burn, if any.
func (e *Engine) BurnLastOK() (time.Time, bool) {
	return e.absence.LastOK()
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil before the first tick, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (e *Engine) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !e.Ready() {
		return nil
	}

	if now.Sub(e.lastHeartbeat) < interval {
		return nil
	}

	e.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(e.startTime),
		Counts:    e.counts,
	}
}
