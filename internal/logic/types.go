// Package logic contains the pure inference engine for the oil boiler.
// This package has NO external dependencies (no MQTT, GPIO, storage, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"time"
)

var (
	ErrInvalidThresholds = errors.New("thresholds must be strictly increasing")
	ErrInvalidParams     = errors.New("invalid engine parameters")
	ErrMalformedSample   = errors.New("malformed power sample")
)

// State is the operating state of the boiler inferred from electrical power.
type State string

const (
	StateArret        State = "arret"
	StateNuit         State = "nuit"
	StatePompe        State = "pompe"
	StatePrechauffage State = "prechauffage"
	StatePostcirc     State = "postcirc"
	StateBurn         State = "burn"
	StateHorsPlage    State = "hors"
)

// States lists every state in threshold order.
var States = []State{
	StateArret,
	StateNuit,
	StatePompe,
	StatePrechauffage,
	StatePostcirc,
	StateBurn,
	StateHorsPlage,
}

// Index returns the ordinal of s in threshold order, or -1 for unknown values.
func (s State) Index() int {
	for i, st := range States {
		if st == s {
			return i
		}
	}
	return -1
}

// Idle reports whether the boiler is deliberately idle (stopped or night mode).
func (s State) Idle() bool {
	return s == StateArret || s == StateNuit
}

// Thresholds are the upper power boundaries (watts) of each state.
type Thresholds struct {
	Arret        float64 `mapstructure:"arret" yaml:"arret"`
	Nuit         float64 `mapstructure:"nuit" yaml:"nuit"`
	Pompe        float64 `mapstructure:"pompe" yaml:"pompe"`
	Prechauffage float64 `mapstructure:"prechauffage" yaml:"prechauffage"`
	Postcirc     float64 `mapstructure:"postcirc" yaml:"postcirc"`
	BurnMax      float64 `mapstructure:"burn_max" yaml:"burn_max"`
}

// DefaultThresholds returns the factory boundaries for a typical domestic oil boiler.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Arret:        10,
		Nuit:         40,
		Pompe:        80,
		Prechauffage: 200,
		Postcirc:     400,
		BurnMax:      2000,
	}
}

// Validate checks that the boundaries are strictly increasing.
func (t Thresholds) Validate() error {
	b := []float64{t.Arret, t.Nuit, t.Pompe, t.Prechauffage, t.Postcirc, t.BurnMax}
	for i := 1; i < len(b); i++ {
		if !(b[i] > b[i-1]) {
			return ErrInvalidThresholds
		}
	}
	return nil
}

// PowerSample is one instantaneous power reading.
// Valid is false when the sensor reported unavailable or unknown.
type PowerSample struct {
	Value float64
	Valid bool
}

// Watts returns the value used for classification: unavailable degrades to 0 W.
func (p PowerSample) Watts() float64 {
	if !p.Valid {
		return 0
	}
	return p.Value
}

// Delta is the fuel and energy consumed by one completed burn phase.
type Delta struct {
	Liters    float64
	EnergyKWh float64
}

// IsZero reports whether the delta carries no consumption.
func (d Delta) IsZero() bool {
	return d.Liters == 0 && d.EnergyKWh == 0
}

// Result is the output of one engine tick.
type Result struct {
	Time           time.Time
	Power          float64
	StateRaw       State
	StateFiltered  State
	BurnerRunning  bool
	FlowLPH        float64
	DisplayFlowLPH float64
	ThermalKW      float64
	DeltaLiters    float64
	DeltaEnergyKWh float64
	ErrorPHC       bool
	ErrorAbsence   bool
	ErrorGlobal    bool
}

// Delta returns the consumption emitted by this tick.
func (r Result) Delta() Delta {
	return Delta{Liters: r.DeltaLiters, EnergyKWh: r.DeltaEnergyKWh}
}

// Counts tracks engine activity since startup.
type Counts struct {
	Ticks       int
	BurnPhases  int
	PHCPasses   int
	PHCFailures int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    Counts
}
