// Package mqtt provides MQTT publishing of engine results, totals and
// lifecycle events, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/sweeney/fioul-boiler/internal/accum"
	"github.com/sweeney/fioul-boiler/internal/logic"
)

// DefaultTopicPrefix is the root of every published topic.
const DefaultTopicPrefix = "energy/boiler/fioul"

// Topics are the three topics the daemon publishes to.
type Topics struct {
	State  string // per-tick result, QoS 0
	Totals string // accumulator buckets, retained, QoS 1
	System string // lifecycle events, retained, QoS 1
}

// TopicsFor derives the topics under prefix.
func TopicsFor(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		State:  prefix + "/state",
		Totals: prefix + "/totals",
		System: prefix + "/system",
	}
}

// Lifecycle event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
	EventOffline     = "OFFLINE"
)

// Publisher publishes to MQTT.
type Publisher interface {
	// PublishResult sends one engine result.
	// Returns error if publishing fails (should not crash the process).
	PublishResult(r logic.Result) error

	// PublishTotals sends the accumulator buckets.
	PublishTotals(t accum.Totals) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// ResultPayload is the MQTT payload of one engine result.
type ResultPayload struct {
	Fioul ResultInner `json:"fioul"`
}

// ResultInner contains the result details.
type ResultInner struct {
	Timestamp      string        `json:"timestamp"`
	PowerW         float64       `json:"power_w"`
	StateRaw       string        `json:"state_raw"`
	State          string        `json:"state"`
	BurnerRunning  bool          `json:"burner_running"`
	FlowLPH        float64       `json:"flow_lph"`
	DisplayFlowLPH float64       `json:"display_flow_lph"`
	ThermalKW      float64       `json:"thermal_kw"`
	DeltaLiters    float64       `json:"delta_liters"`
	DeltaEnergyKWh float64       `json:"delta_energy_kwh"`
	Errors         ErrorsPayload `json:"errors"`
}

// ErrorsPayload carries the three error flags.
type ErrorsPayload struct {
	PHC     bool `json:"phc"`
	Absence bool `json:"absence"`
	Global  bool `json:"global"`
}

// FormatResultPayload creates the JSON payload for an engine result.
// Power is rounded to 1 dp, flow and thermal power to 2 dp.
func FormatResultPayload(r logic.Result) ([]byte, error) {
	payload := ResultPayload{
		Fioul: ResultInner{
			Timestamp:      r.Time.UTC().Format(time.RFC3339),
			PowerW:         Round(r.Power, 1),
			StateRaw:       string(r.StateRaw),
			State:          string(r.StateFiltered),
			BurnerRunning:  r.BurnerRunning,
			FlowLPH:        Round(r.FlowLPH, 2),
			DisplayFlowLPH: Round(r.DisplayFlowLPH, 2),
			ThermalKW:      Round(r.ThermalKW, 2),
			DeltaLiters:    Round(r.DeltaLiters, 6),
			DeltaEnergyKWh: Round(r.DeltaEnergyKWh, 6),
			Errors: ErrorsPayload{
				PHC:     r.ErrorPHC,
				Absence: r.ErrorAbsence,
				Global:  r.ErrorGlobal,
			},
		},
	}
	return json.Marshal(payload)
}

// TotalsPayload is the MQTT payload of the accumulator buckets.
type TotalsPayload struct {
	Totals TotalsInner `json:"totals"`
}

// TotalsInner holds the eight buckets, liters to 3 dp and kWh to 4 dp.
type TotalsInner struct {
	LitersTotal   float64 `json:"liters_total"`
	LitersDaily   float64 `json:"liters_daily"`
	LitersMonthly float64 `json:"liters_monthly"`
	LitersYearly  float64 `json:"liters_yearly"`
	EnergyTotal   float64 `json:"energy_total_kwh"`
	EnergyDaily   float64 `json:"energy_daily_kwh"`
	EnergyMonthly float64 `json:"energy_monthly_kwh"`
	EnergyYearly  float64 `json:"energy_yearly_kwh"`
}

// FormatTotalsPayload creates the JSON payload for the accumulator buckets.
// Rounding is presentation only; the accumulator keeps full precision.
func FormatTotalsPayload(t accum.Totals) ([]byte, error) {
	payload := TotalsPayload{
		Totals: TotalsInner{
			LitersTotal:   Round(t.LitersTotal, 3),
			LitersDaily:   Round(t.LitersDaily, 3),
			LitersMonthly: Round(t.LitersMonthly, 3),
			LitersYearly:  Round(t.LitersYearly, 3),
			EnergyTotal:   Round(t.EnergyTotal, 4),
			EnergyDaily:   Round(t.EnergyDaily, 4),
			EnergyMonthly: Round(t.EnergyMonthly, 4),
			EnergyYearly:  Round(t.EnergyYearly, 4),
		},
	}
	return json.Marshal(payload)
}

// Round rounds v half away from zero to the given decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// willPayload is the last-will message. It carries no timestamp since the
// broker sends it long after it was registered.
func willPayload() []byte {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: EventOffline}})
	return data
}
