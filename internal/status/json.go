package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	InstanceID    string       `json:"instance_id,omitempty"`
	State         string       `json:"state"`
	StateRaw      string       `json:"state_raw"`
	PowerW        float64      `json:"power_w"`
	PowerStatus   string       `json:"power_status,omitempty"`
	BurnerRunning bool         `json:"burner_running"`
	FlowLPH       float64      `json:"flow_lph"`
	ThermalKW     float64      `json:"thermal_kw"`
	Errors        ErrorsJSON   `json:"errors"`
	BurnLastOK    string       `json:"burn_last_ok,omitempty"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Totals        TotalsJSON   `json:"totals"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// ErrorsJSON carries the error flags.
type ErrorsJSON struct {
	PHC     bool `json:"phc"`
	Absence bool `json:"absence"`
	Global  bool `json:"global"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// TotalsJSON is the rounded presentation of the accumulator buckets.
type TotalsJSON struct {
	LitersTotal   float64 `json:"liters_total"`
	LitersDaily   float64 `json:"liters_daily"`
	LitersMonthly float64 `json:"liters_monthly"`
	LitersYearly  float64 `json:"liters_yearly"`
	EnergyTotal   float64 `json:"energy_total_kwh"`
	EnergyDaily   float64 `json:"energy_daily_kwh"`
	EnergyMonthly float64 `json:"energy_monthly_kwh"`
	EnergyYearly  float64 `json:"energy_yearly_kwh"`
}

// CountsJSON is the JSON representation of the engine counters.
type CountsJSON struct {
	Ticks       int `json:"ticks"`
	BurnPhases  int `json:"burn_phases"`
	PHCPasses   int `json:"phc_passes"`
	PHCFailures int `json:"phc_failures"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs            int64   `json:"tick_ms"`
	DebounceMs        int64   `json:"debounce_ms"`
	HeartbeatMs       int64   `json:"heartbeat_ms"`
	PublishIntervalMs int64   `json:"publish_interval_ms"`
	LPHRun            float64 `json:"lph_run"`
	KWhPerLiter       float64 `json:"kwh_per_liter"`
	PowerSource       string  `json:"power_source"`
	Store             string  `json:"store"`
	Timezone          string  `json:"timezone"`
	Broker            string  `json:"broker"`
	HTTPAddr          string  `json:"http_addr"`
	WSBroker          string  `json:"ws_broker,omitempty"`
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.Result.StateFiltered)
	if state == "" {
		state = "unknown"
	}
	stateRaw := string(snap.Result.StateRaw)
	if stateRaw == "" {
		stateRaw = "unknown"
	}

	inner := StatusInner{
		InstanceID:    snap.Config.InstanceID,
		State:         state,
		StateRaw:      stateRaw,
		PowerW:        round(snap.Result.Power, 1),
		PowerStatus:   snap.PowerStatus,
		BurnerRunning: snap.Result.BurnerRunning,
		FlowLPH:       round(snap.Result.DisplayFlowLPH, 2),
		ThermalKW:     round(snap.Result.ThermalKW, 2),
		Errors: ErrorsJSON{
			PHC:     snap.Result.ErrorPHC,
			Absence: snap.Result.ErrorAbsence,
			Global:  snap.Result.ErrorGlobal,
		},
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Totals: TotalsJSON{
			LitersTotal:   round(snap.Totals.LitersTotal, 3),
			LitersDaily:   round(snap.Totals.LitersDaily, 3),
			LitersMonthly: round(snap.Totals.LitersMonthly, 3),
			LitersYearly:  round(snap.Totals.LitersYearly, 3),
			EnergyTotal:   round(snap.Totals.EnergyTotal, 4),
			EnergyDaily:   round(snap.Totals.EnergyDaily, 4),
			EnergyMonthly: round(snap.Totals.EnergyMonthly, 4),
			EnergyYearly:  round(snap.Totals.EnergyYearly, 4),
		},
		Counts: CountsJSON{
			Ticks:       snap.Counts.Ticks,
			BurnPhases:  snap.Counts.BurnPhases,
			PHCPasses:   snap.Counts.PHCPasses,
			PHCFailures: snap.Counts.PHCFailures,
		},
		Config: ConfigJSON{
			TickMs:            snap.Config.TickMs,
			DebounceMs:        snap.Config.DebounceMs,
			HeartbeatMs:       snap.Config.HeartbeatMs,
			PublishIntervalMs: snap.Config.PublishIntervalMs,
			LPHRun:            snap.Config.LPHRun,
			KWhPerLiter:       snap.Config.KWhPerLiter,
			PowerSource:       snap.Config.PowerSource,
			Store:             snap.Config.Store,
			Timezone:          snap.Config.Timezone,
			Broker:            snap.Config.Broker,
			HTTPAddr:          snap.Config.HTTPAddr,
			WSBroker:          snap.Config.WSBroker,
		},
	}
	if !snap.BurnLastOK.IsZero() {
		inner.BurnLastOK = snap.BurnLastOK.UTC().Format(time.RFC3339)
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
