// Package status provides a thread-safe status tracker for the fioul-boiler daemon.
// It is read by HTTP handlers and by the MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/fioul-boiler/internal/accum"
	"github.com/sweeney/fioul-boiler/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	InstanceID        string
	TickMs            int64
	DebounceMs        int64
	HeartbeatMs       int64
	PublishIntervalMs int64
	LPHRun            float64
	KWhPerLiter       float64
	PowerSource       string
	Store             string
	Timezone          string
	Broker            string
	HTTPAddr          string
	WSBroker          string // Websocket broker URL for browser MQTT (empty = disabled)
	StateTopic        string // Topic the live view subscribes to
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Result        logic.Result
	Ready         bool // at least one tick was processed
	Totals        accum.Totals
	Counts        logic.Counts
	PowerStatus   string
	BurnLastOK    time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the latest engine result and counters.
// Called from runLoop on every processed tick.
func (t *Tracker) Update(r logic.Result, counts logic.Counts) {
	t.mu.Lock()
	t.snap.Result = r
	t.snap.Ready = true
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetTotals records the accumulator totals.
func (t *Tracker) SetTotals(totals accum.Totals) {
	t.mu.Lock()
	t.snap.Totals = totals
	t.mu.Unlock()
}

// SetPowerStatus records the availability of the last power reading.
func (t *Tracker) SetPowerStatus(s string) {
	t.mu.Lock()
	t.snap.PowerStatus = s
	t.mu.Unlock()
}

// SetBurnLastOK records the last certified burn.
func (t *Tracker) SetBurnLastOK(at time.Time) {
	t.mu.Lock()
	t.snap.BurnLastOK = at
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
