package internal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/fioul-boiler/internal/accum"
	"github.com/sweeney/fioul-boiler/internal/logic"
	"github.com/sweeney/fioul-boiler/internal/mqtt"
	"github.com/sweeney/fioul-boiler/internal/power"
	"github.com/sweeney/fioul-boiler/internal/status"
	"github.com/sweeney/fioul-boiler/internal/store"
	"github.com/sweeney/fioul-boiler/internal/web"
)

var startTime = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// segment is a run of identical power readings, one per second.
type segment struct {
	raw   string
	ticks int
}

func readings(segments ...segment) []power.Reading {
	var out []power.Reading
	for _, s := range segments {
		for i := 0; i < s.ticks; i++ {
			out = append(out, power.Reading{Status: power.StatusAvailable, Raw: s.raw})
		}
	}
	return out
}

// pipeline mirrors the daemon loop without the publish throttling:
// source -> engine -> accumulator -> publisher -> tracker.
type pipeline struct {
	t       *testing.T
	source  *power.FakeSource
	engine  *logic.Engine
	acc     *accum.Accumulator
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	skipped int
}

func newPipeline(t *testing.T, st accum.Store, start time.Time, rs []power.Reading) *pipeline {
	t.Helper()
	engine, err := logic.NewEngine(logic.DefaultParams(), start)
	require.NoError(t, err)

	acc := accum.New(st, time.UTC, time.Second, testLogger())
	acc.Restore(context.Background())

	return &pipeline{
		t:       t,
		source:  power.NewFakeSource(rs...),
		engine:  engine,
		acc:     acc,
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(start, status.Config{InstanceID: "it", Broker: "tcp://broker:1883"}),
	}
}

// run processes n one-second ticks starting at from.
func (p *pipeline) run(from time.Time, n int) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		now := from.Add(time.Duration(i) * time.Second)

		reading, err := power.ReadWithTimeout(ctx, p.source, 100*time.Millisecond)
		require.NoError(p.t, err)
		sample, err := reading.Sample()
		if err != nil {
			p.skipped++
			continue
		}
		r, err := p.engine.Tick(now, sample)
		require.NoError(p.t, err)

		totals := p.acc.Apply(ctx, now, r.Delta())
		require.NoError(p.t, p.pub.PublishResult(r))
		if !r.Delta().IsZero() {
			require.NoError(p.t, p.pub.PublishTotals(totals))
		}

		p.tracker.Update(r, p.engine.CountsSnapshot())
		p.tracker.SetTotals(totals)
		if at, ok := p.engine.BurnLastOK(); ok {
			p.tracker.SetBurnLastOK(at)
		}
	}
}

func (p *pipeline) states() []logic.State {
	var out []logic.State
	for _, r := range p.pub.Results {
		if len(out) == 0 || out[len(out)-1] != r.StateFiltered {
			out = append(out, r.StateFiltered)
		}
	}
	return out
}

// A full heating cycle: 30 s of preheat, ignition, 160 s of burn, post-circulation.
// With the 3 s debounce the burn is filtered from t=43 to t=203.
func heatingCycle() []segment {
	return []segment{
		{"5", 10},     // arret
		{"150", 30},   // prechauffage
		{"1000", 160}, // burn
		{"300", 20},   // postcirc
		{"5", 10},     // arret
	}
}

func TestIntegrationHeatingCycle(t *testing.T) {
	p := newPipeline(t, accum.NewMemoryStore(), startTime, readings(heatingCycle()...))
	p.run(startTime, 230)

	assert.Equal(t, []logic.State{
		logic.StateArret,
		logic.StatePrechauffage,
		logic.StateBurn,
		logic.StatePostcirc,
		logic.StateArret,
	}, p.states())

	counts := p.engine.CountsSnapshot()
	assert.Equal(t, 230, counts.Ticks)
	assert.Equal(t, 1, counts.BurnPhases)
	assert.Equal(t, 1, counts.PHCPasses, "burn still running at the end of the window")
	assert.Zero(t, counts.PHCFailures)

	// Exactly one tick carries the consumption: the one leaving burn.
	var withDelta []logic.Result
	for _, r := range p.pub.Results {
		if !r.Delta().IsZero() {
			withDelta = append(withDelta, r)
		}
	}
	require.Len(t, withDelta, 1)
	assert.Equal(t, startTime.Add(203*time.Second), withDelta[0].Time)
	wantLiters := 160.0 / 3600 * 2.1
	assert.InDelta(t, wantLiters, withDelta[0].DeltaLiters, 1e-9)
	assert.InDelta(t, wantLiters*10, withDelta[0].DeltaEnergyKWh, 1e-9)

	payload, err := mqtt.FormatResultPayload(withDelta[0])
	require.NoError(t, err)
	var decoded mqtt.ResultPayload
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "postcirc", decoded.Fioul.State)
	assert.Equal(t, 0.093333, decoded.Fioul.DeltaLiters)
	assert.Equal(t, 0.933333, decoded.Fioul.DeltaEnergyKWh)

	require.Len(t, p.pub.Totals, 1)
	totals := p.acc.Totals()
	assert.InDelta(t, wantLiters, totals.LitersTotal, 1e-9)
	assert.InDelta(t, wantLiters, totals.LitersDaily, 1e-9)
	assert.InDelta(t, wantLiters*10, totals.EnergyMonthly, 1e-9)

	totalsPayload, err := mqtt.FormatTotalsPayload(totals)
	require.NoError(t, err)
	assert.Contains(t, string(totalsPayload), `"liters_total":0.093`)
	assert.Contains(t, string(totalsPayload), `"energy_total_kwh":0.9333`)

	last := p.pub.Results[len(p.pub.Results)-1]
	assert.False(t, last.ErrorPHC)
	assert.False(t, last.ErrorAbsence)
	assert.False(t, last.ErrorGlobal)
}

func TestIntegrationFlowDuringCycle(t *testing.T) {
	p := newPipeline(t, accum.NewMemoryStore(), startTime, readings(heatingCycle()...))
	p.run(startTime, 230)

	for _, r := range p.pub.Results {
		if r.StateFiltered == logic.StateBurn {
			assert.Equal(t, 2.1, r.FlowLPH)
			assert.InDelta(t, 21.0, r.ThermalKW, 1e-9)
			assert.True(t, r.BurnerRunning)
		} else {
			assert.Zero(t, r.FlowLPH, "no flow outside burn at %s", r.Time)
			assert.False(t, r.BurnerRunning)
		}
	}
}

func TestIntegrationPreheatWithoutIgnition(t *testing.T) {
	// Preheat for 30 s, then the burner never lights.
	p := newPipeline(t, accum.NewMemoryStore(), startTime, readings(
		segment{"5", 10},
		segment{"150", 30},
		segment{"5", 140},
	))
	p.run(startTime, 180)

	counts := p.engine.CountsSnapshot()
	assert.Equal(t, 1, counts.PHCFailures)
	assert.Zero(t, counts.PHCPasses)
	assert.Zero(t, counts.BurnPhases)

	// Armed when leaving preheat at t=43, resolved at the deadline t=163.
	for _, r := range p.pub.Results {
		if r.Time.Before(startTime.Add(163 * time.Second)) {
			assert.False(t, r.ErrorPHC, "at %s", r.Time)
		} else {
			assert.True(t, r.ErrorPHC, "at %s", r.Time)
			assert.True(t, r.ErrorGlobal, "at %s", r.Time)
		}
	}
	assert.Equal(t, accum.Totals{}, p.acc.Totals())
	assert.Empty(t, p.pub.Totals)
}

func TestIntegrationShortBurnFailsCheck(t *testing.T) {
	// Ignition happens but the burner drops out before the window closes.
	p := newPipeline(t, accum.NewMemoryStore(), startTime, readings(
		segment{"5", 10},
		segment{"150", 30},
		segment{"1000", 60},
		segment{"5", 80},
	))
	p.run(startTime, 180)

	counts := p.engine.CountsSnapshot()
	assert.Equal(t, 1, counts.PHCFailures)
	assert.Equal(t, 1, counts.BurnPhases)

	// The burn still counts: 60 s of filtered burn (t=43 to t=103).
	assert.InDelta(t, 60.0/3600*2.1, p.acc.Totals().LitersTotal, 1e-9)

	// The stable burn certified the burner even though the check failed.
	at, ok := p.engine.BurnLastOK()
	require.True(t, ok)
	assert.Equal(t, startTime.Add(102*time.Second), at)
}

func TestIntegrationMalformedReadingsAreSkipped(t *testing.T) {
	rs := readings(segment{"5", 5}, segment{"1000", 60})
	rs[20] = power.Reading{Status: power.StatusAvailable, Raw: "garbage"}
	rs[30] = power.Reading{Status: power.StatusAvailable, Raw: "NaN"}
	rs = append(rs, readings(segment{"5", 10})...)

	p := newPipeline(t, accum.NewMemoryStore(), startTime, rs)
	p.run(startTime, len(rs))

	assert.Equal(t, 2, p.skipped)
	counts := p.engine.CountsSnapshot()
	assert.Equal(t, len(rs)-2, counts.Ticks)
	assert.Equal(t, 1, counts.BurnPhases)
	// Skipped ticks do not shorten the burn: it still spans t=8 to t=68.
	assert.InDelta(t, 60.0/3600*2.1, p.acc.Totals().LitersTotal, 1e-9)
}

func TestIntegrationUnavailableSensorStopsBurn(t *testing.T) {
	rs := readings(segment{"5", 5}, segment{"1000", 40})
	for i := 0; i < 10; i++ {
		rs = append(rs, power.Reading{Status: power.StatusUnavailable})
	}

	p := newPipeline(t, accum.NewMemoryStore(), startTime, rs)
	p.run(startTime, len(rs))

	last := p.pub.Results[len(p.pub.Results)-1]
	assert.Equal(t, logic.StateArret, last.StateFiltered)
	assert.Equal(t, 0.0, last.Power)
	assert.Equal(t, 1, p.engine.CountsSnapshot().BurnPhases)
}

func TestIntegrationRestartKeepsTotalsInSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fioul.db")
	ctx := context.Background()
	wantLiters := 160.0 / 3600 * 2.1

	st, err := store.NewSQLStore(ctx, store.BackendSQLite, path, testLogger())
	require.NoError(t, err)
	p := newPipeline(t, st, startTime, readings(heatingCycle()...))
	p.run(startTime, 230)
	require.NoError(t, st.Close())

	// Same day, later: the second cycle adds to every bucket.
	later := startTime.Add(2 * time.Hour)
	st, err = store.NewSQLStore(ctx, store.BackendSQLite, path, testLogger())
	require.NoError(t, err)
	p = newPipeline(t, st, later, readings(heatingCycle()...))
	assert.InDelta(t, wantLiters, p.acc.Totals().LitersTotal, 1e-9, "restored before the first tick")
	p.run(later, 230)
	assert.InDelta(t, 2*wantLiters, p.acc.Totals().LitersTotal, 1e-9)
	assert.InDelta(t, 2*wantLiters, p.acc.Totals().LitersDaily, 1e-9)
	require.NoError(t, st.Close())

	// Next day: the daily buckets restart with that day's cycle only.
	nextDay := startTime.Add(24 * time.Hour)
	st, err = store.NewSQLStore(ctx, store.BackendSQLite, path, testLogger())
	require.NoError(t, err)
	defer st.Close()
	p = newPipeline(t, st, nextDay, readings(heatingCycle()...))
	p.run(nextDay, 230)

	totals := p.acc.Totals()
	assert.InDelta(t, 3*wantLiters, totals.LitersTotal, 1e-9)
	assert.InDelta(t, wantLiters, totals.LitersDaily, 1e-9)
	assert.InDelta(t, 3*wantLiters, totals.LitersMonthly, 1e-9)
	assert.InDelta(t, 30*wantLiters, totals.EnergyYearly, 1e-9)
}

func TestIntegrationStatusPage(t *testing.T) {
	p := newPipeline(t, accum.NewMemoryStore(), startTime, readings(heatingCycle()...))
	p.run(startTime, 230)
	p.tracker.SetMQTTConnected(true)

	ts := httptest.NewServer(web.New(":0", p.tracker, nil).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/index.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sj status.StatusJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sj))
	assert.Equal(t, "arret", sj.Status.State)
	assert.True(t, sj.Status.Ready)
	assert.True(t, sj.Status.MQTT.Connected)
	assert.Equal(t, 1, sj.Status.Counts.BurnPhases)
	assert.Equal(t, 1, sj.Status.Counts.PHCPasses)
	assert.Equal(t, 0.093, sj.Status.Totals.LitersTotal)
	assert.Equal(t, startTime.Add(202*time.Second).Format(time.RFC3339), sj.Status.BurnLastOK)
}
