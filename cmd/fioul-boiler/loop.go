package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/fioul-boiler/internal/accum"
	"github.com/sweeney/fioul-boiler/internal/logic"
	"github.com/sweeney/fioul-boiler/internal/mqtt"
	"github.com/sweeney/fioul-boiler/internal/power"
	"github.com/sweeney/fioul-boiler/internal/status"
)

// daemon wires one power source through the engine and accumulator to the publisher.
// Only runLoop's goroutine touches it.
type daemon struct {
	source       power.Source
	engine       *logic.Engine
	acc          *accum.Accumulator
	publisher    mqtt.Publisher
	mqttStatus   mqtt.ConnectionStatus
	tracker      *status.Tracker
	readTimeout  time.Duration
	heartbeat    time.Duration
	publishEvery time.Duration // republish interval when nothing changed; 0 publishes every tick
	logger       *slog.Logger
	now          func() time.Time

	lastResult   logic.Result
	lastTotals   accum.Totals
	resultAt     time.Time
	totalsAt     time.Time
	publishedAny bool
}

// runLoop processes one tick per value on tick until a signal arrives or ctx ends.
func (d *daemon) runLoop(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			d.shutdown("CONTEXT")
			return nil

		case s := <-sig:
			d.logger.Info("shutting down", "signal", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.shutdown(signalName)
			return nil

		case <-tick:
			d.step(ctx, d.now())
		}
	}
}

// step runs one tick at t. A failed or malformed read skips the tick
// without touching engine or accumulator state.
func (d *daemon) step(ctx context.Context, t time.Time) {
	reading, err := power.ReadWithTimeout(ctx, d.source, d.readTimeout)
	if err != nil {
		if errors.Is(err, power.ErrReadTimeout) {
			d.logger.Warn("power read timed out, skipping tick", "error", err)
		} else {
			d.logger.Warn("power read failed, skipping tick", "error", err)
		}
		return
	}
	d.tracker.SetPowerStatus(string(reading.Status))

	sample, err := reading.Sample()
	if err != nil {
		d.logger.Warn("malformed power reading, skipping tick", "raw", reading.Raw, "error", err)
		return
	}

	r, err := d.engine.Tick(t, sample)
	if err != nil {
		d.logger.Warn("engine rejected sample", "error", err)
		return
	}

	if d.publishedAny && r.StateFiltered != d.lastResult.StateFiltered {
		d.logger.Info("state change", "from", d.lastResult.StateFiltered, "to", r.StateFiltered, "power", r.Power)
	}
	if !r.Delta().IsZero() {
		d.logger.Info("burn phase completed", "liters", r.DeltaLiters, "energy_kwh", r.DeltaEnergyKWh)
	}
	if r.ErrorGlobal && !d.lastResult.ErrorGlobal {
		d.logger.Warn("boiler fault", "phc", r.ErrorPHC, "absence", r.ErrorAbsence)
	}

	totals := d.acc.Apply(ctx, t, r.Delta())
	d.publish(r, totals, t)

	d.tracker.Update(r, d.engine.CountsSnapshot())
	d.tracker.SetTotals(totals)
	if at, ok := d.engine.BurnLastOK(); ok {
		d.tracker.SetBurnLastOK(at)
	}
	d.refreshConnected()

	if hb := d.engine.CheckHeartbeat(t, d.heartbeat); hb != nil {
		d.logger.Info("heartbeat",
			"uptime", hb.Uptime,
			"ticks", hb.Counts.Ticks,
			"burn_phases", hb.Counts.BurnPhases,
			"phc_passes", hb.Counts.PHCPasses,
			"phc_failures", hb.Counts.PHCFailures,
		)
		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			d.tracker.SetNetwork(net)
		}
		snap := d.tracker.Snapshot()
		event := mqtt.SystemEvent{
			Timestamp:  hb.Timestamp,
			Event:      mqtt.EventHeartbeat,
			RawPayload: status.FormatStatusEvent(snap, mqtt.EventHeartbeat, ""),
		}
		if err := d.publisher.PublishSystem(event); err != nil {
			d.logger.Error("heartbeat publish error", "error", err)
		}
	}
}

// publish sends the result when something a consumer acts on changed, and the
// totals when any bucket moved. Both are repeated every publishEvery regardless.
func (d *daemon) publish(r logic.Result, totals accum.Totals, t time.Time) {
	if d.resultDue(r, t) {
		if err := d.publisher.PublishResult(r); err != nil {
			d.logger.Error("publish error", "error", err)
		}
		d.resultAt = t
	}
	if !d.publishedAny || totals != d.lastTotals || d.elapsed(d.totalsAt, t) {
		if err := d.publisher.PublishTotals(totals); err != nil {
			d.logger.Error("totals publish error", "error", err)
		}
		d.totalsAt = t
	}
	d.lastResult = r
	d.lastTotals = totals
	d.publishedAny = true
}

func (d *daemon) resultDue(r logic.Result, t time.Time) bool {
	prev := d.lastResult
	switch {
	case !d.publishedAny:
		return true
	case r.StateFiltered != prev.StateFiltered,
		r.BurnerRunning != prev.BurnerRunning,
		r.ErrorPHC != prev.ErrorPHC,
		r.ErrorAbsence != prev.ErrorAbsence,
		!r.Delta().IsZero():
		return true
	}
	return d.elapsed(d.resultAt, t)
}

func (d *daemon) elapsed(since, t time.Time) bool {
	return d.publishEvery <= 0 || t.Sub(since) >= d.publishEvery
}

func (d *daemon) refreshConnected() {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

// shutdown publishes the retained SHUTDOWN event with a final snapshot.
func (d *daemon) shutdown(reason string) {
	d.refreshConnected()
	snap := d.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      mqtt.EventShutdown,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, reason),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		d.logger.Error("failed to publish shutdown event", "error", err)
	} else {
		d.logger.Info("published shutdown event", "reason", reason)
	}
}
