package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sweeney/fioul-boiler/internal/accum"
	"github.com/sweeney/fioul-boiler/internal/logic"
	"github.com/sweeney/fioul-boiler/internal/power"
	"github.com/sweeney/fioul-boiler/internal/store"
)

// printStateWait bounds how long print-state waits for a first reading.
const printStateWait = 10 * time.Second

// Color variables for console output.
var (
	burnColor    = color.New(color.FgRed, color.Bold)
	heatColor    = color.New(color.FgYellow)
	pumpColor    = color.New(color.FgCyan)
	idleColor    = color.New(color.Faint)
	outsideColor = color.New(color.FgMagenta, color.Bold)
)

func stateColor(s logic.State) *color.Color {
	switch s {
	case logic.StateBurn:
		return burnColor
	case logic.StatePrechauffage, logic.StatePostcirc:
		return heatColor
	case logic.StatePompe:
		return pumpColor
	case logic.StateHorsPlage:
		return outsideColor
	default:
		return idleColor
	}
}

// useColor disables colors when stdout is not a terminal.
func useColor() {
	color.NoColor = !term.IsTerminal(int(os.Stdout.Fd()))
}

func (a *app) printState(cmd *cobra.Command, _ []string) error {
	useColor()

	source, err := openSource(a.cfg, uuid.NewString(), a.logger)
	if err != nil {
		return fmt.Errorf("init power source: %w", err)
	}
	defer source.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), printStateWait)
	defer cancel()

	reading, err := firstReading(ctx, source, time.Second)
	if err != nil {
		return err
	}
	return writeState(cmd.OutOrStdout(), reading, a.cfg.Thresholds)
}

// firstReading polls src until it reports something other than unknown or ctx ends.
// The last unknown reading is returned when nothing better arrived in time.
func firstReading(ctx context.Context, src power.Source, every time.Duration) (power.Reading, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last power.Reading
	for {
		r, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil && last.Status != "" {
				return last, nil
			}
			return power.Reading{}, fmt.Errorf("read power: %w", err)
		}
		if r.Status != power.StatusUnknown {
			return r, nil
		}
		last = r

		select {
		case <-ctx.Done():
			return last, nil
		case <-ticker.C:
		}
	}
}

// writeState prints the reading and the unfiltered state it classifies to.
func writeState(w io.Writer, r power.Reading, th logic.Thresholds) error {
	sample, err := r.Sample()
	if err != nil {
		return err
	}
	state := logic.Classify(sample.Watts(), th)

	powerText := string(r.Status)
	if sample.Valid {
		powerText = strconv.FormatFloat(sample.Value, 'f', 1, 64) + " W"
	}
	_, err = fmt.Fprintf(w, "power: %s\nstate: %s\n", powerText, stateColor(state).Sprint(string(state)))
	return err
}

func (a *app) printTotals(cmd *cobra.Command, _ []string) error {
	useColor()
	ctx := cmd.Context()

	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, a.cfg.StoreBackend(), a.cfg.Store.DSN, a.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	acc := accum.New(st, loc, a.cfg.Store.Timeout, a.logger)
	acc.Restore(ctx)
	return writeTotals(cmd.OutOrStdout(), acc.Buckets(), time.Now(), loc)
}

// writeTotals renders the buckets as a table. A bucket whose period has ended
// is flagged stale; the daemon restarts it at its next tick.
func writeTotals(w io.Writer, buckets []accum.BucketView, now time.Time, loc *time.Location) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Bucket", "Period", "Key", "Value", "Unit", "Current"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, b := range buckets {
		unit, places := "L", 3
		if b.Quantity == accum.QuantityEnergy {
			unit, places = "kWh", 4
		}
		key := b.Key
		if key == "" {
			key = "-"
		}
		current := "yes"
		switch {
		case b.Period == accum.PeriodLifetime:
		case b.Key == "":
			// Unkeyed values are adopted by the current period.
			current = "-"
		case b.Key != b.Period.Key(now, loc):
			current = heatColor.Sprint("stale")
		}
		data = append(data, []string{
			b.Name,
			string(b.Period),
			key,
			strconv.FormatFloat(b.Value, 'f', places, 64),
			unit,
			current,
		})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func (a *app) printConfig(cmd *cobra.Command, _ []string) error {
	out, err := a.cfg.YAML()
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
