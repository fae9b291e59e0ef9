//go:build linux

package power

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// gpioLine owns the chip and the requested line.
type gpioLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewPulseSource requests cfg.Line on cfg.Chip and counts rising edges.
func NewPulseSource(cfg PulseConfig, logger *slog.Logger) (*PulseSource, error) {
	chipName := cfg.Chip
	if chipName == "" {
		chipName = "gpiochip0"
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	meter := newPulseMeter(cfg.PulsesPerKWh)

	// Pull-down matches Pi boot defaults; the S0 output is open collector.
	line, err := chip.RequestLine(cfg.Line,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
			meter.pulse(time.Now())
		}),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request pulse line %d: %w", cfg.Line, err)
	}

	logger.Info("pulse input ready", "chip", chipName, "line", cfg.Line, "pulses_per_kwh", meter.ppk)
	return &PulseSource{
		meter: meter,
		now:   time.Now,
		line:  &gpioLine{chip: chip, line: line},
	}, nil
}

// Close reconfigures the line to a plain pulled-down input before releasing
// it, leaving a clean state for reboot.
func (g *gpioLine) Close() error {
	var errs []error

	if g.line != nil {
		if err := g.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pulse line: %w", err))
		}
		if err := g.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pulse line: %w", err))
		}
	}
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	return errors.Join(errs...)
}
