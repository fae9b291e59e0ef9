// Package accum keeps calendar-bucketed running totals of fuel and energy
// (lifetime, day, month, year) that survive restarts through a Store.
package accum

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sweeney/fioul-boiler/internal/logic"
)

// Period is the calendar scope of a bucket.
type Period string

const (
	PeriodLifetime Period = "lifetime"
	PeriodDay      Period = "day"
	PeriodMonth    Period = "month"
	PeriodYear     Period = "year"
)

// Key returns the calendar key of t for this period in loc.
// Two instants share a key exactly when they fall in the same period.
func (p Period) Key(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	switch p {
	case PeriodDay:
		return t.Format("2006-01-02")
	case PeriodMonth:
		return t.Format("2006-01")
	case PeriodYear:
		return t.Format("2006")
	default:
		return ""
	}
}

// Quantity is what a bucket sums.
type Quantity string

const (
	QuantityLiters Quantity = "liters"
	QuantityEnergy Quantity = "energy_kwh"
)

// Bucket names, as persisted and published.
const (
	LitersTotal   = "liters_total"
	LitersDaily   = "liters_daily"
	LitersMonthly = "liters_monthly"
	LitersYearly  = "liters_yearly"
	EnergyTotal   = "energy_total_kwh"
	EnergyDaily   = "energy_daily_kwh"
	EnergyMonthly = "energy_monthly_kwh"
	EnergyYearly  = "energy_yearly_kwh"
)

// BucketNames lists every bucket in display order.
var BucketNames = []string{
	LitersTotal, LitersDaily, LitersMonthly, LitersYearly,
	EnergyTotal, EnergyDaily, EnergyMonthly, EnergyYearly,
}

// Bucket is one running total.
type Bucket struct {
	Name     string
	Quantity Quantity
	Period   Period

	value float64
	key   string
	keyed bool
	// dirty is set when the last write failed and must be retried.
	dirty bool
}

func newBucket(name string, q Quantity, p Period) *Bucket {
	return &Bucket{Name: name, Quantity: q, Period: p}
}

// BucketView is a read-only copy of a bucket.
type BucketView struct {
	Name     string
	Quantity Quantity
	Period   Period
	Value    float64
	Key      string
}

// Totals holds every bucket value at full precision.
type Totals struct {
	LitersTotal   float64
	LitersDaily   float64
	LitersMonthly float64
	LitersYearly  float64
	EnergyTotal   float64
	EnergyDaily   float64
	EnergyMonthly float64
	EnergyYearly  float64
}

// Accumulator applies burn-phase deltas to the eight buckets and persists them.
// Calls are serialized; the store is never entered concurrently.
type Accumulator struct {
	mu      sync.Mutex
	store   Store
	loc     *time.Location
	timeout time.Duration
	logger  *slog.Logger
	buckets []*Bucket
}

// New creates an accumulator with all buckets at zero. Call Restore before
// the first Apply to pick up persisted values.
func New(store Store, loc *time.Location, timeout time.Duration, logger *slog.Logger) *Accumulator {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{
		store:   store,
		loc:     loc,
		timeout: timeout,
		logger:  logger,
		buckets: []*Bucket{
			newBucket(LitersTotal, QuantityLiters, PeriodLifetime),
			newBucket(LitersDaily, QuantityLiters, PeriodDay),
			newBucket(LitersMonthly, QuantityLiters, PeriodMonth),
			newBucket(LitersYearly, QuantityLiters, PeriodYear),
			newBucket(EnergyTotal, QuantityEnergy, PeriodLifetime),
			newBucket(EnergyDaily, QuantityEnergy, PeriodDay),
			newBucket(EnergyMonthly, QuantityEnergy, PeriodMonth),
			newBucket(EnergyYearly, QuantityEnergy, PeriodYear),
		},
	}
}

// Restore loads every bucket from the store. A failed or invalid read
// starts that bucket at zero. The calendar key is taken from the store when
// it was saved, otherwise it is adopted at the first Apply.
func (a *Accumulator) Restore(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range a.buckets {
		b.value, b.key, b.keyed, b.dirty = 0, "", false, false

		rec, ok, err := a.load(ctx, b.Name)
		if err != nil {
			a.logger.Warn("restore bucket failed, starting at zero", "bucket", b.Name, "error", err)
			continue
		}
		if !ok {
			a.logger.Debug("no persisted value", "bucket", b.Name)
			continue
		}
		if math.IsNaN(rec.Value) || math.IsInf(rec.Value, 0) || rec.Value < 0 {
			a.logger.Warn("invalid persisted value, starting at zero", "bucket", b.Name, "value", rec.Value)
			continue
		}

		b.value = rec.Value
		if rec.Key != "" || b.Period == PeriodLifetime {
			b.key = rec.Key
			b.keyed = true
		}
		a.logger.Info("restored bucket", "bucket", b.Name, "value", b.value, "key", rec.Key)
	}
}

// Apply adds delta to every bucket at wall-clock now and returns the new totals.
// A bucket whose calendar key changed restarts from this delta's contribution.
// Store writes happen only when a bucket changed or a previous write failed.
// After the first failed write no more writes are attempted in the same call,
// so an unresponsive store costs at most one store timeout per tick.
func (a *Accumulator) Apply(ctx context.Context, now time.Time, delta logic.Delta) Totals {
	a.mu.Lock()
	defer a.mu.Unlock()

	storeDown := false
	for _, b := range a.buckets {
		contribution := delta.Liters
		if b.Quantity == QuantityEnergy {
			contribution = delta.EnergyKWh
		}

		key := b.Period.Key(now, a.loc)
		changed := false
		switch {
		case !b.keyed:
			b.key = key
			b.keyed = true
			b.value += contribution
			changed = true
		case b.key != key:
			a.logger.Info("bucket rollover", "bucket", b.Name, "from", b.key, "to", key, "closing_value", b.value)
			b.key = key
			b.value = contribution
			changed = true
		case contribution != 0:
			b.value += contribution
			changed = true
		}

		switch {
		case !changed && !b.dirty:
		case storeDown:
			b.dirty = true
		default:
			storeDown = !a.persist(ctx, b)
		}
	}

	return a.totalsLocked()
}

// Totals returns the current totals without applying anything.
func (a *Accumulator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalsLocked()
}

// Buckets returns a copy of every bucket in display order.
func (a *Accumulator) Buckets() []BucketView {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]BucketView, 0, len(a.buckets))
	for _, b := range a.buckets {
		out = append(out, BucketView{
			Name:     b.Name,
			Quantity: b.Quantity,
			Period:   b.Period,
			Value:    b.value,
			Key:      b.key,
		})
	}
	return out
}

// persist saves b and reports whether the store accepted it.
func (a *Accumulator) persist(ctx context.Context, b *Bucket) bool {
	if a.store == nil {
		return true
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if err := a.store.Save(ctx, b.Name, Record{Value: b.value, Key: b.key}); err != nil {
		if !b.dirty {
			a.logger.Error("persist bucket failed, will retry", "bucket", b.Name, "error", err)
		}
		b.dirty = true
		return false
	}
	if b.dirty {
		a.logger.Info("persist bucket recovered", "bucket", b.Name)
	}
	b.dirty = false
	return true
}

func (a *Accumulator) load(ctx context.Context, name string) (Record, bool, error) {
	if a.store == nil {
		return Record{}, false, nil
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.store.Load(ctx, name)
}

func (a *Accumulator) totalsLocked() Totals {
	var t Totals
	for _, b := range a.buckets {
		switch b.Name {
		case LitersTotal:
			t.LitersTotal = b.value
		case LitersDaily:
			t.LitersDaily = b.value
		case LitersMonthly:
			t.LitersMonthly = b.value
		case LitersYearly:
			t.LitersYearly = b.value
		case EnergyTotal:
			t.EnergyTotal = b.value
		case EnergyDaily:
			t.EnergyDaily = b.value
		case EnergyMonthly:
			t.EnergyMonthly = b.value
		case EnergyYearly:
			t.EnergyYearly = b.value
		}
	}
	return t
}
