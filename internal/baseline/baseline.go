// Package baseline computes and caches the per-site day-of-year historical
// percentile tables that current flows are contextualized against.
package baseline

import (
	"time"
)

// MaxDayOfYear is the closed upper bound of the day-of-year domain. Day 366
// only ever receives samples from leap years.
const MaxDayOfYear = 366

// DailyValue is one historical daily discharge observation.
type DailyValue struct {
	Date time.Time
	Flow float64
}

// Table maps day-of-year to the percentile flow for a single site. Built once
// from the long-range archive and reused unmodified until explicitly
// regenerated.
type Table struct {
	SiteID     string
	Percentile float64
	ComputedAt time.Time
	Values     map[int]float64

	// LeapDayFallback makes lookups for day 366 fall back to day 365 when the
	// bucket is absent, so non-leap-year lookups still resolve.
	LeapDayFallback bool
}

// Lookup returns the percentile flow for a day-of-year, applying the leap-day
// fallback when configured.
func (t Table) Lookup(dayOfYear int) (float64, bool) {
	if dayOfYear < 1 || dayOfYear > MaxDayOfYear {
		return 0, false
	}
	if v, ok := t.Values[dayOfYear]; ok {
		return v, true
	}
	if dayOfYear == MaxDayOfYear && t.LeapDayFallback {
		v, ok := t.Values[MaxDayOfYear-1]
		return v, ok
	}
	return 0, false
}

// BuildOptions tune table construction.
type BuildOptions struct {
	// Percentile in (0,1]; the production tables use 0.90.
	Percentile float64
	// Location is the calendar the day-of-year buckets are keyed in. Daily
	// archive dates arrive as UTC instants and must be localized before
	// bucketing, or samples near midnight land one day off.
	Location *time.Location
	// MinSamples is advisory only: sparse buckets still compute a percentile
	// from whatever samples exist. SparseDays reports the ones below it.
	MinSamples      int
	LeapDayFallback bool
}

// BuildResult carries the table plus build diagnostics.
type BuildResult struct {
	Table       Table
	SampleCount int
	SparseDays  int
}

// Build groups the archive samples by day-of-year and computes one percentile
// value per bucket. A bucket with no samples is simply absent from the table;
// one sparse bucket never fails the whole build.
func Build(siteID string, archive []DailyValue, opts BuildOptions) BuildResult {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	p := opts.Percentile
	if p <= 0 || p > 1 {
		p = 0.90
	}

	buckets := make(map[int][]float64)
	total := 0
	for _, dv := range archive {
		doy := dv.Date.In(loc).YearDay()
		buckets[doy] = append(buckets[doy], dv.Flow)
		total++
	}

	table := Table{
		SiteID:          siteID,
		Percentile:      p,
		Values:          make(map[int]float64, len(buckets)),
		LeapDayFallback: opts.LeapDayFallback,
	}

	sparse := 0
	for doy, samples := range buckets {
		if v, ok := Percentile(samples, p); ok {
			table.Values[doy] = v
		}
		if opts.MinSamples > 0 && len(samples) < opts.MinSamples {
			sparse++
		}
	}

	return BuildResult{Table: table, SampleCount: total, SparseDays: sparse}
}
