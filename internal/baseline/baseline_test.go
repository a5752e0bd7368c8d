package baseline

import (
	"math"
	"testing"
	"time"
)

func TestPercentileInterpolation(t *testing.T) {
	// Reference vector: h = (5-1)*0.9 = 3.6, 20 + 0.6*(90-20) = 62.0.
	v, ok := Percentile([]float64{5, 10, 15, 20, 90}, 0.9)
	if !ok {
		t.Fatal("percentile of non-empty samples must compute")
	}
	if math.Abs(v-62.0) > 1e-9 {
		t.Fatalf("expected 62.0, got %v", v)
	}
}

func TestPercentileEdges(t *testing.T) {
	if _, ok := Percentile(nil, 0.9); ok {
		t.Fatal("empty samples must not compute")
	}
	if v, _ := Percentile([]float64{7}, 0.9); v != 7 {
		t.Fatalf("single sample is its own percentile, got %v", v)
	}
	if v, _ := Percentile([]float64{3, 1, 2}, 1); v != 3 {
		t.Fatalf("p=1 must return the maximum, got %v", v)
	}
	if v, _ := Percentile([]float64{3, 1, 2}, 0); v != 1 {
		t.Fatalf("p=0 must return the minimum, got %v", v)
	}
}

func TestBuildBucketsByLocalDay(t *testing.T) {
	eastern, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// 2024-01-02T04:30Z is still Jan 1 in US Eastern.
	archive := []DailyValue{
		{Date: time.Date(2024, 1, 2, 4, 30, 0, 0, time.UTC), Flow: 100},
		{Date: time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC), Flow: 50},
	}

	res := Build("01646500", archive, BuildOptions{Percentile: 0.9, Location: eastern})
	if _, ok := res.Table.Values[2]; ok {
		t.Fatal("UTC date must be localized before bucketing; day 2 should be empty")
	}
	v, ok := res.Table.Lookup(1)
	if !ok {
		t.Fatal("day 1 bucket missing")
	}
	if math.Abs(v-95.0) > 1e-9 {
		t.Fatalf("expected p90 of [50,100] = 95.0, got %v", v)
	}
}

func TestBuildSparseBucketStillComputes(t *testing.T) {
	archive := []DailyValue{{Date: time.Date(2020, 3, 10, 0, 0, 0, 0, time.UTC), Flow: 42}}
	res := Build("02035000", archive, BuildOptions{Percentile: 0.9, MinSamples: 5})
	doy := time.Date(2020, 3, 10, 0, 0, 0, 0, time.UTC).YearDay()
	if v, ok := res.Table.Lookup(doy); !ok || v != 42 {
		t.Fatalf("sparse bucket must still compute, got %v ok=%v", v, ok)
	}
	if res.SparseDays != 1 {
		t.Fatalf("expected 1 sparse day, got %d", res.SparseDays)
	}
}

func TestLeapDayFallback(t *testing.T) {
	table := Table{
		Values:          map[int]float64{365: 12.5},
		LeapDayFallback: true,
	}
	if v, ok := table.Lookup(366); !ok || v != 12.5 {
		t.Fatalf("day 366 must fall back to day 365, got %v ok=%v", v, ok)
	}

	table.LeapDayFallback = false
	if _, ok := table.Lookup(366); ok {
		t.Fatal("fallback disabled: day 366 must miss")
	}
}

func TestLeapDayPopulatedFromLeapYearsOnly(t *testing.T) {
	archive := []DailyValue{
		{Date: time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC), Flow: 9}, // leap year, day 366
		{Date: time.Date(2023, 12, 31, 12, 0, 0, 0, time.UTC), Flow: 4}, // day 365
	}
	res := Build("03170000", archive, BuildOptions{Percentile: 0.9})
	if v, ok := res.Table.Lookup(366); !ok || v != 9 {
		t.Fatalf("day 366 must only hold leap-year samples, got %v ok=%v", v, ok)
	}
	if v, ok := res.Table.Lookup(365); !ok || v != 4 {
		t.Fatalf("day 365 bucket wrong: %v ok=%v", v, ok)
	}
}

func TestLookupDomain(t *testing.T) {
	table := Table{Values: map[int]float64{1: 1}}
	if _, ok := table.Lookup(0); ok {
		t.Fatal("day 0 is outside the domain")
	}
	if _, ok := table.Lookup(367); ok {
		t.Fatal("day 367 is outside the domain")
	}
}
