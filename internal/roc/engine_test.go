package roc

import (
	"errors"
	"math"
	"testing"
	"time"

	"gaugewatch/internal/readings"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func flow(v float64) *float64 { return &v }

func reading(offset time.Duration, f *float64) readings.Reading {
	return readings.Reading{SiteID: "01646500", Timestamp: t0.Add(offset), Flow: f}
}

func newEngine() *Engine {
	return NewEngine(3*time.Hour, 30*time.Minute)
}

func TestComputeEmptyWindow(t *testing.T) {
	e := newEngine()
	if _, err := e.Compute(nil); !errors.Is(err, ErrEmptyWindow) {
		t.Fatalf("expected ErrEmptyWindow, got %v", err)
	}
	// A window holding only missing flows is just as empty.
	if _, err := e.Compute([]readings.Reading{reading(0, nil)}); !errors.Is(err, ErrEmptyWindow) {
		t.Fatalf("expected ErrEmptyWindow for all-missing window, got %v", err)
	}
}

func TestComputeWithinTolerance(t *testing.T) {
	// Lag reading at t0-3h05m, 5 minutes inside the 30-minute tolerance.
	e := newEngine()
	res, err := e.Compute([]readings.Reading{
		reading(-3*time.Hour-5*time.Minute, flow(8)),
		reading(0, flow(10)),
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("expected OK, got %s", res.Status)
	}
	if res.PctChange == nil || *res.PctChange != 25.0 {
		t.Fatalf("expected pct change 25.0, got %v", res.PctChange)
	}
	if res.LagFlow == nil || *res.LagFlow != 8 {
		t.Fatalf("wrong lag flow: %v", res.LagFlow)
	}
}

func TestComputeOutsideTolerance(t *testing.T) {
	// Nearest earlier reading at t0-3h45m, outside tolerance.
	e := newEngine()
	res, err := e.Compute([]readings.Reading{
		reading(-3*time.Hour-45*time.Minute, flow(8)),
		reading(0, flow(10)),
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.Status != StatusNoEarlierReading {
		t.Fatalf("expected NO_EARLIER_READING, got %s", res.Status)
	}
	if res.PctChange != nil {
		t.Fatalf("pct change must be null, got %v", *res.PctChange)
	}
}

func TestComputeZeroBaseline(t *testing.T) {
	e := newEngine()
	res, err := e.Compute([]readings.Reading{
		reading(-3*time.Hour, flow(0)),
		reading(0, flow(10)),
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.Status != StatusZeroBaseline {
		t.Fatalf("expected ZERO_BASELINE, got %s", res.Status)
	}
	if res.PctChange != nil {
		t.Fatal("pct change must be null for zero baseline")
	}
	if res.PctChange != nil && (math.IsNaN(*res.PctChange) || math.IsInf(*res.PctChange, 0)) {
		t.Fatal("pct change must never be NaN or infinite")
	}
}

func TestNearestPicksClosest(t *testing.T) {
	e := newEngine()
	res, err := e.Compute([]readings.Reading{
		reading(-3*time.Hour-20*time.Minute, flow(7)),
		reading(-3*time.Hour-10*time.Minute, flow(8)),
		reading(0, flow(10)),
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.LagFlow == nil || *res.LagFlow != 8 {
		t.Fatalf("expected the closer reading (flow 8), got %v", res.LagFlow)
	}
}

func TestNearestEqualDistancePrefersEarlier(t *testing.T) {
	e := newEngine()
	res, err := e.Compute([]readings.Reading{
		reading(-3*time.Hour-10*time.Minute, flow(6)),
		reading(-3*time.Hour+10*time.Minute, flow(9)),
		reading(0, flow(10)),
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.LagFlow == nil || *res.LagFlow != 6 {
		t.Fatalf("equal-distance tie must prefer the earlier reading, got %v", res.LagFlow)
	}
}

func TestNearestSkipsMissingFlow(t *testing.T) {
	e := newEngine()
	res, err := e.Compute([]readings.Reading{
		reading(-3*time.Hour, nil),
		reading(-3*time.Hour-15*time.Minute, flow(5)),
		reading(0, flow(10)),
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.LagFlow == nil || *res.LagFlow != 5 {
		t.Fatalf("missing-flow reading must be excluded from candidacy, got %v", res.LagFlow)
	}
	if res.PctChange == nil || *res.PctChange != 100.0 {
		t.Fatalf("expected pct change 100.0, got %v", res.PctChange)
	}
}

func TestLatestSkipsMissingFlow(t *testing.T) {
	// The newest reading has no flow; the engine anchors on the newest usable one.
	e := newEngine()
	res, err := e.Compute([]readings.Reading{
		reading(-3*time.Hour-15*time.Minute, flow(8)),
		reading(-15*time.Minute, flow(12)),
		reading(0, nil),
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !res.LatestTimestamp.Equal(t0.Add(-15 * time.Minute)) {
		t.Fatalf("latest should anchor on newest usable reading, got %v", res.LatestTimestamp)
	}
	if res.Status != StatusOK {
		t.Fatalf("expected OK, got %s", res.Status)
	}
}
