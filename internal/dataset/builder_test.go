package dataset

import (
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gaugewatch/internal/baseline"
	"gaugewatch/internal/readings"
	"gaugewatch/internal/roc"
)

func flow(v float64) *float64 { return &v }

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	eastern, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return NewBuilder(roc.NewEngine(3*time.Hour, 30*time.Minute), eastern, zerolog.Nop())
}

func seedStore(latest time.Time) *readings.Store {
	store := readings.NewStore(24 * time.Hour)
	store.Ingest("01646500", []readings.Reading{
		{Timestamp: latest.Add(-3 * time.Hour), Flow: flow(8)},
		{Timestamp: latest, Flow: flow(10)},
	})
	return store
}

func TestBuildJoinsBaselineByLocalDayOfYear(t *testing.T) {
	// 2024-01-01T23:30-05:00 is 2024-01-02T04:30Z; local day-of-year is 1.
	latest := time.Date(2024, 1, 2, 4, 30, 0, 0, time.UTC)
	store := seedStore(latest)

	baselines := map[string]baseline.Table{
		"01646500": {SiteID: "01646500", Values: map[int]float64{1: 40, 2: 999}},
	}
	sites := map[string]readings.Site{
		"01646500": {ID: "01646500", Name: "POTOMAC RIVER NEAR WASH, DC", Latitude: 38.9, Longitude: -77.1},
	}

	rows, skipped := newBuilder(t).Build(store, sites, baselines)
	if skipped != 0 || len(rows) != 1 {
		t.Fatalf("expected 1 row 0 skipped, got %d/%d", len(rows), skipped)
	}
	row := rows[0]
	if row.P90Flow == nil || *row.P90Flow != 40 {
		t.Fatalf("lookup must use local day-of-year 1, got %v", row.P90Flow)
	}
	if row.PctChange3h == nil || *row.PctChange3h != 25.0 {
		t.Fatalf("expected pct change 25.0, got %v", row.PctChange3h)
	}
	if row.Ratio == nil || *row.Ratio != 0.25 {
		t.Fatalf("expected ratio 0.25, got %v", row.Ratio)
	}
	if row.HighFlow {
		t.Fatal("flow below p90 must not be flagged high")
	}
	if row.Site.Name != "POTOMAC RIVER NEAR WASH, DC" {
		t.Fatalf("site metadata not carried: %+v", row.Site)
	}
}

func TestBuildHighFlow(t *testing.T) {
	latest := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := seedStore(latest)
	doy := latest.In(time.UTC).YearDay() // same local day in June for Eastern

	baselines := map[string]baseline.Table{
		"01646500": {SiteID: "01646500", Values: map[int]float64{doy: 10}},
	}
	rows, _ := newBuilder(t).Build(store, map[string]readings.Site{}, baselines)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !rows[0].HighFlow {
		t.Fatal("flow at p90 must be flagged high")
	}
	if rows[0].Site.ID != "01646500" {
		t.Fatalf("missing metadata must still yield the site ID, got %q", rows[0].Site.ID)
	}
}

func TestBuildMissingBaselineYieldsNullP90(t *testing.T) {
	latest := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := seedStore(latest)

	rows, _ := newBuilder(t).Build(store, map[string]readings.Site{}, map[string]baseline.Table{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].P90Flow != nil || rows[0].Ratio != nil || rows[0].HighFlow {
		t.Fatalf("missing baseline must produce null p90/ratio: %+v", rows[0])
	}
}

func TestBuildZeroP90GuardsRatio(t *testing.T) {
	latest := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := seedStore(latest)
	doy := latest.YearDay()

	baselines := map[string]baseline.Table{
		"01646500": {SiteID: "01646500", Values: map[int]float64{doy: 0}},
	}
	rows, _ := newBuilder(t).Build(store, map[string]readings.Site{}, baselines)
	row := rows[0]
	if row.P90Flow == nil || *row.P90Flow != 0 {
		t.Fatalf("p90 of zero is still reported, got %v", row.P90Flow)
	}
	if row.Ratio != nil || row.HighFlow {
		t.Fatal("zero p90 must not produce a ratio or a high-flow flag")
	}
}

func TestBuildSkipsEmptySites(t *testing.T) {
	store := readings.NewStore(24 * time.Hour)
	store.Ingest("01646500", []readings.Reading{
		{Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), Flow: flow(10)},
	})
	// Site ingested but every reading missing its flow.
	store.Ingest("02035000", []readings.Reading{
		{Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), Flow: nil},
	})

	rows, skipped := newBuilder(t).Build(store, map[string]readings.Site{}, map[string]baseline.Table{})
	if len(rows) != 1 {
		t.Fatalf("empty site must be excluded from output, got %d rows", len(rows))
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped site, got %d", skipped)
	}
}

func TestBuildDeterministic(t *testing.T) {
	latest := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	doy := latest.YearDay()
	baselines := map[string]baseline.Table{
		"01646500": {SiteID: "01646500", Values: map[int]float64{doy: 40}},
		"02035000": {SiteID: "02035000", Values: map[int]float64{doy: 15}},
	}

	build := func() []Row {
		store := seedStore(latest)
		store.Ingest("02035000", []readings.Reading{
			{Timestamp: latest.Add(-time.Hour), Flow: flow(3)},
			{Timestamp: latest, Flow: flow(4)},
		})
		rows, _ := newBuilder(t).Build(store, map[string]readings.Site{}, baselines)
		return rows
	}

	first := build()
	second := build()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs must produce identical rows:\n%v\n%v", first, second)
	}
}
