package readings

import (
	"errors"
	"testing"
	"time"
)

func flow(v float64) *float64 { return &v }

func ts(minute int) time.Time {
	return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(minute) * time.Minute)
}

func TestWindowUnknownSite(t *testing.T) {
	s := NewStore(24 * time.Hour)
	if _, err := s.Window("01646500"); !errors.Is(err, ErrUnknownSite) {
		t.Fatalf("expected ErrUnknownSite, got %v", err)
	}
}

func TestIngestOrdersAndDeduplicates(t *testing.T) {
	s := NewStore(24 * time.Hour)
	s.Ingest("01646500", []Reading{
		{Timestamp: ts(30), Flow: flow(12)},
		{Timestamp: ts(0), Flow: flow(10)},
	})
	// Second batch repeats ts(30) with a different value; first-seen wins.
	s.Ingest("01646500", []Reading{
		{Timestamp: ts(30), Flow: flow(99)},
		{Timestamp: ts(15), Flow: flow(11)},
	})

	w, err := s.Window("01646500")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(w) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(w))
	}
	for i := 1; i < len(w); i++ {
		if w[i].Timestamp.Before(w[i-1].Timestamp) {
			t.Fatalf("window not ascending at index %d", i)
		}
	}
	if v, _ := w[2].FlowValue(); v != 12 {
		t.Fatalf("duplicate timestamp should keep first-seen flow 12, got %v", v)
	}
}

func TestPruneRelativeToNewestReading(t *testing.T) {
	s := NewStore(24 * time.Hour)
	old := ts(0)
	s.Ingest("02035000", []Reading{
		{Timestamp: old, Flow: flow(5)},
		{Timestamp: old.Add(12 * time.Hour), Flow: flow(6)},
	})
	if s.Len("02035000") != 2 {
		t.Fatalf("nothing should be pruned yet, have %d", s.Len("02035000"))
	}

	// A reading 25h after the first pushes the horizon past it.
	s.Ingest("02035000", []Reading{{Timestamp: old.Add(25 * time.Hour), Flow: flow(7)}})

	w, _ := s.Window("02035000")
	if len(w) != 2 {
		t.Fatalf("expected oldest reading evicted, got %d readings", len(w))
	}
	if w[0].Timestamp != old.Add(12*time.Hour) {
		t.Fatalf("wrong reading evicted, window starts at %v", w[0].Timestamp)
	}
}

func TestPruneIdempotent(t *testing.T) {
	s := NewStore(time.Hour)
	s.Ingest("03170000", []Reading{
		{Timestamp: ts(0), Flow: flow(1)},
		{Timestamp: ts(90), Flow: flow(2)},
	})
	first, _ := s.Window("03170000")
	s.Prune("03170000")
	second, _ := s.Window("03170000")
	if len(first) != len(second) {
		t.Fatalf("re-pruning changed the window: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Timestamp.Equal(second[i].Timestamp) {
			t.Fatalf("re-pruning reordered the window at index %d", i)
		}
	}
}

func TestEvictedTimestampCanReenter(t *testing.T) {
	s := NewStore(time.Hour)
	s.Ingest("01634000", []Reading{{Timestamp: ts(0), Flow: flow(1)}})
	s.Ingest("01634000", []Reading{{Timestamp: ts(120), Flow: flow(2)}})
	if s.Len("01634000") != 1 {
		t.Fatalf("expected old reading evicted")
	}
	// Re-ingesting the evicted timestamp must not be blocked by stale dedupe
	// state, but it is still outside the horizon and gets pruned again.
	s.Ingest("01634000", []Reading{{Timestamp: ts(0), Flow: flow(1)}})
	if s.Len("01634000") != 1 {
		t.Fatalf("stale reading should be pruned on re-ingest, have %d", s.Len("01634000"))
	}
}

func TestSitesSorted(t *testing.T) {
	s := NewStore(24 * time.Hour)
	s.Ingest("02035000", []Reading{{Timestamp: ts(0), Flow: flow(1)}})
	s.Ingest("01646500", []Reading{{Timestamp: ts(0), Flow: flow(1)}})
	ids := s.Sites()
	if len(ids) != 2 || ids[0] != "01646500" || ids[1] != "02035000" {
		t.Fatalf("sites not sorted: %v", ids)
	}
}
