package readings

import (
	"errors"
	"sort"
	"time"
)

// ErrUnknownSite indicates a window was requested for a site that was never ingested.
var ErrUnknownSite = errors.New("readings: unknown site")

type window struct {
	entries []Reading
	seen    map[int64]struct{}
}

// Store holds one rolling window of readings per site. Windows are
// append-then-prune: entries older than the retention horizon relative to the
// newest timestamp held for that site are evicted. The horizon is anchored on
// the site's own maximum timestamp rather than wall-clock time so replayed
// inputs produce identical windows.
type Store struct {
	retention time.Duration
	windows   map[string]*window
}

// NewStore constructs an empty store with the given retention horizon.
func NewStore(retention time.Duration) *Store {
	return &Store{
		retention: retention,
		windows:   make(map[string]*window),
	}
}

// Ingest merges a batch of readings into the site's window, deduplicating on
// timestamp, and prunes entries that fell out of the retention horizon.
// Duplicate timestamps keep the first-seen reading; the upstream feed can
// repeat a timestamp across sources and the retained value must not flap.
func (s *Store) Ingest(siteID string, batch []Reading) {
	w, ok := s.windows[siteID]
	if !ok {
		w = &window{seen: make(map[int64]struct{})}
		s.windows[siteID] = w
	}

	for _, r := range batch {
		key := r.Timestamp.UnixNano()
		if _, dup := w.seen[key]; dup {
			continue
		}
		w.seen[key] = struct{}{}
		r.SiteID = siteID
		w.entries = append(w.entries, r)
	}

	sort.SliceStable(w.entries, func(i, j int) bool {
		return w.entries[i].Timestamp.Before(w.entries[j].Timestamp)
	})

	s.prune(w)
}

// Prune re-applies the retention horizon to a site's window. Pruning is
// idempotent: calling it again without new ingests changes nothing.
func (s *Store) Prune(siteID string) {
	if w, ok := s.windows[siteID]; ok {
		s.prune(w)
	}
}

func (s *Store) prune(w *window) {
	if len(w.entries) == 0 || s.retention <= 0 {
		return
	}
	newest := w.entries[len(w.entries)-1].Timestamp
	cutoff := newest.Add(-s.retention)

	idx := sort.Search(len(w.entries), func(i int) bool {
		return !w.entries[i].Timestamp.Before(cutoff)
	})
	if idx == 0 {
		return
	}
	for _, r := range w.entries[:idx] {
		delete(w.seen, r.Timestamp.UnixNano())
	}
	w.entries = append([]Reading(nil), w.entries[idx:]...)
}

// Window returns the site's current pruned window in ascending timestamp
// order. The returned slice is a copy; callers may not mutate store state.
func (s *Store) Window(siteID string) ([]Reading, error) {
	w, ok := s.windows[siteID]
	if !ok {
		return nil, ErrUnknownSite
	}
	out := make([]Reading, len(w.entries))
	copy(out, w.entries)
	return out, nil
}

// Sites lists all ingested site IDs in ascending order. The ordering keeps
// downstream dataset builds deterministic.
func (s *Store) Sites() []string {
	ids := make([]string, 0, len(s.windows))
	for id := range s.windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports the number of readings currently held for a site.
func (s *Store) Len(siteID string) int {
	if w, ok := s.windows[siteID]; ok {
		return len(w.entries)
	}
	return 0
}
