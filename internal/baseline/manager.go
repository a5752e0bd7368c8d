package baseline

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Store persists baseline tables. Existence is checked explicitly rather than
// inferred from read failures so alternate backends stay substitutable, and
// Create must be atomic create-if-absent: a concurrent builder losing the
// race must not overwrite the winner's table.
type Store interface {
	Exists(ctx context.Context, siteID string) (bool, error)
	Read(ctx context.Context, siteID string) (Table, error)
	Create(ctx context.Context, table Table) error
	Delete(ctx context.Context, siteID string) error
}

// ArchiveSource fetches the long-range daily archive for all active sites in
// one pull; the upstream service is queried per state, not per site.
type ArchiveSource interface {
	FetchDailyArchive(ctx context.Context, from, to time.Time) (map[string][]DailyValue, error)
}

// Manager implements the cache-forever policy: a previously computed table is
// returned unchanged, and the expensive archive fetch runs only when at least
// one requested site has no cached table. Staleness is an accepted cost;
// invalidation is by deletion (or Rebuild) only.
type Manager struct {
	store   Store
	archive ArchiveSource
	opts    BuildOptions
	years   int
	clock   clockwork.Clock
	logger  zerolog.Logger
}

// NewManager wires a baseline manager.
func NewManager(store Store, archive ArchiveSource, opts BuildOptions, yearsBack int, clock clockwork.Clock, logger zerolog.Logger) *Manager {
	if yearsBack <= 0 {
		yearsBack = 20
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		store:   store,
		archive: archive,
		opts:    opts,
		years:   yearsBack,
		clock:   clock,
		logger:  logger.With().Str("component", "baseline").Logger(),
	}
}

// Ensure returns a table per requested site, building and persisting tables
// for sites that have none. An archive failure degrades rather than aborts:
// cached tables are still returned and uncovered sites are simply absent from
// the result, which surfaces downstream as a null p90.
func (m *Manager) Ensure(ctx context.Context, siteIDs []string) (map[string]Table, error) {
	tables := make(map[string]Table, len(siteIDs))
	var missing []string

	for _, id := range siteIDs {
		ok, err := m.store.Exists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check baseline for site %s: %w", id, err)
		}
		if !ok {
			missing = append(missing, id)
			continue
		}
		table, err := m.store.Read(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read baseline for site %s: %w", id, err)
		}
		table.LeapDayFallback = m.opts.LeapDayFallback
		tables[id] = table
	}

	if len(missing) == 0 {
		return tables, nil
	}

	m.logger.Info().Int("sites", len(missing)).Int("years_back", m.years).
		Msg("building missing baseline tables from historical archive")

	built, err := m.buildMissing(ctx, missing)
	if err != nil {
		m.logger.Warn().Err(err).Int("sites", len(missing)).
			Msg("historical archive unavailable; affected sites get null p90 this run")
		return tables, nil
	}
	for id, table := range built {
		tables[id] = table
	}
	return tables, nil
}

// Rebuild discards any cached table for the sites and builds fresh ones.
func (m *Manager) Rebuild(ctx context.Context, siteIDs []string) (map[string]Table, error) {
	for _, id := range siteIDs {
		if err := m.store.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("delete baseline for site %s: %w", id, err)
		}
	}
	return m.buildMissing(ctx, siteIDs)
}

func (m *Manager) buildMissing(ctx context.Context, siteIDs []string) (map[string]Table, error) {
	now := m.clock.Now().UTC()
	from := now.AddDate(-m.years, 0, 0)

	archive, err := m.archive.FetchDailyArchive(ctx, from, now)
	if err != nil {
		return nil, fmt.Errorf("fetch daily archive: %w", err)
	}

	built := make(map[string]Table, len(siteIDs))
	for _, id := range siteIDs {
		samples := archive[id]
		if len(samples) == 0 {
			m.logger.Warn().Str("site", id).Msg("no historical samples; site left without baseline")
			continue
		}

		result := Build(id, samples, m.opts)
		result.Table.ComputedAt = now
		if result.SparseDays > 0 {
			m.logger.Debug().Str("site", id).Int("sparse_days", result.SparseDays).
				Msg("baseline has sparse day-of-year buckets")
		}

		if err := m.store.Create(ctx, result.Table); err != nil {
			return nil, fmt.Errorf("persist baseline for site %s: %w", id, err)
		}

		// A concurrent run may have won the create; read back the stored
		// table so every process serves the same values.
		stored, err := m.store.Read(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read back baseline for site %s: %w", id, err)
		}
		stored.LeapDayFallback = m.opts.LeapDayFallback
		built[id] = stored

		m.logger.Info().Str("site", id).Int("samples", result.SampleCount).
			Int("days", len(result.Table.Values)).Msg("baseline table ready")
	}
	return built, nil
}
