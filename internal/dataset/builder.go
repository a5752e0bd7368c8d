// Package dataset assembles the per-site processed rows the presentation
// layer consumes.
package dataset

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"gaugewatch/internal/baseline"
	"gaugewatch/internal/readings"
	"gaugewatch/internal/roc"
)

// Row is one output record per site per pipeline run. Fully derived; it has
// no identity beyond (site, run).
type Row struct {
	Site            readings.Site
	LatestTimestamp time.Time
	LatestFlow      float64
	PctChange3h     *float64
	P90Flow         *float64
	Ratio           *float64
	HighFlow        bool
	RocStatus       roc.Status
}

// Builder merges the rate-of-change result with the historical baseline by
// day-of-year key.
type Builder struct {
	engine *roc.Engine
	loc    *time.Location
	logger zerolog.Logger
}

// NewBuilder constructs a builder. The location is the calendar the latest
// timestamp is localized into before extracting its day-of-year; using the
// raw UTC instant would shift the historical lookup by one day near local
// midnight.
func NewBuilder(engine *roc.Engine, loc *time.Location, logger zerolog.Logger) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{
		engine: engine,
		loc:    loc,
		logger: logger.With().Str("component", "dataset").Logger(),
	}
}

// Build produces one row per site holding at least one usable reading, in
// ascending site order. Sites with an empty or unusable window are skipped
// and counted, never emitted as null rows; identical inputs always produce
// identical output.
func (b *Builder) Build(store *readings.Store, sites map[string]readings.Site, baselines map[string]baseline.Table) ([]Row, int) {
	skipped := 0
	rows := make([]Row, 0, len(sites))

	for _, siteID := range store.Sites() {
		window, err := store.Window(siteID)
		if err != nil {
			// Unreachable for IDs the store itself reported; guard anyway so
			// one site can never take the batch down.
			b.logger.Error().Err(err).Str("site", siteID).Msg("window lookup failed; site skipped")
			skipped++
			continue
		}

		result, err := b.engine.Compute(window)
		if err != nil {
			if !errors.Is(err, roc.ErrEmptyWindow) {
				b.logger.Error().Err(err).Str("site", siteID).Msg("rate-of-change failed; site skipped")
			}
			skipped++
			continue
		}

		row := Row{
			Site:            sites[siteID],
			LatestTimestamp: result.LatestTimestamp,
			LatestFlow:      result.LatestFlow,
			PctChange3h:     result.PctChange,
			RocStatus:       result.Status,
		}
		if row.Site.ID == "" {
			row.Site.ID = siteID
		}

		if table, ok := baselines[siteID]; ok {
			doy := result.LatestTimestamp.In(b.loc).YearDay()
			if p90, ok := table.Lookup(doy); ok {
				v := p90
				row.P90Flow = &v
				if p90 > 0 {
					ratio := result.LatestFlow / p90
					row.Ratio = &ratio
					row.HighFlow = ratio >= 1.0
				}
			}
		}

		rows = append(rows, row)
	}

	return rows, skipped
}
