package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gaugewatch/internal/baseline"
	"gaugewatch/internal/dataset"
	"gaugewatch/internal/readings"
	"gaugewatch/internal/roc"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSiteSQL = `INSERT INTO sites (site_id, name, latitude, longitude)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (site_id) DO UPDATE
    SET name = EXCLUDED.name,
        latitude = EXCLUDED.latitude,
        longitude = EXCLUDED.longitude;`

	insertReadingSQL = `INSERT INTO readings (site_id, ts, flow)
    VALUES ($1,$2,$3)
    ON CONFLICT (site_id, ts) DO NOTHING;`

	maxReadingTSSQL = `SELECT max(ts) FROM readings;`

	pruneReadingsSQL = `DELETE FROM readings r
    USING (SELECT site_id, max(ts) AS max_ts FROM readings GROUP BY site_id) m
    WHERE r.site_id = m.site_id
      AND r.ts < m.max_ts - $1::interval;`

	loadReadingsSQL = `SELECT site_id, ts, flow FROM readings ORDER BY site_id, ts;`

	listSiteReadingsSQL = `SELECT site_id, ts, flow FROM readings
    WHERE site_id = $1 AND ts >= $2
    ORDER BY ts;`

	loadSitesSQL = `SELECT site_id, name, latitude, longitude FROM sites;`

	baselineExistsSQL = `SELECT EXISTS (SELECT 1 FROM baseline_meta WHERE site_id = $1);`

	readBaselineMetaSQL = `SELECT computed_at, percentile FROM baseline_meta WHERE site_id = $1;`

	readBaselineSQL = `SELECT day_of_year, p90_flow FROM baselines WHERE site_id = $1 ORDER BY day_of_year;`

	lockBaselineSQL = `SELECT pg_advisory_xact_lock(hashtext('baseline:' || $1));`

	insertBaselineMetaSQL = `INSERT INTO baseline_meta (site_id, computed_at, percentile, days)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (site_id) DO NOTHING;`

	insertBaselineRowSQL = `INSERT INTO baselines (site_id, day_of_year, p90_flow)
    VALUES ($1,$2,$3);`

	deleteBaselineSQL     = `DELETE FROM baselines WHERE site_id = $1;`
	deleteBaselineMetaSQL = `DELETE FROM baseline_meta WHERE site_id = $1;`

	deleteProcessedSQL = `DELETE FROM processed;`

	insertProcessedSQL = `INSERT INTO processed (
        site_id, site_name, latitude, longitude,
        latest_ts, latest_flow, pct_change_3h, p90_flow,
        ratio, high_flow, roc_status, run_ts
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`

	listProcessedSQL = `SELECT
        site_id, site_name, latitude, longitude,
        latest_ts, latest_flow, pct_change_3h, p90_flow,
        ratio, high_flow, roc_status, run_ts
    FROM processed
    ORDER BY site_id;`

	insertRunSQL = `INSERT INTO pipeline_runs (run_ts, sites_processed, sites_skipped, duration_ms, status, error)
    VALUES ($1,$2,$3,$4,$5,$6);`

	trimRunsSQL = `DELETE FROM pipeline_runs
    WHERE id NOT IN (SELECT id FROM pipeline_runs ORDER BY run_ts DESC LIMIT $1);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// runLogRetention bounds the pipeline_runs audit table.
const runLogRetention = 100

// Store aggregates access to readings, baselines, and the processed dataset.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Serialises pipeline runs across processes.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; the session close releases it anyway
		}
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertSites refreshes site metadata from the feed.
func (s *Store) UpsertSites(ctx context.Context, sites []readings.Site) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, site := range sites {
		batch.Queue(upsertSiteSQL, site.ID, site.Name, site.Latitude, site.Longitude)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert sites: %w", err)
	}
	return nil
}

// InsertReadings appends new readings; duplicate (site, timestamp) pairs are
// ignored so the first-seen value is retained.
func (s *Store) InsertReadings(ctx context.Context, rows []readings.Reading) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertReadingSQL, r.SiteID, r.Timestamp, r.Flow)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert readings: %w", err)
	}
	return nil
}

// MaxReadingTimestamp reports the newest stored reading timestamp, used to
// resume the incremental feed. ok is false when no readings are stored yet.
func (s *Store) MaxReadingTimestamp(ctx context.Context) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}

	var ts *time.Time
	if err := pool.QueryRow(ctx, maxReadingTSSQL).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("max reading timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return *ts, true, nil
}

// PruneReadings evicts rows older than the retention horizon relative to each
// site's newest stored timestamp.
func (s *Store) PruneReadings(ctx context.Context, retention time.Duration) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tag, execErr := pool.Exec(ctx, pruneReadingsSQL, retention)
	if execErr != nil {
		return 0, fmt.Errorf("prune readings: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// LoadWindows reads back every site's stored window in ascending timestamp
// order, plus the known site metadata.
func (s *Store) LoadWindows(ctx context.Context) (map[string][]readings.Reading, map[string]readings.Site, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, nil, err
	}

	rows, queryErr := pool.Query(ctx, loadReadingsSQL)
	if queryErr != nil {
		return nil, nil, fmt.Errorf("load readings: %w", queryErr)
	}
	defer rows.Close()

	windows := make(map[string][]readings.Reading)
	for rows.Next() {
		var r readings.Reading
		if err := rows.Scan(&r.SiteID, &r.Timestamp, &r.Flow); err != nil {
			return nil, nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		windows[r.SiteID] = append(windows[r.SiteID], r)
	}
	if rows.Err() != nil {
		return nil, nil, rows.Err()
	}

	sites, err := s.loadSites(ctx)
	if err != nil {
		return nil, nil, err
	}
	return windows, sites, nil
}

// ListSiteReadings returns one site's readings since a cutoff, for the
// hydrograph export.
func (s *Store) ListSiteReadings(ctx context.Context, siteID string, since time.Time) ([]readings.Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSiteReadingsSQL, siteID, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list site readings: %w", queryErr)
	}
	defer rows.Close()

	out := make([]readings.Reading, 0)
	for rows.Next() {
		var r readings.Reading
		if err := rows.Scan(&r.SiteID, &r.Timestamp, &r.Flow); err != nil {
			return nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSites returns all known site metadata keyed by site id.
func (s *Store) ListSites(ctx context.Context) (map[string]readings.Site, error) {
	return s.loadSites(ctx)
}

func (s *Store) loadSites(ctx context.Context) (map[string]readings.Site, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadSitesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load sites: %w", queryErr)
	}
	defer rows.Close()

	sites := make(map[string]readings.Site)
	for rows.Next() {
		var site readings.Site
		if err := rows.Scan(&site.ID, &site.Name, &site.Latitude, &site.Longitude); err != nil {
			return nil, err
		}
		sites[site.ID] = site
	}
	return sites, rows.Err()
}

// ReplaceProcessed swaps in the new processed dataset atomically: the
// previous rows stay visible until the transaction commits, and a failed run
// leaves them untouched.
func (s *Store) ReplaceProcessed(ctx context.Context, rows []dataset.Row, runTS time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin processed swap: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteProcessedSQL); err != nil {
		return fmt.Errorf("clear processed rows: %w", err)
	}

	for _, row := range rows {
		if _, err := tx.Exec(ctx, insertProcessedSQL,
			row.Site.ID,
			row.Site.Name,
			row.Site.Latitude,
			row.Site.Longitude,
			row.LatestTimestamp,
			row.LatestFlow,
			row.PctChange3h,
			row.P90Flow,
			row.Ratio,
			row.HighFlow,
			string(row.RocStatus),
			runTS,
		); err != nil {
			return fmt.Errorf("insert processed row for site %s: %w", row.Site.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit processed swap: %w", err)
	}
	return nil
}

// ListProcessed reads the current processed dataset ordered by site.
func (s *Store) ListProcessed(ctx context.Context) ([]ProcessedRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listProcessedSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list processed: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ProcessedRecord, 0)
	for rows.Next() {
		var rec ProcessedRecord
		var status string
		if err := rows.Scan(
			&rec.SiteID,
			&rec.SiteName,
			&rec.Latitude,
			&rec.Longitude,
			&rec.LatestTimestamp,
			&rec.LatestFlow,
			&rec.PctChange3h,
			&rec.P90Flow,
			&rec.Ratio,
			&rec.HighFlow,
			&status,
			&rec.RunTS,
		); err != nil {
			return nil, err
		}
		rec.RocStatus = roc.Status(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordRun appends a run to the audit log and trims it to the retained
// window.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, insertRunSQL,
		rec.RunTS,
		rec.SitesProcessed,
		rec.SitesSkipped,
		rec.Duration.Milliseconds(),
		rec.Status,
		rec.Error,
	); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	if _, err := pool.Exec(ctx, trimRunsSQL, runLogRetention); err != nil {
		return fmt.Errorf("trim run log: %w", err)
	}
	return nil
}

// Baselines exposes the baseline persistence interface backed by this store.
func (s *Store) Baselines() baseline.Store {
	return &baselineStore{s: s}
}

type baselineStore struct {
	s *Store
}

func (b *baselineStore) Exists(ctx context.Context, siteID string) (bool, error) {
	pool, err := b.s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if err := pool.QueryRow(ctx, baselineExistsSQL, siteID).Scan(&exists); err != nil {
		return false, fmt.Errorf("baseline exists for site %s: %w", siteID, err)
	}
	return exists, nil
}

func (b *baselineStore) Read(ctx context.Context, siteID string) (baseline.Table, error) {
	pool, err := b.s.getPool()
	if err != nil {
		return baseline.Table{}, err
	}

	table := baseline.Table{SiteID: siteID, Values: make(map[int]float64)}
	if err := pool.QueryRow(ctx, readBaselineMetaSQL, siteID).Scan(&table.ComputedAt, &table.Percentile); err != nil {
		return baseline.Table{}, fmt.Errorf("read baseline meta for site %s: %w", siteID, err)
	}

	rows, queryErr := pool.Query(ctx, readBaselineSQL, siteID)
	if queryErr != nil {
		return baseline.Table{}, fmt.Errorf("read baseline for site %s: %w", siteID, queryErr)
	}
	defer rows.Close()

	for rows.Next() {
		var day int
		var flow float64
		if err := rows.Scan(&day, &flow); err != nil {
			return baseline.Table{}, err
		}
		table.Values[day] = flow
	}
	return table, rows.Err()
}

// Create persists a table if the site has none yet. The per-site transaction
// advisory lock plus the DO NOTHING meta insert make this atomic
// create-if-absent: a concurrent builder that loses the race writes nothing.
func (b *baselineStore) Create(ctx context.Context, table baseline.Table) error {
	pool, err := b.s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin baseline create: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, lockBaselineSQL, table.SiteID); err != nil {
		return fmt.Errorf("lock baseline for site %s: %w", table.SiteID, err)
	}

	tag, err := tx.Exec(ctx, insertBaselineMetaSQL,
		table.SiteID, table.ComputedAt, table.Percentile, len(table.Values))
	if err != nil {
		return fmt.Errorf("insert baseline meta for site %s: %w", table.SiteID, err)
	}
	if tag.RowsAffected() == 0 {
		// Another process created the table first; keep theirs.
		return tx.Commit(ctx)
	}

	for day, flow := range table.Values {
		if _, err := tx.Exec(ctx, insertBaselineRowSQL, table.SiteID, day, flow); err != nil {
			return fmt.Errorf("insert baseline row for site %s day %d: %w", table.SiteID, day, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit baseline for site %s: %w", table.SiteID, err)
	}
	return nil
}

func (b *baselineStore) Delete(ctx context.Context, siteID string) error {
	pool, err := b.s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin baseline delete: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteBaselineSQL, siteID); err != nil {
		return fmt.Errorf("delete baseline rows for site %s: %w", siteID, err)
	}
	if _, err := tx.Exec(ctx, deleteBaselineMetaSQL, siteID); err != nil {
		return fmt.Errorf("delete baseline meta for site %s: %w", siteID, err)
	}
	return tx.Commit(ctx)
}
