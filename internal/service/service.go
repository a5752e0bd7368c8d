package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gaugewatch/internal/alerting"
	"gaugewatch/internal/baseline"
	"gaugewatch/internal/config"
	"gaugewatch/internal/dataset"
	"gaugewatch/internal/observability"
	"gaugewatch/internal/readings"
	"gaugewatch/internal/scheduler"
	"gaugewatch/internal/storage"
	"gaugewatch/internal/usgs"
)

// Fetcher retrieves the incremental instantaneous-values feed.
type Fetcher interface {
	FetchInstantaneous(ctx context.Context, from, to time.Time) ([]usgs.SiteData, error)
}

// Repository is the slice of the storage layer one pipeline run touches.
type Repository interface {
	UpsertSites(ctx context.Context, sites []readings.Site) error
	InsertReadings(ctx context.Context, rows []readings.Reading) error
	MaxReadingTimestamp(ctx context.Context) (time.Time, bool, error)
	PruneReadings(ctx context.Context, retention time.Duration) (int64, error)
	LoadWindows(ctx context.Context) (map[string][]readings.Reading, map[string]readings.Site, error)
	ReplaceProcessed(ctx context.Context, rows []dataset.Row, runTS time.Time) error
	RecordRun(ctx context.Context, rec storage.RunRecord) error
}

// BaselineProvider hands back one historical table per covered site.
type BaselineProvider interface {
	Ensure(ctx context.Context, siteIDs []string) (map[string]baseline.Table, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Service orchestrates one pipeline run: ingest, derive, join, swap, alert.
type Service struct {
	scheduler *scheduler.Scheduler
	fetcher   Fetcher
	repo      Repository
	baselines BaselineProvider
	builder   *dataset.Builder
	notifier  alerting.Notifier
	metrics   *observability.Metrics
	clock     clockwork.Clock
	logger    zerolog.Logger

	retention time.Duration
	locker    AdvisoryLocker
	lockKey   int64

	alertsOn  bool
	threshold decimal.Decimal
	cooldown  time.Duration
	channels  []string
	lastAlert map[string]time.Time
}

// New constructs the pipeline service.
func New(cfg *config.Config, sched *scheduler.Scheduler, fetcher Fetcher, repo Repository, baselines BaselineProvider, builder *dataset.Builder, notifier alerting.Notifier, metrics *observability.Metrics, clock clockwork.Clock, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.RiseThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.RiseThresholdPct)
	}

	var locker AdvisoryLocker
	if l, ok := repo.(AdvisoryLocker); ok {
		locker = l
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Service{
		scheduler: sched,
		fetcher:   fetcher,
		repo:      repo,
		baselines: baselines,
		builder:   builder,
		notifier:  notifier,
		metrics:   metrics,
		clock:     clock,
		logger:    logger.With().Str("component", "service").Logger(),
		retention: cfg.Pipeline.Retention,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		alertsOn:  cfg.Alerting.Enabled,
		threshold: threshold,
		cooldown:  cfg.Alerting.Cooldown,
		channels:  cfg.Alerting.Channels,
		lastAlert: make(map[string]time.Time),
	}
}

// Run begins the scheduled pipeline loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessRun)
}

// ProcessRun executes one pipeline run for the given bucket, skipping it when
// another process already holds the run lock.
func (s *Service) ProcessRun(ctx context.Context, runTS time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("run", runTS).Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := s.clock.Now()
	rows, skipped, runErr := s.executeRun(ctx, runTS)
	elapsed := s.clock.Now().Sub(started)

	rec := storage.RunRecord{
		RunTS:          runTS.UTC(),
		SitesProcessed: rows,
		SitesSkipped:   skipped,
		Duration:       elapsed,
		Status:         "complete",
	}
	status := "ok"
	if runErr != nil {
		msg := runErr.Error()
		rec.Status = "failed"
		rec.Error = &msg
		status = "error"
	}
	if err := s.repo.RecordRun(ctx, rec); err != nil {
		s.logger.Error().Err(err).Msg("failed to record pipeline run")
	}

	if s.metrics != nil {
		s.metrics.RunsTotal.WithLabelValues(status).Inc()
		s.metrics.RunDuration.Observe(elapsed.Seconds())
		if runErr == nil {
			s.metrics.SitesProcessed.Set(float64(rows))
			s.metrics.SitesSkipped.Set(float64(skipped))
		}
	}

	return runErr
}

// executeRun performs the ingest-derive-join-swap sequence. Per-site
// problems are isolated inside the builder; only systemic failures (feed or
// storage down, zero usable sites) surface as an error, leaving the previous
// processed dataset untouched.
func (s *Service) executeRun(ctx context.Context, runTS time.Time) (int, int, error) {
	since, ok, err := s.repo.MaxReadingTimestamp(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve incremental cursor: %w", err)
	}
	if ok {
		// One second past the newest stored reading avoids refetching it.
		since = since.Add(time.Second)
	} else {
		since = runTS.Add(-s.retention)
	}

	feed, err := s.fetcher.FetchInstantaneous(ctx, since, runTS)
	if err != nil {
		if s.metrics != nil {
			s.metrics.FetchErrors.Inc()
		}
		return 0, 0, fmt.Errorf("fetch readings: %w", err)
	}

	var sites []readings.Site
	var fresh []readings.Reading
	for _, sd := range feed {
		sites = append(sites, sd.Site)
		fresh = append(fresh, sd.Readings...)
	}
	s.logger.Info().Int("sites", len(sites)).Int("readings", len(fresh)).
		Time("since", since).Msg("fetched incremental readings")

	if len(sites) > 0 {
		if err := s.repo.UpsertSites(ctx, sites); err != nil {
			return 0, 0, err
		}
	}
	if len(fresh) > 0 {
		if err := s.repo.InsertReadings(ctx, fresh); err != nil {
			return 0, 0, err
		}
		if s.metrics != nil {
			s.metrics.ReadingsStored.Add(float64(len(fresh)))
		}
	}

	pruned, err := s.repo.PruneReadings(ctx, s.retention)
	if err != nil {
		return 0, 0, err
	}
	if pruned > 0 {
		s.logger.Debug().Int64("pruned", pruned).Msg("evicted readings beyond retention horizon")
	}

	windows, knownSites, err := s.repo.LoadWindows(ctx)
	if err != nil {
		return 0, 0, err
	}

	store := readings.NewStore(s.retention)
	for siteID, rows := range windows {
		store.Ingest(siteID, rows)
	}

	tables, err := s.baselines.Ensure(ctx, store.Sites())
	if err != nil {
		return 0, 0, fmt.Errorf("ensure baselines: %w", err)
	}

	rows, skipped := s.builder.Build(store, knownSites, tables)
	if len(rows) == 0 {
		return 0, skipped, fmt.Errorf("no site produced a processed row")
	}

	if err := s.repo.ReplaceProcessed(ctx, rows, runTS.UTC()); err != nil {
		return 0, skipped, err
	}

	s.logger.Info().Time("run", runTS).Int("rows", len(rows)).Int("skipped", skipped).
		Msg("processed dataset replaced")

	s.dispatchAlerts(ctx, rows)
	return len(rows), skipped, nil
}

func (s *Service) dispatchAlerts(ctx context.Context, rows []dataset.Row) {
	if !s.alertsOn || s.notifier == nil {
		return
	}

	now := s.clock.Now()
	for _, row := range rows {
		reason, ok := s.classify(row)
		if !ok {
			continue
		}
		if last, seen := s.lastAlert[row.Site.ID]; seen && now.Sub(last) < s.cooldown {
			continue
		}

		note := alerting.Notification{
			SiteID:       row.Site.ID,
			SiteName:     row.Site.Name,
			Timestamp:    row.LatestTimestamp,
			Flow:         decimal.NewFromFloat(row.LatestFlow),
			ThresholdPct: s.threshold,
			Reason:       reason,
			Channels:     s.channels,
		}
		if row.P90Flow != nil {
			p90 := decimal.NewFromFloat(*row.P90Flow)
			note.P90Flow = &p90
		}
		if row.PctChange3h != nil {
			pct := decimal.NewFromFloat(*row.PctChange3h)
			note.PctChange3h = &pct
		}

		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("site", row.Site.ID).Msg("failed to dispatch alert")
			continue
		}
		s.lastAlert[row.Site.ID] = now
		if s.metrics != nil {
			s.metrics.AlertsSent.Inc()
		}
	}
}

// classify decides whether a processed row warrants an alert. High flow wins
// over rapid rise when both hold.
func (s *Service) classify(row dataset.Row) (alerting.Reason, bool) {
	if row.HighFlow {
		return alerting.ReasonHighFlow, true
	}
	if !s.threshold.IsZero() && row.PctChange3h != nil {
		if decimal.NewFromFloat(*row.PctChange3h).GreaterThan(s.threshold) {
			return alerting.ReasonRapidRise, true
		}
	}
	return "", false
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
