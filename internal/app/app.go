package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gaugewatch/internal/alerting"
	"gaugewatch/internal/baseline"
	"gaugewatch/internal/config"
	"gaugewatch/internal/dataset"
	"gaugewatch/internal/observability"
	"gaugewatch/internal/roc"
	"gaugewatch/internal/scheduler"
	"gaugewatch/internal/service"
	"gaugewatch/internal/storage"
	"gaugewatch/internal/usgs"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() *usgs.Client {
	return usgs.NewClient(usgs.Options{
		IVBaseURL:     a.Config.USGS.IVBaseURL,
		DVBaseURL:     a.Config.USGS.DVBaseURL,
		StateCode:     a.Config.USGS.StateCode,
		ParameterCode: a.Config.USGS.ParameterCode,
		SiteType:      a.Config.USGS.SiteType,
		Timeout:       a.Config.USGS.RequestTimeout,
		UserAgent:     a.Config.USGS.UserAgent,
		ChunkYears:    a.Config.USGS.ChunkYears,
		ChunkDelay:    a.Config.USGS.ChunkDelay,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, fmt.Errorf("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newBaselineManager(store *storage.Store, client *usgs.Client, clock clockwork.Clock) *baseline.Manager {
	opts := baseline.BuildOptions{
		Percentile:      a.Config.Baseline.Percentile,
		Location:        a.Config.Location(),
		MinSamples:      a.Config.Baseline.MinSamples,
		LeapDayFallback: a.Config.Baseline.LeapDayFallback,
	}
	return baseline.NewManager(store.Baselines(), client, opts, a.Config.Baseline.YearsBack, clock, a.Logger)
}

func (a *App) newBuilder() *dataset.Builder {
	engine := roc.NewEngine(a.Config.Pipeline.TargetLag, a.Config.Pipeline.Tolerance)
	return dataset.NewBuilder(engine, a.Config.Location(), a.Logger)
}

func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler, metrics *observability.Metrics, clock clockwork.Clock) *service.Service {
	client := a.newClient()
	manager := a.newBaselineManager(store, client, clock)
	return service.New(a.Config, sched, client, store, manager, a.newBuilder(), a.newNotifier(), metrics, clock, a.Logger)
}

// Run executes the long-running pipeline service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	clock := clockwork.NewRealClock()
	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, clock, a.Logger)

	var metrics *observability.Metrics
	var metricsSrv *http.Server
	if a.Config.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = observability.New(reg)
		metricsSrv = a.serveMetrics(reg)
		defer a.shutdownMetrics(metricsSrv)
	}

	svc := a.newService(store, sched, metrics, clock)

	a.Logger.Info().Msg("starting gauge pipeline service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("gauge pipeline service stopped")
	return nil
}

func (a *App) serveMetrics(reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: a.Config.Metrics.ListenAddr, Handler: mux}
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("serving metrics endpoint")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

func (a *App) shutdownMetrics(srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
