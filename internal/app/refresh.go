package app

import (
	"context"

	"github.com/jonboulle/clockwork"
)

// Refresh executes exactly one pipeline run and exits.
func (a *App) Refresh(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	clock := clockwork.NewRealClock()
	svc := a.newService(store, nil, nil, clock)

	runTS := clock.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	a.Logger.Info().Time("run", runTS).Msg("starting one-shot pipeline run")
	return svc.ProcessRun(ctx, runTS)
}
