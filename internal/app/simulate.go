package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"gaugewatch/internal/alerting"
)

// SimulateAlertOptions carries the synthetic values for a test alert.
type SimulateAlertOptions struct {
	SiteID      string
	SiteName    string
	Flow        float64
	P90Flow     float64
	PctChange3h float64
}

// SimulateAlert pushes one synthetic notification through the configured
// channels so operators can verify alert delivery end to end.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateAlertOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	reason := alerting.ReasonRapidRise
	if opts.P90Flow > 0 && opts.Flow >= opts.P90Flow {
		reason = alerting.ReasonHighFlow
	}

	p90 := decimal.NewFromFloat(opts.P90Flow)
	pct := decimal.NewFromFloat(opts.PctChange3h)
	note := alerting.Notification{
		SiteID:       opts.SiteID,
		SiteName:     opts.SiteName,
		Timestamp:    time.Now().UTC(),
		Flow:         decimal.NewFromFloat(opts.Flow),
		P90Flow:      &p90,
		PctChange3h:  &pct,
		ThresholdPct: decimal.NewFromFloat(a.Config.Alerting.RiseThresholdPct),
		Reason:       reason,
		Channels:     a.Config.Alerting.Channels,
	}

	a.Logger.Info().Str("site", opts.SiteID).Str("reason", string(reason)).Msg("dispatching simulated alert")
	return notifier.Notify(ctx, note)
}
