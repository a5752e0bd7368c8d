// Package roc derives the short-term rate-of-change signal from a site's
// rolling window of readings.
package roc

import (
	"errors"
	"time"

	"gaugewatch/internal/readings"
)

// Status classifies the outcome of a rate-of-change computation. The two
// degenerate outcomes are data states, not errors: the site still produces an
// output row, with a null percent change.
type Status string

const (
	StatusOK               Status = "OK"
	StatusNoEarlierReading Status = "NO_EARLIER_READING"
	StatusZeroBaseline     Status = "ZERO_BASELINE"
)

// ErrEmptyWindow indicates the window held no usable reading. Readings with a
// missing flow value are not usable observations, so a window that contains
// only those is treated the same as an empty one. Callers skip the site.
var ErrEmptyWindow = errors.New("roc: window has no usable readings")

// Result is the derived rate-of-change record for one site. Recomputed fresh
// on every pipeline run; never persisted directly.
type Result struct {
	SiteID          string
	LatestTimestamp time.Time
	LatestFlow      float64
	LagTimestamp    *time.Time
	LagFlow         *float64
	PctChange       *float64
	Status          Status
}

// Engine locates, for a window, the reading nearest to a target lag behind
// the latest reading and computes the percent change against it. The search
// is tolerance-windowed rather than exact because gauges report on irregular
// 5-60 minute cadences with gaps and retransmissions.
type Engine struct {
	lag       time.Duration
	tolerance time.Duration
}

// NewEngine constructs an engine for the given target lag and tolerance.
func NewEngine(lag, tolerance time.Duration) *Engine {
	return &Engine{lag: lag, tolerance: tolerance}
}

// Compute evaluates one window. The window must be ordered by ascending
// timestamp, as produced by readings.Store.
func (e *Engine) Compute(window []readings.Reading) (Result, error) {
	latest, ok := latestUsable(window)
	if !ok {
		return Result{}, ErrEmptyWindow
	}

	latestFlow, _ := latest.FlowValue()
	res := Result{
		SiteID:          latest.SiteID,
		LatestTimestamp: latest.Timestamp,
		LatestFlow:      latestFlow,
	}

	target := latest.Timestamp.Add(-e.lag)
	candidate, found := e.nearest(window, target, latest.Timestamp)
	if !found {
		res.Status = StatusNoEarlierReading
		return res, nil
	}

	lagFlow, _ := candidate.FlowValue()
	lagTS := candidate.Timestamp
	res.LagTimestamp = &lagTS
	res.LagFlow = &lagFlow

	if lagFlow == 0 {
		// Division by zero is guarded explicitly; the output never carries
		// an infinity or NaN.
		res.Status = StatusZeroBaseline
		return res, nil
	}

	pct := (latestFlow - lagFlow) / lagFlow * 100
	res.PctChange = &pct
	res.Status = StatusOK
	return res, nil
}

// latestUsable returns the reading with the maximum timestamp that carries a
// flow value. Duplicate timestamps were already collapsed first-seen at
// ingest, so the scan never has to break a tie here.
func latestUsable(window []readings.Reading) (readings.Reading, bool) {
	for i := len(window) - 1; i >= 0; i-- {
		if _, ok := window[i].FlowValue(); ok {
			return window[i], true
		}
	}
	return readings.Reading{}, false
}

// nearest finds the reading closest to target within the tolerance window.
// Readings with missing flow are excluded from candidacy, as is the latest
// reading itself. At equal distance the earlier timestamp wins, which keeps
// the choice deterministic under replay.
func (e *Engine) nearest(window []readings.Reading, target, latestTS time.Time) (readings.Reading, bool) {
	var best readings.Reading
	bestDist := time.Duration(-1)

	for _, r := range window {
		if _, ok := r.FlowValue(); !ok {
			continue
		}
		if r.Timestamp.Equal(latestTS) {
			continue
		}
		dist := r.Timestamp.Sub(target)
		if dist < 0 {
			dist = -dist
		}
		if dist > e.tolerance {
			continue
		}
		if bestDist < 0 || dist < bestDist {
			best = r
			bestDist = dist
		}
		// Equal distance: the window is ascending, so the earlier reading was
		// seen first and is already held; do not replace it.
	}

	return best, bestDist >= 0
}
