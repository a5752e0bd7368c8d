// Package usgs retrieves discharge readings from the USGS NWIS water
// services: the instantaneous-values feed for the rolling window and the
// daily-values feed for the long-range historical archive.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gaugewatch/internal/baseline"
	"gaugewatch/internal/readings"
)

const (
	defaultIVBaseURL = "https://waterservices.usgs.gov/nwis/iv/"
	defaultDVBaseURL = "https://waterservices.usgs.gov/nwis/dv/"

	// USGS parameter code for discharge in cubic feet per second.
	defaultParameterCode = "00060"
	// Streamgage site type.
	defaultSiteType = "ST"
)

// missingSentinel is the NWIS missing-value marker. Compared as a decimal so
// representations like "-9999.0" are caught too.
var missingSentinel = decimal.NewFromInt(-9999)

// Options parameterise the NWIS client.
type Options struct {
	IVBaseURL     string
	DVBaseURL     string
	StateCode     string
	ParameterCode string
	SiteType      string
	Timeout       time.Duration
	UserAgent     string

	// The daily-values archive is pulled in multi-year chunks with a polite
	// delay between requests; NWIS rejects very long ranges.
	ChunkYears int
	ChunkDelay time.Duration
}

// SiteData bundles a site's metadata with its readings from one fetch.
type SiteData struct {
	Site     readings.Site
	Readings []readings.Reading
}

// Client talks to the NWIS water services.
type Client struct {
	opts   Options
	client *http.Client
	logger zerolog.Logger
}

// NewClient constructs a NWIS client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.IVBaseURL == "" {
		opts.IVBaseURL = defaultIVBaseURL
	}
	if opts.DVBaseURL == "" {
		opts.DVBaseURL = defaultDVBaseURL
	}
	if opts.ParameterCode == "" {
		opts.ParameterCode = defaultParameterCode
	}
	if opts.SiteType == "" {
		opts.SiteType = defaultSiteType
	}
	if opts.ChunkYears <= 0 {
		opts.ChunkYears = 5
	}

	return &Client{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "usgs_client").Logger(),
	}
}

// FetchInstantaneous retrieves all active streamgage discharge readings for
// the configured state between from and to.
func (c *Client) FetchInstantaneous(ctx context.Context, from, to time.Time) ([]SiteData, error) {
	params := c.baseParams()
	params.Set("startDT", from.UTC().Format("2006-01-02T15:04"))
	params.Set("endDT", to.UTC().Format("2006-01-02T15:04"))

	payload, err := c.get(ctx, c.opts.IVBaseURL, params)
	if err != nil {
		return nil, fmt.Errorf("fetch instantaneous values: %w", err)
	}

	series, err := decodeTimeSeries(payload)
	if err != nil {
		return nil, fmt.Errorf("decode instantaneous values: %w", err)
	}

	out := make([]SiteData, 0, len(series))
	for _, ts := range series {
		site, rows, err := parseSeries(ts, true)
		if err != nil {
			c.logger.Warn().Err(err).Str("site", site.ID).Msg("skipping malformed time series")
			continue
		}
		out = append(out, SiteData{Site: site, Readings: rows})
	}
	return out, nil
}

// FetchDailyArchive retrieves the daily discharge archive for every site in
// the configured state, chunked by the configured year span. A site's samples
// from all chunks are concatenated.
func (c *Client) FetchDailyArchive(ctx context.Context, from, to time.Time) (map[string][]baseline.DailyValue, error) {
	archive := make(map[string][]baseline.DailyValue)

	chunk := time.Duration(c.opts.ChunkYears) * 365 * 24 * time.Hour
	for cur := from; cur.Before(to); {
		end := cur.Add(chunk)
		if end.After(to) {
			end = to
		}

		if err := c.fetchDailyChunk(ctx, cur, end, archive); err != nil {
			return nil, err
		}

		cur = end.Add(24 * time.Hour)
		if cur.Before(to) && c.opts.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.ChunkDelay):
			}
		}
	}

	return archive, nil
}

func (c *Client) fetchDailyChunk(ctx context.Context, from, to time.Time, archive map[string][]baseline.DailyValue) error {
	params := c.baseParams()
	params.Set("startDT", from.UTC().Format("2006-01-02"))
	params.Set("endDT", to.UTC().Format("2006-01-02"))

	c.logger.Info().Str("from", params.Get("startDT")).Str("to", params.Get("endDT")).
		Msg("fetching daily-values chunk")

	payload, err := c.get(ctx, c.opts.DVBaseURL, params)
	if err != nil {
		return fmt.Errorf("fetch daily values %s..%s: %w", params.Get("startDT"), params.Get("endDT"), err)
	}

	series, err := decodeTimeSeries(payload)
	if err != nil {
		return fmt.Errorf("decode daily values: %w", err)
	}

	for _, ts := range series {
		site, rows, err := parseSeries(ts, false)
		if err != nil {
			c.logger.Warn().Err(err).Str("site", site.ID).Msg("skipping malformed daily series")
			continue
		}
		for _, r := range rows {
			f, ok := r.FlowValue()
			if !ok {
				// Daily archive: missing and iced-over values contribute
				// nothing to the percentile buckets.
				continue
			}
			archive[site.ID] = append(archive[site.ID], baseline.DailyValue{Date: r.Timestamp, Flow: f})
		}
	}
	return nil
}

func (c *Client) baseParams() url.Values {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("stateCd", c.opts.StateCode)
	params.Set("parameterCd", c.opts.ParameterCode)
	params.Set("siteType", c.opts.SiteType)
	params.Set("siteStatus", "active")
	return params
}

func (c *Client) get(ctx context.Context, baseURL string, params url.Values) ([]byte, error) {
	endpoint := strings.TrimRight(baseURL, "?") + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nwis responded %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}

func decodeTimeSeries(payload []byte) ([]timeSeries, error) {
	var doc nwisResponse
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return doc.Value.TimeSeries, nil
}

// parseSeries extracts site metadata and readings from one NWIS time series.
// keepMissing controls whether unparsable/sentinel values are kept as
// nil-flow readings (instantaneous feed) or meant to be dropped by the caller
// (daily archive).
func parseSeries(ts timeSeries, keepMissing bool) (readings.Site, []readings.Reading, error) {
	if len(ts.SourceInfo.SiteCode) == 0 {
		return readings.Site{}, nil, fmt.Errorf("time series missing site code")
	}

	site := readings.Site{
		ID:        ts.SourceInfo.SiteCode[0].Value,
		Name:      ts.SourceInfo.SiteName,
		Latitude:  ts.SourceInfo.GeoLocation.GeogLocation.Latitude,
		Longitude: ts.SourceInfo.GeoLocation.GeogLocation.Longitude,
	}

	var rows []readings.Reading
	for _, block := range ts.Values {
		for _, v := range block.Value {
			t, err := parseTimestamp(v.DateTime)
			if err != nil {
				return site, nil, fmt.Errorf("parse timestamp %q: %w", v.DateTime, err)
			}

			reading := readings.Reading{SiteID: site.ID, Timestamp: t.UTC()}
			if f, ok := parseFlow(v.Value); ok {
				reading.Flow = &f
			} else if !keepMissing {
				continue
			}
			rows = append(rows, reading)
		}
	}
	return site, rows, nil
}

// parseTimestamp accepts both NWIS timestamp shapes: the instantaneous feed
// carries an offset, the daily feed does not (day boundaries, treated as UTC).
func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.000", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseFlow converts a NWIS value string to a flow, mapping the -9999
// sentinel and anything unparsable ("Ice", empty) to missing.
func parseFlow(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	if d.Equal(missingSentinel) {
		return 0, false
	}
	return d.InexactFloat64(), true
}
