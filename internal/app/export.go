package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"gaugewatch/internal/readings"
	"gaugewatch/internal/storage"
)

// ExportOptions controls the export command.
type ExportOptions struct {
	// CSVPath receives the processed dataset as CSV when non-empty.
	CSVPath string
	// PNGPath receives a hydrograph image when non-empty; requires SiteID.
	PNGPath string
	// SiteID selects the site rendered into the hydrograph.
	SiteID string
	// MaxPoints caps the points drawn into the hydrograph.
	MaxPoints int
}

// Export writes the processed dataset as CSV and/or a per-site hydrograph PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.PNGPath != "" && opts.SiteID == "" {
		return errors.New("--png requires --site")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.CSVPath != "" {
		records, err := store.ListProcessed(ctx)
		if err != nil {
			return err
		}
		if err := writeProcessedCSV(opts.CSVPath, records); err != nil {
			return err
		}
		a.Logger.Info().Int("rows", len(records)).Str("path", opts.CSVPath).Msg("wrote processed dataset")
	}

	if opts.PNGPath != "" {
		if err := a.exportHydrograph(ctx, store, opts); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) exportHydrograph(ctx context.Context, store *storage.Store, opts ExportOptions) error {
	since := time.Now().UTC().Add(-a.Config.Pipeline.Retention)
	rows, err := store.ListSiteReadings(ctx, opts.SiteID, since)
	if err != nil {
		return err
	}

	var p90 *float64
	records, err := store.ListProcessed(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.SiteID == opts.SiteID {
			p90 = rec.P90Flow
			break
		}
	}

	kept := downsampleReadings(rows, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rows)).Int("plotted", len(kept)).
		Str("site", opts.SiteID).Msg("rendering hydrograph")

	return writeHydrographPNG(opts.PNGPath, opts.SiteID, kept, p90)
}

func downsampleReadings(rows []readings.Reading, max int) []readings.Reading {
	if max <= 0 || len(rows) <= max {
		return rows
	}

	result := make([]readings.Reading, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeProcessedCSV(path string, records []storage.ProcessedRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"site_id", "site_name", "latest_ts", "latest_flow_cfs", "pct_change_3h", "p90_flow_cfs", "ratio", "high_flow", "roc_status", "run_ts"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		record := []string{
			rec.SiteID,
			rec.SiteName,
			rec.LatestTimestamp.UTC().Format(time.RFC3339),
			fmt.Sprintf("%.2f", rec.LatestFlow),
			csvOptional(rec.PctChange3h),
			csvOptional(rec.P90Flow),
			csvOptional(rec.Ratio),
			fmt.Sprintf("%t", rec.HighFlow),
			string(rec.RocStatus),
			rec.RunTS.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func csvOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *v)
}

func writeHydrographPNG(path, siteID string, rows []readings.Reading, p90 *float64) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if len(rows) < 2 {
		return errors.New("not enough readings to render a hydrograph")
	}

	x := make([]time.Time, 0, len(rows))
	flow := make([]float64, 0, len(rows))
	for _, r := range rows {
		v, ok := r.FlowValue()
		if !ok {
			continue
		}
		x = append(x, r.Timestamp)
		flow = append(flow, v)
	}
	if len(x) < 2 {
		return errors.New("not enough usable readings to render a hydrograph")
	}

	flowFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Flow",
			XValues: x,
			YValues: flow,
		},
	}
	if p90 != nil {
		ref := make([]float64, len(x))
		for i := range ref {
			ref[i] = *p90
		}
		series = append(series, chart.TimeSeries{
			Name:    "P90",
			XValues: x,
			YValues: ref,
			Style: chart.Style{
				StrokeDashArray: []float64{5.0, 5.0},
			},
		})
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("Site %s discharge", siteID),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Discharge (cfs)",
			ValueFormatter: flowFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
