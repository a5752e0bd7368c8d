package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints the current processed dataset.
func (a *App) Show(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.ListProcessed(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no processed rows found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Site\tName\tLatest (UTC)\tFlow (cfs)\tChg 3h %\tP90\tRatio\tHigh\tStatus")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%.1f\t%s\t%s\t%s\t%v\t%s\n",
			rec.SiteID,
			rec.SiteName,
			rec.LatestTimestamp.UTC().Format(time.RFC3339),
			rec.LatestFlow,
			formatOptional(rec.PctChange3h, 1),
			formatOptional(rec.P90Flow, 1),
			formatOptional(rec.Ratio, 2),
			rec.HighFlow,
			rec.RocStatus,
		)
	}

	writer.Flush()
	return nil
}

func formatOptional(v *float64, places int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", places, *v)
}
