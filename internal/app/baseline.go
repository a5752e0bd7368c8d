package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/jonboulle/clockwork"

	"gaugewatch/internal/baseline"
)

// BaselineOptions controls the baseline build command.
type BaselineOptions struct {
	// Sites restricts the build to the given ids. Empty means every site the
	// database knows about.
	Sites []string
	// Force discards existing tables and recomputes them from the archive.
	Force bool
}

// BuildBaselines computes (or recomputes with Force) historical percentile
// tables and prints a per-site summary.
func (a *App) BuildBaselines(ctx context.Context, opts BaselineOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	siteIDs := opts.Sites
	if len(siteIDs) == 0 {
		known, err := store.ListSites(ctx)
		if err != nil {
			return err
		}
		for id := range known {
			siteIDs = append(siteIDs, id)
		}
		sort.Strings(siteIDs)
	}
	if len(siteIDs) == 0 {
		return errors.New("no sites known yet; run the pipeline once or pass --site")
	}

	clock := clockwork.NewRealClock()
	manager := a.newBaselineManager(store, a.newClient(), clock)

	if opts.Force {
		a.Logger.Info().Int("sites", len(siteIDs)).Msg("rebuilding baseline tables")
		built, err := manager.Rebuild(ctx, siteIDs)
		if err != nil {
			return err
		}
		printBaselineSummary(siteIDs, builtDays(built))
		return nil
	}

	a.Logger.Info().Int("sites", len(siteIDs)).Msg("ensuring baseline tables")
	built, err := manager.Ensure(ctx, siteIDs)
	if err != nil {
		return err
	}
	printBaselineSummary(siteIDs, builtDays(built))
	return nil
}

func builtDays(tables map[string]baseline.Table) map[string]int {
	days := make(map[string]int, len(tables))
	for id, table := range tables {
		days[id] = len(table.Values)
	}
	return days
}

func printBaselineSummary(siteIDs []string, days map[string]int) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Site\tDays Covered")
	for _, id := range siteIDs {
		if n, ok := days[id]; ok {
			fmt.Fprintf(writer, "%s\t%d\n", id, n)
		} else {
			fmt.Fprintf(writer, "%s\t(no data)\n", id)
		}
	}
	writer.Flush()
}
