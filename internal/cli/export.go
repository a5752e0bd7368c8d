package cli

import (
	"github.com/spf13/cobra"

	"gaugewatch/internal/app"
)

var (
	exportCSVPath   string
	exportPNGPath   string
	exportSiteID    string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the processed dataset as CSV and/or a site hydrograph PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			CSVPath:   exportCSVPath,
			PNGPath:   exportPNGPath,
			SiteID:    exportSiteID,
			MaxPoints: exportMaxPoints,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write processed dataset CSV")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write hydrograph PNG")
	exportCmd.Flags().StringVar(&exportSiteID, "site", "", "Site id for the hydrograph (required with --png)")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to plot (defaults to config)")
}
