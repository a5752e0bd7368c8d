package cli

import (
	"github.com/spf13/cobra"

	"gaugewatch/internal/app"
)

var (
	baselineSites []string
	baselineForce bool
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Build historical percentile tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BaselineOptions{
			Sites: baselineSites,
			Force: baselineForce,
		}
		return getApp().BuildBaselines(cmd.Context(), opts)
	},
}

func init() {
	baselineCmd.Flags().StringSliceVar(&baselineSites, "site", nil, "Restrict to specific site ids (repeatable)")
	baselineCmd.Flags().BoolVar(&baselineForce, "force", false, "Discard cached tables and recompute from the archive")
}
