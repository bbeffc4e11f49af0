package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	envFile    string
	verbose    bool

	version = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, ver, commit, buildDate string) error {
	version = ver
	rootCmd := newRootCommand(ver, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(ver, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trendfire",
		Short: "TrendFire - Earth Engine trend exports",
		Long: `TrendFire derives per-pixel linear trends of vegetation, rainfall, soil
moisture and humidity over a region of interest and exports them as
Earth Engine assets (and optionally GeoTIFFs on Drive).

Products:
  - landsat  spectral indices from Landsat 8 surface reflectance
  - rain     yearly CHIRPS precipitation totals
  - sm       SMAP soil moisture
  - rh       relative humidity from ERA5-Land
  - all      every band of the above in one image

Running without a subcommand is the same as 'trendfire run'.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", ver, commit, buildDate),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file or directory (default trendfire.cue)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with overrides (default .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newTasksCommand())
	rootCmd.AddCommand(newInitCommand())

	return rootCmd
}
