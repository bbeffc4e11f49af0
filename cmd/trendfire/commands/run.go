package commands

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/trendfire/trendfire/pkg/pipeline"
)

var runOutput string

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the trend images and submit their exports",
		Long: `Run the whole pipeline: open an Earth Engine session, load the boundary,
build the landsat, rain, sm and rh trend images plus their merge, check every
export against policy and submit one export task per product and destination.

The command returns once every export is acknowledged; the exports themselves
keep running on the service. Use 'trendfire tasks --refresh' to follow them.`,
		Example: `  # Run with trendfire.cue from the current directory
  trendfire run

  # Run with another config and project
  EE_PROJECT=my-project trendfire run --config ./configs/goa.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd)
		},
	}
	addOutputFlag(cmd, &runOutput, formatText)
	return cmd
}

func runPipeline(cmd *cobra.Command) error {
	env, err := start(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer env.close()

	p, err := pipeline.New(env.ctx, env.cfg,
		pipeline.WithStore(env.store),
		pipeline.WithConfigPath(resolvedConfigPath()),
	)
	if err != nil {
		return err
	}

	res, err := p.Run(env.ctx)
	if res != nil && len(res.Tasks) > 0 {
		format := runOutput
		if format == "" {
			format = formatText
		}
		if werr := writeOutput(cmd.OutOrStdout(), format, res, func(w io.Writer) error {
			return writeExportTasks(w, res.Tasks)
		}); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}
