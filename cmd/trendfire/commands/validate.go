package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/trendfire/trendfire/pkg/boundary"
	"github.com/trendfire/trendfire/pkg/config"
	"github.com/trendfire/trendfire/pkg/pipeline"
)

// validation is the printable result of validate.
type validation struct {
	Config   string               `json:"config" yaml:"config"`
	Project  string               `json:"project" yaml:"project"`
	Boundary string               `json:"boundary" yaml:"boundary"`
	CRS      string               `json:"crs" yaml:"crs"`
	Vertices int                  `json:"vertices" yaml:"vertices"`
	Bounds   [4]float64           `json:"bounds" yaml:"bounds"`
	Source   boundary.Diagnostics `json:"source" yaml:"source"`
}

func (v *validation) writeText(w io.Writer) error {
	fmt.Fprintf(w, "Config:   %s (project %s)\n", v.Config, v.Project)
	fmt.Fprintf(w, "Boundary: %s\n", v.Boundary)
	fmt.Fprintf(w, "  crs:      %s\n", v.CRS)
	fmt.Fprintf(w, "  vertices: %d\n", v.Vertices)
	fmt.Fprintf(w, "  bounds:   %.6f %.6f %.6f %.6f\n", v.Bounds[0], v.Bounds[1], v.Bounds[2], v.Bounds[3])
	fmt.Fprintf(w, "  features: %d %v (%d invalid)\n", v.Source.Features, v.Source.GeometryTypes, v.Source.Invalid)
	return nil
}

func newValidateCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and the boundary",
		Long: `Validate the configuration and the region of interest without
contacting Earth Engine.

This command checks:
  - CUE syntax and schema conformance
  - Field constraints (dates, scale, export targets)
  - Environment overrides (.env and process)
  - Custom export policies compile
  - The boundary loads into a single valid polygon`,
		Example: `  # Validate trendfire.cue in the current directory
  trendfire validate

  # Validate a directory of .cue files
  trendfire validate --config ./configs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				var cfgErr *config.Error
				if errors.As(err, &cfgErr) {
					for _, ve := range cfgErr.Errors {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", ve)
					}
					return fmt.Errorf("configuration has %d problem(s)", len(cfgErr.Errors))
				}
				return err
			}

			env, err := startWith(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer env.close()

			p, err := pipeline.New(env.ctx, cfg)
			if err != nil {
				return err
			}
			region, err := p.Boundary(env.ctx)
			if err != nil {
				return err
			}

			b := region.Bound()
			v := &validation{
				Config:   resolvedConfigPath(),
				Project:  cfg.Project,
				Boundary: region.Source(),
				CRS:      region.CRS(),
				Vertices: len(region.Ring()),
				Bounds:   [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
				Source:   region.Diagnostics(),
			}
			env.logger().WithField("boundary", v.Boundary).Info("Configuration is valid")
			return writeOutput(cmd.OutOrStdout(), output, v, v.writeText)
		},
	}

	addOutputFlag(cmd, &output, formatText)
	return cmd
}
