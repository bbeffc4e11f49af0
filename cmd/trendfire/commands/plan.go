package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/trendfire/trendfire/pkg/config"
	"github.com/trendfire/trendfire/pkg/export"
	"github.com/trendfire/trendfire/pkg/pipeline"
)

// planView is the printable form of a plan.
type planView struct {
	Project  string           `json:"project" yaml:"project"`
	Region   *geojson.Feature `json:"region" yaml:"-"`
	Bounds   [4]float64       `json:"bounds" yaml:"bounds"`
	Products []productView    `json:"products" yaml:"products"`
	Requests []export.Request `json:"requests" yaml:"requests"`
	Error    string           `json:"error,omitempty" yaml:"error,omitempty"`
}

type productView struct {
	Product  export.Product `json:"product" yaml:"product"`
	Bands    []string       `json:"bands" yaml:"bands"`
	Requests int            `json:"requests" yaml:"requests"`
}

func newPlanView(plan *pipeline.Plan, planErr error) *planView {
	b := plan.Region.Bound()
	v := &planView{
		Project:  plan.Project,
		Region:   plan.Region.Feature(),
		Bounds:   [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		Requests: plan.Requests(),
	}
	for _, pp := range plan.Products {
		v.Products = append(v.Products, productView{
			Product:  pp.Product,
			Bands:    pp.Bands,
			Requests: len(pp.Requests),
		})
	}
	if planErr != nil {
		v.Error = planErr.Error()
	}
	return v
}

func (v *planView) writeText(w io.Writer) error {
	fmt.Fprintf(w, "Project: %s\n", v.Project)
	fmt.Fprintf(w, "Bounds:  %.6f %.6f %.6f %.6f\n\n", v.Bounds[0], v.Bounds[1], v.Bounds[2], v.Bounds[3])
	for _, p := range v.Products {
		fmt.Fprintf(w, "%-8s %3d bands, %d export(s)\n", p.Product, len(p.Bands), p.Requests)
	}
	fmt.Fprintln(w)
	for _, r := range v.Requests {
		fmt.Fprintf(w, "  %s -> %s %s\n", r.Product, r.Destination, r.Target)
	}
	if v.Error != "" {
		fmt.Fprintf(w, "\nBlocked: %s\n", v.Error)
	}
	return nil
}

func newPlanCommand() *cobra.Command {
	var (
		output string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the exports a run would submit",
		Long: `Build every export request without contacting Earth Engine.

The plan:
  - Loads and validates the configuration
  - Loads the boundary (local file or sftp:// URL)
  - Builds the trend expressions of every product
  - Evaluates the export policies against each request

JSON output carries the serialized expressions exactly as they would be
submitted; YAML and text output summarise them.`,
		Example: `  # Print the full request bodies
  trendfire plan -o json

  # Re-render whenever the config or a policy changes
  trendfire plan --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			render := func(ctx context.Context) error {
				return renderPlan(ctx, cmd.OutOrStdout(), output)
			}
			if !watch {
				return render(cmd.Context())
			}
			return watchPlan(cmd.Context(), render)
		},
	}

	addOutputFlag(cmd, &output, formatText)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render when the config, .env or policy files change")

	return cmd
}

func renderPlan(ctx context.Context, w io.Writer, output string) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	env, err := startWith(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer env.close()

	p, err := pipeline.New(env.ctx, cfg, pipeline.WithConfigPath(resolvedConfigPath()))
	if err != nil {
		return err
	}

	plan, planErr := p.Plan(env.ctx)
	if plan == nil {
		return planErr
	}
	view := newPlanView(plan, planErr)
	if err := writeOutput(w, output, view, view.writeText); err != nil {
		return err
	}
	return planErr
}

// watchPlan renders once and then again after every change, until ctx is
// cancelled. Render failures are logged and do not stop the watch.
func watchPlan(ctx context.Context, render func(context.Context) error) error {
	paths := []string{resolvedConfigPath(), envFile}
	if envFile == "" {
		paths[1] = config.DefaultEnvFile
	}
	if cfg, err := loadConfig(ctx); err == nil {
		paths = append(paths, cfg.Policy.Paths...)
	}

	logger := newCLILogger()
	report := func() {
		if err := render(ctx); err != nil {
			logger.Error().Err(err).Msg("Plan failed")
		}
	}

	report()
	return config.NewWatcher(logger).Watch(ctx, paths, report)
}
