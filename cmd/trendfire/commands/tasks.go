package commands

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/trendfire/trendfire/pkg/pipeline"
	"github.com/trendfire/trendfire/pkg/stores"
)

func newTasksCommand() *cobra.Command {
	var (
		output  string
		refresh bool
		filter  stores.TaskFilter
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List export tasks recorded in the ledger",
		Long: `List the export tasks submitted by earlier runs in submission order.

With --refresh, every task that has not finished is looked up on Earth Engine
and its state is updated in the ledger before listing.`,
		Example: `  # List every task
  trendfire tasks

  # Follow the tasks of one run
  trendfire tasks --run 4f1c2a9e-... --refresh

  # Failed rain exports as YAML
  trendfire tasks --product rain --state FAILED -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := start(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer env.close()

			p, err := pipeline.New(env.ctx, env.cfg, pipeline.WithStore(env.store))
			if err != nil {
				return err
			}

			var tasks []*stores.Task
			if refresh {
				tasks, err = p.RefreshTasks(env.ctx, filter)
			} else {
				tasks, err = p.Tasks(env.ctx, filter)
			}
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), output, tasks, func(w io.Writer) error {
				return writeLedgerTasks(w, tasks)
			})
		},
	}

	addOutputFlag(cmd, &output, formatText)
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch the current state of unfinished tasks")
	cmd.Flags().StringVar(&filter.RunID, "run", "", "only tasks of this run")
	cmd.Flags().StringVar(&filter.Product, "product", "", "only tasks of this product")
	cmd.Flags().StringVar(&filter.State, "state", "", "only tasks in this state")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of tasks (0 for all)")

	return cmd
}
