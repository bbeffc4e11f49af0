package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trendfire/trendfire/pkg/config"
	"github.com/trendfire/trendfire/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var (
		project  string
		boundary string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration and create the ledger",
		Long: `Initialize a TrendFire workspace: write the default configuration to
trendfire.cue (or --config) and create the run ledger database.

An existing configuration is never overwritten unless --force is given.`,
		Example: `  # Initialize the current directory
  trendfire init --project my-project

  # Use another boundary file
  trendfire init --project my-project --boundary data/goa.geojson`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolvedConfigPath()
			log.Info().
				Str("config", path).
				Str("project", project).
				Bool("force", force).
				Msg("Initializing workspace")

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to stat %s: %w", path, err)
			}

			cfg := config.Default()
			cfg.Project = project
			if boundary != "" {
				cfg.Boundary.Path = boundary
			}

			data, err := config.Encode(cfg)
			if err != nil {
				return err
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Created config file: %s\n", path)

			store, err := stores.Open(cmd.Context(), cfg.Ledger.Path)
			if err != nil {
				return fmt.Errorf("failed to create ledger: %w", err)
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close ledger: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Initialized ledger: %s\n", cfg.Ledger.Path)

			fmt.Fprintf(cmd.OutOrStdout(), "\nNext steps:\n")
			if project == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  - set project in %s or EE_PROJECT in .env\n", path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  - place the boundary at %s\n", cfg.Boundary.Path)
			fmt.Fprintf(cmd.OutOrStdout(), "  - trendfire plan, then trendfire run\n")
			return nil
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Cloud project billed for requests")
	cmd.Flags().StringVar(&boundary, "boundary", "", "boundary file or sftp:// URL")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
