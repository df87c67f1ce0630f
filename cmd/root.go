package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/suitability-cli/internal/config"
	"github.com/sells-group/suitability-cli/internal/workspace"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "suitability",
	Short: "Land suitability classification",
	Long:  "Rasterizes slope, groundwater, soil, forest and built-up layers onto a common grid and combines them into a five-class land suitability raster.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// initStore opens the configured workspace and applies its schema.
func initStore(ctx context.Context) (workspace.Store, error) {
	st, err := workspace.Open(ctx, workspace.Options{
		Driver:      cfg.Workspace.Driver,
		DatabaseURL: cfg.Workspace.DatabaseURL,
		Overwrite:   cfg.Workspace.Overwrite,
		MaxConns:    cfg.Workspace.MaxConns,
		MinConns:    cfg.Workspace.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open workspace")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate workspace")
	}
	return st, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
