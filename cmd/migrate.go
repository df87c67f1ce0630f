package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the workspace tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("workspace migrations applied", zap.String("driver", cfg.Workspace.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
