package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/suitability-cli/internal/asciigrid"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a workspace raster as an Esri ASCII grid",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("name")
		out, _ := cmd.Flags().GetString("out")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		r, err := st.LoadRaster(ctx, name)
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if err := asciigrid.WriteFile(out, r); err != nil {
			return eris.Wrap(err, "export")
		}

		zap.L().Info("raster exported", zap.String("name", name), zap.String("path", out))
		return nil
	},
}

func init() {
	exportCmd.Flags().String("name", "", "workspace raster name (required)")
	exportCmd.Flags().String("out", "", "output .asc path (required)")
	_ = exportCmd.MarkFlagRequired("name")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}
