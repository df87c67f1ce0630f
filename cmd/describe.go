package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/suitability-cli/internal/raster"
	"github.com/sells-group/suitability-cli/internal/report"
)

var describeCmd = &cobra.Command{
	Use:   "describe [raster]",
	Short: "Print a raster's attribute table",
	Long:  "Prints the value, cell count, description and colour of every class in the attribute table. Defaults to the final classification.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		f, err := report.ParseFormat(format)
		if err != nil {
			return err
		}
		if f == report.FormatXLSX && out == "" {
			return eris.New("describe: --out is required for xlsx")
		}

		name := cfg.Outputs.Final
		if len(args) == 1 {
			name = args[0]
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t, err := st.LoadAttributeTable(ctx, name)
		if err != nil {
			return eris.Wrap(err, "describe")
		}

		if f == report.FormatXLSX {
			if err := report.WriteTableXLSX(out, t); err != nil {
				return err
			}
			zap.L().Info("attribute table written", zap.String("raster", name), zap.String("path", out))
			return nil
		}

		if out == "" {
			return writeTable(cmd.OutOrStdout(), f, t)
		}
		file, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "describe: create %s", out)
		}
		if err := writeTable(file, f, t); err != nil {
			file.Close() //nolint:errcheck
			return err
		}
		return eris.Wrapf(file.Close(), "describe: close %s", out)
	},
}

func writeTable(w io.Writer, f report.Format, t raster.AttributeTable) error {
	if f == report.FormatYAML {
		return report.WriteTableYAML(w, t)
	}
	return report.WriteTableText(w, t)
}

func init() {
	describeCmd.Flags().String("format", "text", "output format: text, yaml or xlsx")
	describeCmd.Flags().String("out", "", "write to this file instead of stdout (required for xlsx)")
	rootCmd.AddCommand(describeCmd)
}
