package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/suitability-cli/internal/pipeline"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Run the land suitability classification",
	Long:  "Builds every criterion raster, combines them by priority into the final classification and writes its attribute table to the workspace.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := applyClassifyFlags(cmd); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := pipeline.New(cfg, st).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "classify")
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Classification complete: %s written (run %s)\n", cfg.Outputs.Final, truncateID(rep.RunID))
		return nil
	},
}

// applyClassifyFlags lets explicitly set flags override the config file.
func applyClassifyFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("parallel") {
		v, err := flags.GetBool("parallel")
		if err != nil {
			return err
		}
		cfg.Analysis.Parallel = v
	}
	if flags.Changed("concurrency") {
		v, err := flags.GetInt("concurrency")
		if err != nil {
			return err
		}
		cfg.Analysis.Concurrency = v
	}
	if flags.Changed("export-dir") {
		v, err := flags.GetString("export-dir")
		if err != nil {
			return err
		}
		cfg.Outputs.ExportDir = v
	}
	if flags.Changed("report") {
		v, err := flags.GetString("report")
		if err != nil {
			return err
		}
		cfg.Outputs.ReportPath = v
	}
	return nil
}

func init() {
	classifyCmd.Flags().Bool("parallel", true, "build independent criteria concurrently")
	classifyCmd.Flags().Int("concurrency", 5, "max criteria built at once")
	classifyCmd.Flags().String("export-dir", "", "also write every output raster as an Esri ASCII grid into this directory")
	classifyCmd.Flags().String("report", "", "write a YAML run report to this path")
	rootCmd.AddCommand(classifyCmd)
}
