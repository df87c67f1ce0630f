package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/suitability-cli/internal/asciigrid"
	"github.com/sells-group/suitability-cli/internal/vector"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load input files into the workspace",
}

var importRasterCmd = &cobra.Command{
	Use:   "raster",
	Short: "Import an Esri ASCII grid as a named raster",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("name")
		path, _ := cmd.Flags().GetString("path")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		r, err := asciigrid.ReadFile(path, name, importSRID(cmd))
		if err != nil {
			return eris.Wrap(err, "import raster")
		}
		if err := st.SaveRaster(ctx, r); err != nil {
			return eris.Wrap(err, "import raster")
		}

		zap.L().Info("raster imported",
			zap.String("name", r.Name),
			zap.String("path", path),
			zap.Int("cols", r.Grid.Cols),
			zap.Int("rows", r.Grid.Rows),
			zap.Float64("cell_size", r.Grid.CellSize),
		)
		return nil
	},
}

var importVectorCmd = &cobra.Command{
	Use:   "vector",
	Short: "Import a shapefile or GeoJSON file as a named polygon layer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("name")
		path, _ := cmd.Flags().GetString("path")
		encoding, _ := cmd.Flags().GetString("encoding")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		l, err := vector.Open(path, vector.ReadOptions{
			Name:     name,
			SRID:     importSRID(cmd),
			Encoding: encoding,
		})
		if err != nil {
			return eris.Wrap(err, "import vector")
		}
		if err := st.SaveVectorLayer(ctx, l); err != nil {
			return eris.Wrap(err, "import vector")
		}

		zap.L().Info("vector layer imported",
			zap.String("name", l.Name),
			zap.String("path", path),
			zap.Int("features", len(l.Features)),
			zap.Int("fields", len(l.Fields)),
		)
		return nil
	},
}

// importSRID returns --srid, falling back to the configured EPSG code.
func importSRID(cmd *cobra.Command) int {
	if srid, _ := cmd.Flags().GetInt("srid"); srid > 0 {
		return srid
	}
	return cfg.SpatialReference.EPSG
}

func init() {
	for _, c := range []*cobra.Command{importRasterCmd, importVectorCmd} {
		c.Flags().String("name", "", "workspace artifact name (default: file base name)")
		c.Flags().String("path", "", "input file (required)")
		c.Flags().Int("srid", 0, "spatial reference of the file (default: spatial_reference.epsg)")
		_ = c.MarkFlagRequired("path")
	}
	importVectorCmd.Flags().String("encoding", "", "DBF code page, e.g. 1250 (default: read the .cpg file)")

	importCmd.AddCommand(importRasterCmd)
	importCmd.AddCommand(importVectorCmd)
	rootCmd.AddCommand(importCmd)
}
