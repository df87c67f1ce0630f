package pipeline

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/suitability-cli/internal/asciigrid"
	"github.com/sells-group/suitability-cli/internal/config"
	"github.com/sells-group/suitability-cli/internal/raster"
	"github.com/sells-group/suitability-cli/internal/rasterize"
	"github.com/sells-group/suitability-cli/internal/vector"
)

// loadRaster reads an input raster from its file when a path is set,
// otherwise from the workspace.
func (p *Pipeline) loadRaster(ctx context.Context, src config.LayerSource) (*raster.Raster, error) {
	srid := p.cfg.SpatialReference.EPSG

	var (
		r   *raster.Raster
		err error
	)
	if src.Path != "" {
		r, err = asciigrid.ReadFile(src.Path, src.Name, srid)
	} else {
		r, err = p.store.LoadRaster(ctx, src.Name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load raster %s", src.Label())
	}

	if r.Grid.SRID == 0 {
		r.Grid.SRID = srid
	}
	if r.Grid.SRID != srid {
		return nil, eris.Wrapf(rasterize.ErrSpatialReference, "raster %s is SRID %d, workspace is SRID %d", src.Label(), r.Grid.SRID, srid)
	}
	return r, nil
}

// loadVector reads an input layer from its file when a path is set,
// otherwise from the workspace.
func (p *Pipeline) loadVector(ctx context.Context, src config.LayerSource) (*vector.Layer, error) {
	srid := p.cfg.SpatialReference.EPSG

	var (
		l   *vector.Layer
		err error
	)
	if src.Path != "" {
		l, err = vector.Open(src.Path, vector.ReadOptions{
			Name:     src.Name,
			SRID:     srid,
			Encoding: src.Encoding,
		})
	} else {
		l, err = p.store.LoadVectorLayer(ctx, src.Name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load layer %s", src.Label())
	}

	if src.Name != "" {
		l.Name = src.Name
	}
	if l.SRID == 0 {
		l.SRID = srid
	}
	if l.SRID != srid {
		return nil, eris.Wrapf(rasterize.ErrSpatialReference, "layer %s is SRID %d, workspace is SRID %d", src.Label(), l.SRID, srid)
	}
	return l, nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
