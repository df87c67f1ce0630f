// Package pipeline runs the land suitability classification: criterion
// rasters, the priority overlay and the attribute table.
package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/suitability-cli/internal/annotate"
	"github.com/sells-group/suitability-cli/internal/asciigrid"
	"github.com/sells-group/suitability-cli/internal/config"
	"github.com/sells-group/suitability-cli/internal/criteria"
	"github.com/sells-group/suitability-cli/internal/overlay"
	"github.com/sells-group/suitability-cli/internal/raster"
	"github.com/sells-group/suitability-cli/internal/rasterize"
	"github.com/sells-group/suitability-cli/internal/report"
	"github.com/sells-group/suitability-cli/internal/vector"
	"github.com/sells-group/suitability-cli/internal/workspace"
)

// Phase names, in execution order.
const (
	PhaseLoadSlope   = "0_load_slope"
	PhaseSlope       = "1a_slope"
	PhaseGroundwater = "1b_groundwater"
	PhaseSoil        = "1c_soil"
	PhaseForest      = "1d_forest"
	PhaseBuiltUp     = "1e_builtup"
	PhaseForestFlag  = "2_forest_flag"
	PhaseOverlay     = "3_overlay"
	PhaseAnnotate    = "4_annotate"
	PhaseExport      = "5_export"
)

// Pipeline orchestrates one classification run against a workspace.
type Pipeline struct {
	cfg   *config.Config
	store workspace.Store
}

// New creates a Pipeline.
func New(cfg *config.Config, st workspace.Store) *Pipeline {
	return &Pipeline{cfg: cfg, store: st}
}

// run carries the state of one execution.
type run struct {
	p      *Pipeline
	log    *zap.Logger
	report *report.RunReport
	assign rasterize.CellAssignment

	mu    sync.Mutex
	saved map[string]*raster.Raster
}

// Run executes the full classification. The run record is marked complete
// or failed; a failed run never writes the final raster.
func (p *Pipeline) Run(ctx context.Context) (*report.RunReport, error) {
	log := zap.L().With(zap.String("component", "pipeline"))

	rec, err := p.store.CreateRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log = log.With(zap.String("run_id", rec.ID))
	log.Info("pipeline: starting classification")

	r := &run{
		p:   p,
		log: log,
		report: &report.RunReport{
			RunID:     rec.ID,
			Status:    string(workspace.RunStatusRunning),
			StartedAt: rec.StartedAt,
			SRID:      p.cfg.SpatialReference.EPSG,
		},
		saved: make(map[string]*raster.Raster),
	}

	runErr := r.execute(ctx)
	rep := r.finish(runErr)

	// Record the outcome even when ctx was cancelled.
	finishCtx := context.WithoutCancel(ctx)
	summary, mErr := json.Marshal(rep)
	if mErr != nil {
		log.Warn("pipeline: failed to marshal summary", zap.Error(mErr))
		summary = nil
	}
	if fErr := p.store.FinishRun(finishCtx, rec.ID, workspace.RunStatus(rep.Status), summary, rep.Error); fErr != nil {
		log.Warn("pipeline: failed to record run outcome", zap.Error(fErr))
	}

	if path := p.cfg.Outputs.ReportPath; path != "" {
		if err := report.WriteYAMLFile(path, rep); err != nil {
			if runErr == nil {
				return rep, err
			}
			log.Warn("pipeline: failed to write report", zap.Error(err))
		}
	}

	if runErr != nil {
		log.Error("pipeline: classification failed", zap.Error(runErr))
		return rep, runErr
	}
	log.Info("pipeline: classification complete",
		zap.String("final", p.cfg.Outputs.Final),
		zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	return rep, nil
}

func (r *run) finish(runErr error) *report.RunReport {
	rep := r.report
	rep.FinishedAt = time.Now().UTC()
	rep.Status = string(workspace.RunStatusComplete)
	if runErr != nil {
		rep.Status = string(workspace.RunStatusFailed)
		rep.Error = runErr.Error()
	}
	sort.SliceStable(rep.Phases, func(i, j int) bool { return rep.Phases[i].Name < rep.Phases[j].Name })
	for _, name := range r.p.cfg.Outputs.Artifacts() {
		if _, ok := r.saved[name]; ok {
			rep.Artifacts = append(rep.Artifacts, name)
		}
	}
	return rep
}

// trackPhase times fn, logs its outcome and appends it to the report.
func (r *run) trackPhase(name string, fn func() (map[string]any, error)) error {
	start := time.Now()
	meta, err := fn()
	phase := report.Phase{
		Name:     name,
		Duration: time.Since(start).Milliseconds(),
		Metadata: meta,
	}

	if err != nil {
		phase.Status = report.PhaseStatusFailed
		phase.Error = err.Error()
		r.log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", phase.Duration),
			zap.Error(err),
		)
	} else {
		phase.Status = report.PhaseStatusComplete
		r.log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", phase.Duration),
		)
	}

	r.mu.Lock()
	r.report.Phases = append(r.report.Phases, phase)
	r.mu.Unlock()
	return err
}

// save persists a raster and remembers it for export.
func (r *run) save(ctx context.Context, ras *raster.Raster) error {
	if err := r.p.store.SaveRaster(ctx, ras); err != nil {
		return eris.Wrapf(err, "pipeline: save %s", ras.Name)
	}
	r.mu.Lock()
	r.saved[ras.Name] = ras
	r.mu.Unlock()
	return nil
}

func (r *run) execute(ctx context.Context) error {
	cfg := r.p.cfg
	out := cfg.Outputs

	assign, err := rasterize.ParseCellAssignment(cfg.Analysis.CellAssignment)
	if err != nil {
		return eris.Wrap(err, "pipeline: cell assignment")
	}
	r.assign = assign

	// Stage 0: the slope raster defines the analysis extent.
	var slope *raster.Raster
	var analysis raster.Grid
	err = r.trackPhase(PhaseLoadSlope, func() (map[string]any, error) {
		s, err := r.p.loadRaster(ctx, cfg.Inputs.Slope)
		if err != nil {
			return nil, err
		}
		g, err := raster.NewGridFromBound(s.Grid.Bound(), cfg.Analysis.CellSize, cfg.SpatialReference.EPSG)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: analysis grid")
		}
		slope, analysis = s, g
		return map[string]any{
			"source_cell_size": s.Grid.CellSize,
			"cols":             g.Cols,
			"rows":             g.Rows,
		}, nil
	})
	if err != nil {
		return err
	}
	r.report.Grid = analysis

	// Stage 1: independent criteria.
	limit := cfg.Analysis.Concurrency
	if !cfg.Analysis.Parallel || limit < 1 {
		limit = 1
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	stage := func(name string, fn func() (map[string]any, error)) {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			return r.trackPhase(name, fn)
		})
	}

	var band, groundwater, soil, forestPresence, builtUp *raster.Raster

	stage(PhaseSlope, func() (map[string]any, error) {
		b, err := criteria.ClassifySlope(out.SlopeBand, slope).Resample(out.SlopeBand, analysis)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: resample slope band")
		}
		if err := r.save(gCtx, b); err != nil {
			return nil, err
		}
		band = b
		return histogramMeta(b), nil
	})

	stage(PhaseGroundwater, func() (map[string]any, error) {
		src := cfg.Inputs.Groundwater
		raw, err := r.rasterizeInput(gCtx, src, src.Field, out.GroundwaterRaster, analysis)
		if err != nil {
			return nil, err
		}
		flag, err := criteria.GroundwaterFlag(out.GroundwaterFlag, raw).Resample(out.GroundwaterFlag, analysis)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: resample groundwater flag")
		}
		if err := r.save(gCtx, flag); err != nil {
			return nil, err
		}
		groundwater = flag
		return histogramMeta(flag), nil
	})

	stage(PhaseSoil, func() (map[string]any, error) {
		src := cfg.Inputs.Soil
		layer, err := r.p.loadVector(gCtx, src.LayerSource)
		if err != nil {
			return nil, err
		}
		if err := criteria.DeriveSoilClass(layer, src.Field, src.DerivedField, src.HighQualityLabel); err != nil {
			return nil, eris.Wrap(err, "pipeline: derive soil class")
		}
		if err := r.p.store.SaveVectorLayer(gCtx, layer); err != nil {
			return nil, eris.Wrapf(err, "pipeline: save soil layer %s", layer.Name)
		}
		raw, err := r.rasterizeLayer(gCtx, layer, src.DerivedField, src.CellSize, out.SoilRaster, analysis)
		if err != nil {
			return nil, err
		}
		flag, err := criteria.SoilFlag(out.SoilFlag, raw).Resample(out.SoilFlag, analysis)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: resample soil flag")
		}
		if err := r.save(gCtx, flag); err != nil {
			return nil, err
		}
		soil = flag
		meta := histogramMeta(flag)
		meta["features"] = len(layer.Features)
		return meta, nil
	})

	stage(PhaseForest, func() (map[string]any, error) {
		src := cfg.Inputs.Forest
		raw, err := r.rasterizeInput(gCtx, src, src.Field, out.ForestRaster, analysis)
		if err != nil {
			return nil, err
		}
		presence, err := criteria.PresenceFlag(out.ForestFlag, raw).Resample(out.ForestFlag, analysis)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: resample forest presence")
		}
		forestPresence = presence
		return histogramMeta(presence), nil
	})

	stage(PhaseBuiltUp, func() (map[string]any, error) {
		src := cfg.Inputs.BuiltUp
		raw, err := r.rasterizeInput(gCtx, src, src.Field, out.BuiltUpRaster, analysis)
		if err != nil {
			return nil, err
		}
		flag, err := criteria.PresenceFlag(out.BuiltUpFlag, raw).Resample(out.BuiltUpFlag, analysis)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: resample built-up flag")
		}
		if err := r.save(gCtx, flag); err != nil {
			return nil, err
		}
		builtUp = flag
		return histogramMeta(flag), nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// Stage 2: forest needs the slope band.
	var forest *raster.Raster
	err = r.trackPhase(PhaseForestFlag, func() (map[string]any, error) {
		f, err := criteria.ForestFlag(out.ForestFlag, forestPresence, band)
		if err != nil {
			return nil, err
		}
		if err := r.save(ctx, f); err != nil {
			return nil, err
		}
		forest = f
		return histogramMeta(f), nil
	})
	if err != nil {
		return err
	}

	// Stage 3: overlay.
	var final *raster.Raster
	err = r.trackPhase(PhaseOverlay, func() (map[string]any, error) {
		f, err := overlay.Combine(out.Final, overlay.Flags{
			BuiltUp:     builtUp,
			Forest:      forest,
			Soil:        soil,
			Groundwater: groundwater,
		})
		if err != nil {
			return nil, err
		}
		final = f
		return histogramMeta(f), nil
	})
	if err != nil {
		return err
	}

	// Stage 4: attribute table. The final raster is stored only together
	// with its table.
	err = r.trackPhase(PhaseAnnotate, func() (map[string]any, error) {
		table, err := annotate.Build(final)
		if err != nil {
			return nil, err
		}
		if err := r.p.store.SaveClassification(ctx, final, table); err != nil {
			return nil, eris.Wrapf(err, "pipeline: save %s", final.Name)
		}
		r.mu.Lock()
		r.saved[final.Name] = final
		r.mu.Unlock()
		r.report.Classes = table
		return map[string]any{"rows": len(table.Rows)}, nil
	})
	if err != nil {
		return err
	}

	if dir := out.ExportDir; dir != "" {
		return r.trackPhase(PhaseExport, func() (map[string]any, error) {
			n := 0
			for _, name := range out.Artifacts() {
				ras, ok := r.saved[name]
				if !ok {
					continue
				}
				if err := asciigrid.WriteFile(filepath.Join(dir, name+".asc"), ras); err != nil {
					return nil, eris.Wrapf(err, "pipeline: export %s", name)
				}
				n++
			}
			return map[string]any{"dir": dir, "files": n}, nil
		})
	}
	return nil
}

// rasterizeInput loads a vector input and rasterizes field at the input's
// cell size.
func (r *run) rasterizeInput(ctx context.Context, src config.LayerSource, field, name string, analysis raster.Grid) (*raster.Raster, error) {
	layer, err := r.p.loadVector(ctx, src)
	if err != nil {
		return nil, err
	}
	return r.rasterizeLayer(ctx, layer, field, src.CellSize, name, analysis)
}

func (r *run) rasterizeLayer(ctx context.Context, layer *vector.Layer, field string, cellSize float64, name string, analysis raster.Grid) (*raster.Raster, error) {
	grid, err := analysis.WithCellSize(cellSize)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: grid for %s", name)
	}
	raw, err := rasterize.PolygonToRaster(layer, rasterize.Options{
		Name:       name,
		Field:      field,
		Grid:       grid,
		Assignment: r.assign,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: rasterize %s", name)
	}
	if err := r.save(ctx, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func histogramMeta(r *raster.Raster) map[string]any {
	counts := make(map[string]any)
	for v, n := range r.Histogram() {
		counts[formatValue(v)] = n
	}
	return map[string]any{
		"cells":     len(r.Cells),
		"no_data":   r.NoDataCount(),
		"histogram": counts,
	}
}
