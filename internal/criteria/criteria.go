// Package criteria implements the per-criterion reclassification rules that
// turn source layers into binary or ordinal flag rasters.
package criteria

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/suitability-cli/internal/raster"
)

// Slope bands.
const (
	SlopeLow      = 1
	SlopeModerate = 2
	SlopeSteep    = 3
)

// RemapInterval maps values in [From, To) to Value.
type RemapInterval struct {
	From  float64
	To    float64
	Value float64
}

// RemapRange is an ordered list of intervals; the first match wins.
type RemapRange []RemapInterval

// Lookup returns the mapped value for v, or no-data when no interval
// contains v.
func (rr RemapRange) Lookup(v float64) float64 {
	if raster.IsNoData(v) {
		return raster.NoData
	}
	for _, iv := range rr {
		if v >= iv.From && v < iv.To {
			return iv.Value
		}
	}
	return raster.NoData
}

// SlopeRemap is the fixed slope banding in degrees. Values of 61 and above
// are left unclassified.
var SlopeRemap = RemapRange{
	{From: 0, To: 5, Value: SlopeLow},
	{From: 5, To: 15, Value: SlopeModerate},
	{From: 15, To: 61, Value: SlopeSteep},
}

// Reclassify applies rr to every cell of src.
func Reclassify(name string, src *raster.Raster, rr RemapRange) *raster.Raster {
	return src.Map(name, rr.Lookup)
}

// ClassifySlope bands a slope raster (degrees) into SlopeLow, SlopeModerate
// and SlopeSteep.
func ClassifySlope(name string, slope *raster.Raster) *raster.Raster {
	return Reclassify(name, slope, SlopeRemap)
}

// GroundwaterFlag marks cells suitable for development. Codes 1 and 2 (high
// water table) give 0; every other cell gives 1, including no-data.
func GroundwaterFlag(name string, codes *raster.Raster) *raster.Raster {
	return codes.Map(name, func(v float64) float64 {
		if v == 1 || v == 2 {
			return 0
		}
		return 1
	})
}

// Soil class codes produced by DeriveSoilClass.
const (
	SoilHighQuality = 1
	SoilOther       = 2
)

// SoilFlag fills no-data with SoilOther and flags SoilHighQuality cells.
func SoilFlag(name string, classes *raster.Raster) *raster.Raster {
	return classes.Map(name, func(v float64) float64 {
		if raster.IsNoData(v) {
			v = SoilOther
		}
		if v == SoilHighQuality {
			return 1
		}
		return 0
	})
}

// PresenceFlag gives 1 where the raster has a value and 0 where it is
// no-data.
func PresenceFlag(name string, r *raster.Raster) *raster.Raster {
	return r.Map(name, func(v float64) float64 {
		if raster.IsNoData(v) {
			return 0
		}
		return 1
	})
}

// ForestFlag treats steep terrain as forest: 1 where presence is 1 or the
// slope band is SlopeSteep, 0 otherwise.
func ForestFlag(name string, presence, slopeBand *raster.Raster) (*raster.Raster, error) {
	if err := raster.CheckAligned(presence.Grid, slopeBand.Grid); err != nil {
		return nil, eris.Wrap(err, "criteria: forest flag")
	}
	out := presence.Map(name, func(float64) float64 { return 0 })
	for i, p := range presence.Cells {
		if p == 1 || slopeBand.Cells[i] == SlopeSteep {
			out.Cells[i] = 1
		}
	}
	return out, nil
}
