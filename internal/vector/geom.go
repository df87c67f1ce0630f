package vector

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// ToGeom converts an orb multipolygon to a go-geom MultiPolygon tagged
// with srid.
func ToGeom(mp orb.MultiPolygon, srid int) (*geom.MultiPolygon, error) {
	out := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
	for i, p := range mp {
		poly := geom.NewPolygon(geom.XY)
		for _, r := range p {
			flat := make([]float64, 0, 2*len(r))
			for _, pt := range r {
				flat = append(flat, pt[0], pt[1])
			}
			if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
				return nil, eris.Wrapf(err, "vector: push ring of polygon %d", i)
			}
		}
		if err := out.Push(poly); err != nil {
			return nil, eris.Wrapf(err, "vector: push polygon %d", i)
		}
	}
	return out, nil
}

// FromGeom converts a go-geom Polygon or MultiPolygon to orb.
func FromGeom(g geom.T) (orb.MultiPolygon, error) {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		mp := make(orb.MultiPolygon, 0, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			mp = append(mp, polygonFromGeom(t.Polygon(i)))
		}
		return mp, nil
	case *geom.Polygon:
		return orb.MultiPolygon{polygonFromGeom(t)}, nil
	default:
		return nil, eris.Wrapf(ErrUnsupportedGeometry, "%T", g)
	}
}

func polygonFromGeom(p *geom.Polygon) orb.Polygon {
	poly := make(orb.Polygon, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		coords := p.LinearRing(i).Coords()
		ring := make(orb.Ring, 0, len(coords))
		for _, c := range coords {
			ring = append(ring, orb.Point{c.X(), c.Y()})
		}
		poly = append(poly, ring)
	}
	return poly
}

// EncodeWKB encodes a geometry as little-endian WKB.
func EncodeWKB(mp orb.MultiPolygon) ([]byte, error) {
	g, err := ToGeom(mp, 0)
	if err != nil {
		return nil, err
	}
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "vector: encode WKB")
	}
	return data, nil
}

// DecodeWKB reverses EncodeWKB.
func DecodeWKB(data []byte) (orb.MultiPolygon, error) {
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "vector: decode WKB")
	}
	return FromGeom(g)
}

// EncodeEWKB encodes a geometry as EWKB carrying srid.
func EncodeEWKB(mp orb.MultiPolygon, srid int) ([]byte, error) {
	g, err := ToGeom(mp, srid)
	if err != nil {
		return nil, err
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "vector: encode EWKB")
	}
	return data, nil
}

// DecodeEWKB reverses EncodeEWKB and returns the embedded SRID.
func DecodeEWKB(data []byte) (orb.MultiPolygon, int, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, 0, eris.Wrap(err, "vector: decode EWKB")
	}
	mp, err := FromGeom(g)
	if err != nil {
		return nil, 0, err
	}
	return mp, g.SRID(), nil
}
