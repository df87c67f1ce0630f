package vector

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// assembleRings groups flat rings into polygons. Clockwise rings are outer
// boundaries (the shapefile convention); a counter-clockwise ring becomes a
// hole of the first polygon whose outer ring contains it, or a new polygon
// when none does.
func assembleRings(rings []orb.Ring) orb.MultiPolygon {
	var mp orb.MultiPolygon
	for _, r := range rings {
		if len(r) > 0 && !r.Closed() {
			r = append(r, r[0])
		}
		if len(r) < 4 {
			continue
		}
		if r.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{r})
			continue
		}
		owner := -1
		for i, p := range mp {
			if planar.RingContains(p[0], r[0]) {
				owner = i
				break
			}
		}
		if owner < 0 {
			mp = append(mp, orb.Polygon{r})
			continue
		}
		mp[owner] = append(mp[owner], r)
	}
	return mp
}
