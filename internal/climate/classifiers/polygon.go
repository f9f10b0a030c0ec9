package classifiers

import (
	"context"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/i474232898/climate-region-aggregation/internal/climate"
)

// searchPad widens the point query box so points on a part's bounding edge
// are still returned by the index.
const searchPad = 1e-9

// PolygonClassifier assigns gridcells to regions by point-in-polygon tests
// against a RegionSet.
type PolygonClassifier struct {
	name string
	set  *RegionSet
	tree *rtree.Rtree
}

// regionPart is one ring of a region, as stored in the index.
type regionPart struct {
	geom.Polygon
	index int // position of the region in the set
}

// NewPolygonClassifier indexes the parts of every region in set.
func NewPolygonClassifier(set *RegionSet) *PolygonClassifier {
	tree := rtree.NewTree(25, 50)
	for i, r := range set.Regions {
		for _, p := range r.Parts {
			tree.Insert(&regionPart{Polygon: p, index: i})
		}
	}
	name := "polygon"
	if set.Name != "" {
		name = "polygon:" + set.Name
	}
	return &PolygonClassifier{name: name, set: set, tree: tree}
}

func (p *PolygonClassifier) Name() string {
	return p.name
}

// Classify returns the region number of every (lat, lon) pair. Points on a
// region boundary belong to that region; where regions overlap the one
// listed first in the set wins.
func (p *PolygonClassifier) Classify(ctx context.Context, lat, lon []float64) (climate.Classification, error) {
	if len(lat) != len(lon) {
		return climate.Classification{}, climate.ErrMisaligned
	}

	mask := make([]int, len(lat))
	for i := range lat {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return climate.Classification{}, err
			}
		}
		mask[i] = p.locate(lat[i], normLon(lon[i]))
	}

	cls := climate.Classification{
		Mask:    mask,
		Numbers: make([]int, len(p.set.Regions)),
		Names:   make([]string, len(p.set.Regions)),
		Abbrevs: make([]string, len(p.set.Regions)),
	}
	for i, r := range p.set.Regions {
		cls.Numbers[i] = r.Number
		cls.Names[i] = r.Name
		cls.Abbrevs[i] = r.Abbrev
	}
	return cls, nil
}

// Regions implements climate.RegionLister.
func (p *PolygonClassifier) Regions(context.Context) ([]climate.RegionInfo, error) {
	return p.set.Info(), nil
}

func (p *PolygonClassifier) locate(lat, lon float64) int {
	pt := geom.Point{X: lon, Y: lat}
	box := &geom.Bounds{
		Min: geom.Point{X: lon - searchPad, Y: lat - searchPad},
		Max: geom.Point{X: lon + searchPad, Y: lat + searchPad},
	}

	best := -1
	for _, g := range p.tree.SearchIntersect(box) {
		part, ok := g.(*regionPart)
		if !ok {
			continue
		}
		if best >= 0 && part.index >= best {
			continue
		}
		if pt.Within(part.Polygon) != geom.Outside {
			best = part.index
		}
	}
	if best < 0 {
		return climate.Unassigned
	}
	return p.set.Regions[best].Number
}

// normLon leaves longitudes in [-180, 180] unchanged and wraps any other
// value into [-180, 180).
func normLon(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
