package climate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Target identifies one entry of the mask axis: either a region of the
// classification or the GLOBAL aggregate.
type Target struct {
	global bool
	code   int
}

// RegionTarget returns the target for a classifier region number.
func RegionTarget(code int) Target { return Target{code: code} }

// GlobalTarget returns the GLOBAL target.
func GlobalTarget() Target { return Target{global: true} }

// IsGlobal reports whether t is the GLOBAL entry.
func (t Target) IsGlobal() bool { return t.global }

// Code flattens the target onto the numeric mask axis.
func (t Target) Code() int {
	if t.global {
		return GlobalCode
	}
	return t.code
}

// RegionResult holds the weighted means of one target, one per broadcast
// slice of the input field.
type RegionResult struct {
	Target Target
	Name   string
	Means  []float64
}

type accumulator struct {
	weighted float64
	weight   float64
}

// AreaWeights returns cos(lat) per gridcell, proportional to cell area on an
// equirectangular grid.
func AreaWeights(lat []float64) []float64 {
	w := make([]float64, len(lat))
	for i, l := range lat {
		w[i] = math.Cos(l * math.Pi / 180)
	}
	return w
}

// ComputeRegionalMeans reduces field over its gridcell axis to one
// latitude-weighted mean per region of the classifier plus a GLOBAL mean.
//
// Regional means only see cells assigned to the region; the GLOBAL mean is
// taken over every cell, including cells the classifier left unassigned.
// Regions without cells come out as NaN. The input is not modified.
func ComputeRegionalMeans(ctx context.Context, classifier Classifier, field *Field) (RegionalField, error) {
	if field == nil {
		return RegionalField{}, errors.New("nil field")
	}
	if err := field.Validate(); err != nil {
		return RegionalField{}, err
	}
	g, _ := field.GridcellAxis()
	ncell := field.Shape[g]

	cls, err := classifier.Classify(ctx, field.Lat, field.Lon)
	if err != nil {
		return RegionalField{}, fmt.Errorf("%w with %s: %w", ErrClassification, classifier.Name(), err)
	}
	if err := cls.Validate(ncell); err != nil {
		return RegionalField{}, fmt.Errorf("%w with %s: %w", ErrClassification, classifier.Name(), err)
	}

	results := reduce(field, g, cls, AreaWeights(field.Lat))
	return assemble(field, g, results), nil
}

// reduce computes the regional results in provider order followed by the
// GLOBAL result.
func reduce(field *Field, g int, cls Classification, weights []float64) []RegionResult {
	outer, inner := splitShape(field.Shape, g)
	ncell := field.Shape[g]
	nslice := outer * inner

	results := make([]RegionResult, 0, len(cls.Numbers)+1)
	for i, n := range cls.Numbers {
		results = append(results, RegionResult{
			Target: RegionTarget(n),
			Name:   cls.Names[i],
			Means:  make([]float64, nslice),
		})
	}
	global := RegionResult{
		Target: GlobalTarget(),
		Name:   GlobalName,
		Means:  make([]float64, nslice),
	}

	vals := make([]float64, 0, ncell)
	ws := make([]float64, 0, ncell)
	for o := 0; o < outer; o++ {
		for k := 0; k < inner; k++ {
			s := o*inner + k
			acc := make(map[int]accumulator, len(cls.Numbers))
			vals, ws = vals[:0], ws[:0]

			for i := 0; i < ncell; i++ {
				x := field.Values[(o*ncell+i)*inner+k]
				w := weights[i]
				if code := cls.Mask[i]; code != Unassigned {
					a := acc[code]
					// Missing values drop out of the weighted sum but
					// still count towards the region's weight.
					if !math.IsNaN(x) {
						a.weighted += x * w
					}
					a.weight += w
					acc[code] = a
				}
				if !math.IsNaN(x) {
					vals = append(vals, x)
					ws = append(ws, w)
				}
			}

			for j, n := range cls.Numbers {
				a := acc[n]
				results[j].Means[s] = a.weighted / a.weight
			}
			if len(vals) == 0 {
				global.Means[s] = math.NaN()
			} else {
				global.Means[s] = stat.Mean(vals, ws)
			}
		}
	}
	return append(results, global)
}

// assemble flattens results onto the mask axis in place of the gridcell axis.
func assemble(field *Field, g int, results []RegionResult) RegionalField {
	outer, inner := splitShape(field.Shape, g)
	nmask := len(results)

	values := make(Values, outer*nmask*inner)
	mask := make([]int, nmask)
	names := make([]string, nmask)
	for m, r := range results {
		mask[m] = r.Target.Code()
		names[m] = r.Name
		for o := 0; o < outer; o++ {
			for k := 0; k < inner; k++ {
				values[(o*nmask+m)*inner+k] = r.Means[o*inner+k]
			}
		}
	}

	dims := append([]string(nil), field.Dims...)
	dims[g] = MaskDim
	shape := append([]int(nil), field.Shape...)
	shape[g] = nmask

	var coords map[string]Values
	if len(field.Coords) > 0 {
		coords = make(map[string]Values, len(field.Coords))
		for k, v := range field.Coords {
			coords[k] = append(Values(nil), v...)
		}
	}

	return RegionalField{
		Name:   field.Name,
		Units:  field.Units,
		Dims:   dims,
		Shape:  shape,
		Values: values,
		Mask:   mask,
		MaskAttrs: MaskAttrs{
			StandardName: "region",
			FlagValues:   append([]int(nil), mask...),
			FlagMeanings: strings.Join(names, " "),
		},
		Coords: coords,
	}
}

func splitShape(shape []int, axis int) (outer, inner int) {
	outer, inner = 1, 1
	for i, n := range shape {
		switch {
		case i < axis:
			outer *= n
		case i > axis:
			inner *= n
		}
	}
	return outer, inner
}
