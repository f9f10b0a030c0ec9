package climate

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"
)

const (
	// GridcellDim is the name of the spatial axis of a Field.
	GridcellDim = "gridcell"
	// MaskDim replaces GridcellDim in a RegionalField.
	MaskDim = "mask"

	// GlobalCode labels the GLOBAL entry on the mask axis.
	GlobalCode = -1
	// GlobalName is the flag meaning attached to GlobalCode.
	GlobalName = "GLOBAL"

	// Unassigned marks a gridcell that falls in no region.
	Unassigned = math.MinInt32
)

var (
	ErrNoGridcellAxis    = errors.New("field has no gridcell dimension")
	ErrMissingCoordinate = errors.New("field is missing lat/lon coordinates")
	ErrMisaligned        = errors.New("coordinates are not aligned with the gridcell axis")
	ErrShapeMismatch     = errors.New("field values do not match its shape")

	// ErrClassification wraps failures of the region classifier.
	ErrClassification = errors.New("region classification failed")
)

// Values is a float64 series whose JSON form uses null for NaN.
type Values []float64

func (v Values) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (v *Values) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Values, len(raw))
	for i, p := range raw {
		if p == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *p
	}
	*v = out
	return nil
}

// Field is a gridded variable. Values are stored row-major over Shape; one of
// Dims is GridcellDim and Lat/Lon hold one entry per gridcell.
type Field struct {
	Name   string            `json:"name" msgpack:"name"`
	Units  string            `json:"units,omitempty" msgpack:"units,omitempty"`
	Dims   []string          `json:"dims" msgpack:"dims" validate:"required,min=1,dive,required"`
	Shape  []int             `json:"shape" msgpack:"shape" validate:"required,min=1,dive,gte=0"`
	Values Values            `json:"values" msgpack:"values"`
	Lat    Values            `json:"lat" msgpack:"lat"`
	Lon    Values            `json:"lon" msgpack:"lon"`
	Coords map[string]Values `json:"coords,omitempty" msgpack:"coords,omitempty"`
}

// GridcellAxis returns the position of GridcellDim in f.Dims.
func (f *Field) GridcellAxis() (int, error) {
	for i, d := range f.Dims {
		if d == GridcellDim {
			return i, nil
		}
	}
	return -1, ErrNoGridcellAxis
}

// NumCells returns the length of the gridcell axis, or 0 if there is none.
func (f *Field) NumCells() int {
	g, err := f.GridcellAxis()
	if err != nil || g >= len(f.Shape) {
		return 0
	}
	return f.Shape[g]
}

// Validate checks the structural invariants of the field.
func (f *Field) Validate() error {
	g, err := f.GridcellAxis()
	if err != nil {
		return err
	}
	if len(f.Shape) != len(f.Dims) {
		return ErrShapeMismatch
	}
	size := 1
	for _, n := range f.Shape {
		if n < 0 || (n != 0 && size > math.MaxInt/n) {
			return ErrShapeMismatch
		}
		size *= n
	}
	if len(f.Values) != size {
		return ErrShapeMismatch
	}
	if f.Lat == nil || f.Lon == nil {
		return ErrMissingCoordinate
	}
	ncell := f.Shape[g]
	if len(f.Lat) != ncell || len(f.Lon) != ncell {
		return ErrMisaligned
	}
	for i := 0; i < ncell; i++ {
		if !finite(f.Lat[i]) || !finite(f.Lon[i]) {
			return ErrMissingCoordinate
		}
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// MaskAttrs carries the CF flag attributes of the mask axis.
type MaskAttrs struct {
	StandardName string `json:"standard_name" msgpack:"standard_name"`
	FlagValues   []int  `json:"flag_values" msgpack:"flag_values"`
	FlagMeanings string `json:"flag_meanings" msgpack:"flag_meanings"`
}

// RegionalField is a Field reduced from gridcells to regions. Dims equals the
// input dims with GridcellDim replaced by MaskDim.
type RegionalField struct {
	Name      string            `json:"name" msgpack:"name"`
	Units     string            `json:"units,omitempty" msgpack:"units,omitempty"`
	Dims      []string          `json:"dims" msgpack:"dims"`
	Shape     []int             `json:"shape" msgpack:"shape"`
	Values    Values            `json:"values" msgpack:"values"`
	Mask      []int             `json:"mask" msgpack:"mask"`
	MaskAttrs MaskAttrs         `json:"mask_attrs" msgpack:"mask_attrs"`
	Coords    map[string]Values `json:"coords,omitempty" msgpack:"coords,omitempty"`
}

// MaskIndex returns the position of code on the mask axis.
func (r *RegionalField) MaskIndex(code int) (int, bool) {
	for i, c := range r.Mask {
		if c == code {
			return i, true
		}
	}
	return -1, false
}

// Series extracts the values for one mask entry, in row-major order over the
// remaining dims.
func (r *RegionalField) Series(code int) (Values, bool) {
	m, ok := r.MaskIndex(code)
	if !ok {
		return nil, false
	}
	axis := -1
	for i, d := range r.Dims {
		if d == MaskDim {
			axis = i
		}
	}
	if axis < 0 {
		return nil, false
	}
	outer, inner := splitShape(r.Shape, axis)
	nmask := r.Shape[axis]
	out := make(Values, 0, outer*inner)
	for o := 0; o < outer; o++ {
		base := (o*nmask + m) * inner
		out = append(out, r.Values[base:base+inner]...)
	}
	return out, true
}

// Classification is the result of assigning gridcells to regions. Mask holds
// one entry per gridcell, either one of Numbers or Unassigned. Numbers, Names
// and Abbrevs are parallel and in the provider's native order.
type Classification struct {
	Mask    []int    `json:"mask"`
	Numbers []int    `json:"numbers"`
	Names   []string `json:"names"`
	Abbrevs []string `json:"abbrevs,omitempty"`
}

// Validate checks c against a gridcell count.
func (c Classification) Validate(ncell int) error {
	if len(c.Mask) != ncell {
		return errors.New("classification mask length does not match gridcell count")
	}
	if len(c.Names) != len(c.Numbers) {
		return errors.New("classification names and numbers differ in length")
	}
	if c.Abbrevs != nil && len(c.Abbrevs) != len(c.Numbers) {
		return errors.New("classification abbrevs and numbers differ in length")
	}
	seen := make(map[int]bool, len(c.Numbers))
	for _, n := range c.Numbers {
		if n == GlobalCode || n == Unassigned {
			return errors.New("classification uses a reserved region number")
		}
		if seen[n] {
			return errors.New("classification has duplicate region numbers")
		}
		seen[n] = true
	}
	return nil
}

// RegionInfo describes one region of a classifier's region set.
type RegionInfo struct {
	Number int    `json:"number"`
	Abbrev string `json:"abbrev,omitempty"`
	Name   string `json:"name"`
}

// Dataset names a gridded variable stored on disk.
type Dataset struct {
	Name     string `json:"name" validate:"required"`
	Path     string `json:"path" validate:"required"`
	Variable string `json:"variable" validate:"required"`
}

// Snapshot is a stored aggregation result.
type Snapshot struct {
	ID         string        `json:"id" msgpack:"id"`
	Dataset    string        `json:"dataset" msgpack:"dataset"`
	ComputedAt time.Time     `json:"computedAt" msgpack:"computed_at"` // always UTC
	Result     RegionalField `json:"result" msgpack:"result"`
}
