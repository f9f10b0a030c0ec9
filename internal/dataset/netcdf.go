// Package dataset reads gridded variables from NetCDF files into climate
// fields.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/i474232898/climate-region-aggregation/internal/climate"
)

// NetCDFLoader loads a variable on a gridcell dimension together with its
// lat/lon coordinate variables.
type NetCDFLoader struct {
	LatVar string
	LonVar string
}

func NewNetCDFLoader() *NetCDFLoader {
	return &NetCDFLoader{LatVar: "lat", LonVar: "lon"}
}

// variable is the subset of a NetCDF variable the loader needs.
type variable struct {
	values interface{}
	dims   []string
	attrs  map[string]interface{}
}

func fromAPI(v *api.Variable) variable {
	out := variable{values: v.Values, dims: v.Dimensions}
	if v.Attributes != nil {
		out.attrs = make(map[string]interface{})
		for _, k := range v.Attributes.Keys() {
			if val, ok := v.Attributes.Get(k); ok {
				out.attrs[k] = val
			}
		}
	}
	return out
}

// Load implements climate.Loader.
func (l *NetCDFLoader) Load(ds climate.Dataset) (*climate.Field, error) {
	nc, err := netcdf.Open(ds.Path)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	get := func(name string) (variable, error) {
		v, err := nc.GetVariable(name)
		if err != nil {
			return variable{}, fmt.Errorf("variable %q: %w", name, err)
		}
		return fromAPI(v), nil
	}

	data, err := get(ds.Variable)
	if err != nil {
		return nil, err
	}
	lat, err := get(l.LatVar)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", climate.ErrMissingCoordinate, err)
	}
	lon, err := get(l.LonVar)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", climate.ErrMissingCoordinate, err)
	}

	coords := make(map[string]variable)
	for _, d := range data.dims {
		if d == climate.GridcellDim {
			continue
		}
		// Dimension coordinates are optional.
		if cv, err := get(d); err == nil {
			coords[d] = cv
		}
	}

	return buildField(ds.Variable, data, lat, lon, coords)
}

func buildField(name string, data, lat, lon variable, coords map[string]variable) (*climate.Field, error) {
	values, shape, err := flatten(data.values)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}
	if len(shape) != len(data.dims) {
		return nil, fmt.Errorf("variable %q: %w", name, climate.ErrShapeMismatch)
	}
	applyFill(values, data.attrs)

	latVals, err := coordinate(lat)
	if err != nil {
		return nil, fmt.Errorf("lat: %w", err)
	}
	lonVals, err := coordinate(lon)
	if err != nil {
		return nil, fmt.Errorf("lon: %w", err)
	}

	f := &climate.Field{
		Name:   name,
		Dims:   append([]string(nil), data.dims...),
		Shape:  shape,
		Values: values,
		Lat:    latVals,
		Lon:    lonVals,
	}
	if u, ok := data.attrs["units"].(string); ok {
		f.Units = u
	}
	for dim, cv := range coords {
		vals, err := coordinate(cv)
		if err != nil {
			continue
		}
		if f.Coords == nil {
			f.Coords = make(map[string]climate.Values)
		}
		f.Coords[dim] = vals
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// coordinate reads a 1-D coordinate variable.
func coordinate(v variable) (climate.Values, error) {
	vals, shape, err := flatten(v.values)
	if err != nil {
		return nil, err
	}
	if len(shape) != 1 {
		return nil, errors.New("coordinate variable is not one-dimensional")
	}
	applyFill(vals, v.attrs)
	return vals, nil
}

// flatten converts nested numeric slices into row-major values and a shape.
func flatten(values interface{}) (climate.Values, []int, error) {
	rv := reflect.ValueOf(values)
	if !rv.IsValid() {
		return nil, nil, errors.New("variable has no values")
	}

	var shape []int
	for v := rv; v.Kind() == reflect.Slice; {
		shape = append(shape, v.Len())
		if v.Len() == 0 {
			break
		}
		v = v.Index(0)
	}
	if len(shape) == 0 {
		return nil, nil, fmt.Errorf("unsupported value type %T", values)
	}

	out := make(climate.Values, 0, product(shape))
	var walk func(v reflect.Value, depth int) error
	walk = func(v reflect.Value, depth int) error {
		if depth == len(shape) {
			x, ok := toFloat(v)
			if !ok {
				return fmt.Errorf("unsupported element type %s", v.Type())
			}
			out = append(out, x)
			return nil
		}
		if v.Kind() != reflect.Slice || v.Len() != shape[depth] {
			return errors.New("ragged variable values")
		}
		for i := 0; i < v.Len(); i++ {
			if err := walk(v.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}

func toFloat(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	}
	return 0, false
}

// applyFill replaces _FillValue and missing_value entries with NaN.
func applyFill(vals []float64, attrs map[string]interface{}) {
	for _, key := range []string{"_FillValue", "missing_value"} {
		raw, ok := attrs[key]
		if !ok {
			continue
		}
		fill, _, err := flatten(raw)
		if err != nil {
			fv, ok := toFloat(reflect.ValueOf(raw))
			if !ok {
				continue
			}
			fill = climate.Values{fv}
		}
		for _, fv := range fill {
			for i, x := range vals {
				if x == fv {
					vals[i] = math.NaN()
				}
			}
		}
	}
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
