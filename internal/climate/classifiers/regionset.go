package classifiers

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/ctessum/geom"
	"gopkg.in/yaml.v2"

	"github.com/i474232898/climate-region-aggregation/internal/climate"
)

//go:embed ar6_land.yaml
var ar6LandYAML []byte

// Region is one named region of a RegionSet. A region may consist of
// several disjoint parts, each a single closed ring in lon/lat degrees.
type Region struct {
	Number int
	Abbrev string
	Name   string
	Parts  []geom.Polygon
}

// RegionSet is an ordered collection of regions. The order is the native
// numbering order reported to callers.
type RegionSet struct {
	Name    string
	Regions []Region
}

// Info returns the region numbers, abbreviations and names in set order.
func (s *RegionSet) Info() []climate.RegionInfo {
	out := make([]climate.RegionInfo, len(s.Regions))
	for i, r := range s.Regions {
		out[i] = climate.RegionInfo{Number: r.Number, Abbrev: r.Abbrev, Name: r.Name}
	}
	return out
}

type regionSetYAML struct {
	Name    string          `yaml:"name"`
	Regions []regionDefYAML `yaml:"regions"`
}

type regionDefYAML struct {
	Number int           `yaml:"number"`
	Abbrev string        `yaml:"abbrev"`
	Name   string        `yaml:"name"`
	Parts  [][][]float64 `yaml:"parts"`
}

// AR6Land returns the built-in AR6 land region set.
func AR6Land() (*RegionSet, error) {
	return ParseRegionSet(ar6LandYAML)
}

// LoadRegionSet reads a region set from a YAML file.
func LoadRegionSet(filename string) (*RegionSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	set, err := ParseRegionSet(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return set, nil
}

// ParseRegionSet decodes and validates a YAML region set.
func ParseRegionSet(data []byte) (*RegionSet, error) {
	var raw regionSetYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw.Regions) == 0 {
		return nil, errors.New("region set has no regions")
	}

	set := &RegionSet{Name: raw.Name, Regions: make([]Region, 0, len(raw.Regions))}
	seen := make(map[int]bool, len(raw.Regions))
	for _, def := range raw.Regions {
		if def.Number == climate.GlobalCode || def.Number == climate.Unassigned {
			return nil, fmt.Errorf("region %q uses reserved number %d", def.Name, def.Number)
		}
		if seen[def.Number] {
			return nil, fmt.Errorf("duplicate region number %d", def.Number)
		}
		seen[def.Number] = true
		if def.Name == "" {
			return nil, fmt.Errorf("region %d has no name", def.Number)
		}
		if len(def.Parts) == 0 {
			return nil, fmt.Errorf("region %s has no outline", def.Name)
		}

		r := Region{Number: def.Number, Abbrev: def.Abbrev, Name: def.Name}
		for _, part := range def.Parts {
			ring, err := parseRing(part)
			if err != nil {
				return nil, fmt.Errorf("region %s: %w", def.Name, err)
			}
			r.Parts = append(r.Parts, geom.Polygon{ring})
		}
		set.Regions = append(set.Regions, r)
	}
	return set, nil
}

// parseRing converts [lon, lat] pairs into a closed path.
func parseRing(pts [][]float64) (geom.Path, error) {
	if len(pts) < 3 {
		return nil, errors.New("outline needs at least three points")
	}
	ring := make(geom.Path, 0, len(pts)+1)
	for _, p := range pts {
		if len(p) != 2 {
			return nil, fmt.Errorf("outline point %v is not a [lon, lat] pair", p)
		}
		lon, lat := normLon(p[0]), p[1]
		if lat < -90 || lat > 90 {
			return nil, fmt.Errorf("latitude %v out of range", lat)
		}
		ring = append(ring, geom.Point{X: lon, Y: lat})
	}
	if !ring[0].Equals(ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	return ring, nil
}
