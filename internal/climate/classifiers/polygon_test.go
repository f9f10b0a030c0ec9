package classifiers

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/i474232898/climate-region-aggregation/internal/climate"
)

const twoSquares = `
name: squares
regions:
  - number: 10
    abbrev: A
    name: Alpha
    parts:
      - [[0, 0], [10, 0], [10, 10], [0, 10]]
  - number: 20
    abbrev: B
    name: Beta
    parts:
      - [[10, 0], [20, 0], [20, 10], [10, 10], [10, 0]]
      - [[170, -5], [180, -5], [180, 5], [170, 5]]
`

func squaresClassifier(t *testing.T) *PolygonClassifier {
	t.Helper()
	set, err := ParseRegionSet([]byte(twoSquares))
	if err != nil {
		t.Fatalf("ParseRegionSet: %v", err)
	}
	return NewPolygonClassifier(set)
}

func TestPolygonClassifierAssignsCells(t *testing.T) {
	c := squaresClassifier(t)

	cases := []struct {
		name     string
		lat, lon float64
		want     int
	}{
		{"inside alpha", 5, 5, 10},
		{"inside beta", 5, 15, 20},
		{"shared edge goes to first region", 5, 10, 10},
		{"second part of beta", 0, 175, 20},
		{"negative longitude wraps", 0, -185, 20},
		{"0-360 longitude wraps", 5, 365, 10},
		{"outside every region", 5, 30, climate.Unassigned},
		{"south of every region", -50, 5, climate.Unassigned},
	}

	lat := make([]float64, len(cases))
	lon := make([]float64, len(cases))
	for i, tc := range cases {
		lat[i], lon[i] = tc.lat, tc.lon
	}

	cls, err := c.Classify(context.Background(), lat, lon)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for i, tc := range cases {
		if cls.Mask[i] != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, cls.Mask[i], tc.want)
		}
	}

	if !reflect.DeepEqual(cls.Numbers, []int{10, 20}) {
		t.Errorf("numbers: got %v", cls.Numbers)
	}
	if !reflect.DeepEqual(cls.Names, []string{"Alpha", "Beta"}) {
		t.Errorf("names: got %v", cls.Names)
	}
	if !reflect.DeepEqual(cls.Abbrevs, []string{"A", "B"}) {
		t.Errorf("abbrevs: got %v", cls.Abbrevs)
	}
	if c.Name() != "polygon:squares" {
		t.Errorf("name: got %q", c.Name())
	}
}

func TestPolygonClassifierMisaligned(t *testing.T) {
	c := squaresClassifier(t)
	_, err := c.Classify(context.Background(), []float64{1, 2}, []float64{1})
	if !errors.Is(err, climate.ErrMisaligned) {
		t.Fatalf("got %v, want ErrMisaligned", err)
	}
}

func TestPolygonClassifierCancelled(t *testing.T) {
	c := squaresClassifier(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Classify(ctx, []float64{1}, []float64{1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestAR6LandCities(t *testing.T) {
	set, err := AR6Land()
	if err != nil {
		t.Fatalf("AR6Land: %v", err)
	}
	if len(set.Regions) != 46 {
		t.Fatalf("got %d regions, want 46", len(set.Regions))
	}
	for i, r := range set.Regions {
		if r.Number != i {
			t.Fatalf("region %s has number %d at position %d", r.Abbrev, r.Number, i)
		}
	}

	cities := []struct {
		name     string
		lat, lon float64
		abbrev   string
	}{
		{"Paris", 48.85, 2.35, "WCE"},
		{"Madrid", 40.4, -3.7, "MED"},
		{"Madrid 0-360", 40.4, 356.3, "MED"},
		{"Sydney", -33.9, 151.2, "EAU"},
		{"Nairobi", -1.3, 36.8, "SEAF"},
		{"Mumbai", 19.1, 72.9, "SAS"},
		{"Denver", 39.7, -105.5, "WNA"},
		{"Manaus", -3.1, -60.0, "NSA"},
		{"Houston", 29.8, -95.4, "CNA"},
		{"Atlanta", 33.7, -84.4, "ENA"},
		{"Mexico City", 19.4, -99.1, "NCA"},
		{"northern Gulf of Mexico", 27.0, -88.0, "ENA"},
		{"Tasman Sea", -38.0, 160.0, "NZ"},
	}
	lat := make([]float64, len(cities))
	lon := make([]float64, len(cities))
	for i, c := range cities {
		lat[i], lon[i] = c.lat, c.lon
	}

	c := NewPolygonClassifier(set)
	cls, err := c.Classify(context.Background(), lat, lon)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	byNumber := make(map[int]string)
	for i, n := range cls.Numbers {
		byNumber[n] = cls.Abbrevs[i]
	}
	for i, city := range cities {
		if got := byNumber[cls.Mask[i]]; got != city.abbrev {
			t.Errorf("%s: got %q, want %q", city.name, got, city.abbrev)
		}
	}

	// Mid-Pacific is in no land region.
	cls, err = c.Classify(context.Background(), []float64{0}, []float64{-150})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Mask[0] != climate.Unassigned {
		t.Errorf("mid-Pacific: got %d, want Unassigned", cls.Mask[0])
	}

	regions, err := c.Regions(context.Background())
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if regions[0].Name != "Greenland/Iceland" || regions[45].Abbrev != "WAN" {
		t.Errorf("unexpected region info: %+v %+v", regions[0], regions[45])
	}
}

func TestNormLon(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-97.5, -97.5},
		{180, 180},
		{-180, -180},
		{181, -179},
		{262.5, -97.5},
		{360, 0},
		{-190, 170},
		{540, -180},
	}
	for _, tc := range cases {
		if got := normLon(tc.in); got != tc.want {
			t.Errorf("normLon(%v): got %v, want %v", tc.in, got, tc.want)
		}
	}
}
