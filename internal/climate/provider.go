package climate

import (
	"context"
	"time"
)

// Classifier assigns gridcells to regions (e.g. a polygon region set or a
// remote mask service).
type Classifier interface {
	Name() string
	Classify(ctx context.Context, lat, lon []float64) (Classification, error)
}

// RegionLister is implemented by classifiers that can report their region
// set without classifying any cells.
type RegionLister interface {
	Regions(ctx context.Context) ([]RegionInfo, error)
}

// Loader reads a configured dataset into a Field.
type Loader interface {
	Load(ds Dataset) (*Field, error)
}

// Store is the contract the in-memory store (and any future persistent store) must satisfy.
type Store interface {
	SaveSnapshot(snapshot Snapshot)
	GetLatest(dataset string) (Snapshot, error)
	GetRange(dataset string, from, to time.Time) ([]Snapshot, error)
}
