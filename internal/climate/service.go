package climate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/climate-region-aggregation/internal/log"
)

var ErrUnknownDataset = errors.New("unknown dataset")

// Service orchestrates dataset loading, region classification and
// persisting aggregation snapshots.
type Service struct {
	store      Store
	classifier Classifier
	loader     Loader
	datasets   map[string]Dataset
}

// NewService creates a new Service.
func NewService(store Store, classifier Classifier, loader Loader, datasets []Dataset) *Service {
	byName := make(map[string]Dataset, len(datasets))
	for _, ds := range datasets {
		byName[ds.Name] = ds
	}
	return &Service{
		store:      store,
		classifier: classifier,
		loader:     loader,
		datasets:   byName,
	}
}

// Datasets returns the configured datasets.
func (s *Service) Datasets() []Dataset {
	out := make([]Dataset, 0, len(s.datasets))
	for _, ds := range s.datasets {
		out = append(out, ds)
	}
	return out
}

// Compute aggregates an ad-hoc field without storing the result.
func (s *Service) Compute(ctx context.Context, field *Field) (RegionalField, error) {
	start := time.Now()
	res, err := ComputeRegionalMeans(ctx, s.classifier, field)
	if err != nil {
		return RegionalField{}, err
	}
	log.Debugw("computed regional means",
		"field", field.Name,
		"gridcells", field.NumCells(),
		"regions", len(res.Mask)-1,
		"elapsed", time.Since(start))
	return res, nil
}

// ComputeAndStore loads the named dataset, aggregates it and stores a
// snapshot of the result.
func (s *Service) ComputeAndStore(ctx context.Context, name string) (Snapshot, error) {
	ds, ok := s.datasets[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
	if s.loader == nil {
		return Snapshot{}, errors.New("no dataset loader configured")
	}

	field, err := s.loader.Load(ds)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load dataset %s: %w", name, err)
	}

	res, err := s.Compute(ctx, field)
	if err != nil {
		return Snapshot{}, fmt.Errorf("aggregate dataset %s: %w", name, err)
	}

	snap := Snapshot{
		ID:         uuid.NewString(),
		Dataset:    name,
		ComputedAt: time.Now().UTC(),
		Result:     res,
	}
	s.store.SaveSnapshot(snap)
	log.Infow("stored regional snapshot", "dataset", name, "id", snap.ID)
	return snap, nil
}

// Regions lists the region set of the classifier, if it can report one.
func (s *Service) Regions(ctx context.Context) ([]RegionInfo, error) {
	rl, ok := s.classifier.(RegionLister)
	if !ok {
		return nil, fmt.Errorf("classifier %s cannot list regions", s.classifier.Name())
	}
	regions, err := rl.Regions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list regions: %w", ErrClassification, err)
	}
	return regions, nil
}

// GetLatest delegates to the underlying store.
func (s *Service) GetLatest(dataset string) (Snapshot, error) {
	return s.store.GetLatest(dataset)
}

// GetRange delegates to the underlying store.
func (s *Service) GetRange(dataset string, from, to time.Time) ([]Snapshot, error) {
	return s.store.GetRange(dataset, from, to)
}
