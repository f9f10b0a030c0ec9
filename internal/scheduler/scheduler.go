package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/climate-region-aggregation/internal/climate"
	"github.com/i474232898/climate-region-aggregation/internal/log"
)

// maxConcurrent bounds the number of datasets aggregated at once.
const maxConcurrent = 4

// Recomputer aggregates and stores one dataset.
type Recomputer interface {
	ComputeAndStore(ctx context.Context, name string) (climate.Snapshot, error)
}

// Scheduler periodically recomputes regional means for configured datasets.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Recomputer
	datasets  []string
	interval  time.Duration
	timeout   time.Duration
}

// New creates a new Scheduler.
func New(datasets []string, interval time.Duration, service Recomputer) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		datasets:  datasets,
		interval:  interval,
		timeout:   5 * time.Minute,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run happens immediately.
func (s *Scheduler) Start() error {
	if len(s.datasets) == 0 {
		log.Info("scheduler: no datasets configured; nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = time.Hour
	}

	_, err := s.scheduler.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			log.Warnw("scheduler: recompute job finished with errors", "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce recomputes every dataset concurrently. A failing dataset does not
// stop the others; all failures are returned joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	log.Infow("scheduler: running recompute job", "datasets", len(s.datasets))
	start := time.Now()

	errs := make([]error, len(s.datasets))
	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, name := range s.datasets {
		i, name := i, name
		g.Go(func() error {
			if _, err := s.service.ComputeAndStore(ctx, name); err != nil {
				log.Errorw("scheduler: recompute failed", "dataset", name, "error", err)
				errs[i] = err
			}
			return nil
		})
	}
	g.Wait()

	log.Infow("scheduler: completed recompute job", "elapsed", time.Since(start))
	return errors.Join(errs...)
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
