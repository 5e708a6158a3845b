// Package maintenance runs periodic housekeeping: removing image files no
// recipe references any more and pruning idle rate limiter buckets.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mikepea/recipebox/pkg/recipebox/images"
	"github.com/mikepea/recipebox/pkg/recipebox/metrics"
	"github.com/mikepea/recipebox/pkg/recipebox/models"
)

// MediaSweeper deletes stored images that no recipe points at. Files newer
// than the grace period are kept so an upload in flight is never removed
// before its recipe row is written.
type MediaSweeper struct {
	db      *gorm.DB
	store   *images.Storage
	grace   time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewMediaSweeper creates a sweeper. m may be nil.
func NewMediaSweeper(db *gorm.DB, store *images.Storage, grace time.Duration, m *metrics.Metrics, log zerolog.Logger) *MediaSweeper {
	return &MediaSweeper{
		db:      db,
		store:   store,
		grace:   grace,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Sweep removes unreferenced files and returns how many were deleted.
func (s *MediaSweeper) Sweep(ctx context.Context) (int, error) {
	files, err := s.store.List()
	if err != nil {
		return 0, err
	}

	var referenced []string
	err = s.db.WithContext(ctx).Model(&models.Recipe{}).
		Where("image <> ''").
		Pluck("image", &referenced).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load referenced images: %w", err)
	}

	inUse := make(map[string]bool, len(referenced))
	for _, rel := range referenced {
		inUse[rel] = true
	}

	cutoff := s.now().Add(-s.grace)
	removed := 0
	for _, f := range files {
		if inUse[f.Path] || f.ModTime.After(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.store.Delete(f.Path); err != nil {
			s.log.Warn().Err(err).Str("path", f.Path).Msg("Failed to remove orphaned image")
			continue
		}
		removed++
	}

	s.metrics.MediaSwept(removed)
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("Swept orphaned images")
	}
	return removed, nil
}

// Pruner is anything holding idle state that can be dropped periodically.
type Pruner interface {
	Prune() int
}

// Scheduler runs named jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler creates an idle scheduler. Jobs still running when the
// previous run is due again are skipped.
func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log,
	}
}

// Add registers fn under spec, which is a standard five-field expression
// or a descriptor such as "@every 1h".
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := fn(context.Background()); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
			return
		}
		s.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("Scheduled job finished")
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	return nil
}

// AddSweeper schedules sweeper.Sweep.
func (s *Scheduler) AddSweeper(spec string, sweeper *MediaSweeper) error {
	return s.Add("media-sweep", spec, func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx)
		return err
	})
}

// AddPruner schedules p.Prune.
func (s *Scheduler) AddPruner(name, spec string, p Pruner) error {
	return s.Add(name, spec, func(context.Context) error {
		if n := p.Prune(); n > 0 {
			s.log.Debug().Str("job", name).Int("pruned", n).Msg("Pruned idle entries")
		}
		return nil
	})
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}
