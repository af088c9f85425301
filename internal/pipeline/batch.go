package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Stats summarizes a batch regeneration.
type Stats struct {
	Total       int
	Regenerated int
	Skipped     int // photos not ingested yet
	Failed      int
	Err         error // every failure, joined
}

// forEach runs fn for every id on a bounded worker pool. onDone, if set, is
// called once per id from the worker goroutine.
func (o *Orchestrator) forEach(
	ctx context.Context,
	ids []uuid.UUID,
	fn func(ctx context.Context, id uuid.UUID) error,
	onDone func(id uuid.UUID, err error),
) Stats {
	stats := Stats{Total: len(ids)}
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, o.concurrency)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := fn(ctx, id)

			mu.Lock()
			switch {
			case err == nil:
				stats.Regenerated++
			case errors.Is(err, ErrNotIngested):
				stats.Skipped++
			default:
				stats.Failed++
				errs = append(errs, err)
			}
			mu.Unlock()

			if onDone != nil {
				onDone(id, err)
			}
		}(id)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	stats.Err = errors.Join(errs...)
	return stats
}

// RegenerateAll re-renders every ingested photo.
func (o *Orchestrator) RegenerateAll(ctx context.Context, onDone func(id uuid.UUID, err error)) (Stats, error) {
	photos, err := o.store.ListPhotos(ctx)
	if err != nil {
		return Stats{}, err
	}
	ids := make([]uuid.UUID, 0, len(photos))
	for _, p := range photos {
		ids = append(ids, p.ID)
	}

	stats := o.forEach(ctx, ids, o.Regenerate, onDone)
	o.log.Info().
		Int("total", stats.Total).
		Int("regenerated", stats.Regenerated).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("regenerated all photos")
	return stats, stats.Err
}
