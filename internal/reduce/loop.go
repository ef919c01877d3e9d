package reduce

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/banshee-data/skystack/internal/monitoring"
	"github.com/banshee-data/skystack/internal/skymap"
)

// LoopParams configures the parallel reduction loop.
type LoopParams struct {
	Workers int // default runtime.NumCPU()
	Mask    SafeMaskParams
	// Norm enables per-observation background normalization before
	// stacking; nil skips it.
	Norm *NormalizerParams
}

// LoopResult summarizes one reduction run. Skipped maps observation IDs to
// the per-observation failure that excluded them from the stack; a skipped
// observation never corrupts the aggregate dataset.
type LoopResult struct {
	Stacked *skymap.Dataset
	Reduced int
	Skipped map[string]error
}

// Run reduces each observation (reduce, mask, optionally normalize) on a
// pool of workers and stacks the results into target. The per-observation
// stages share no mutable state; stacking is the single serialization
// point and is already mutex-guarded by the Stacker, so accumulation order
// does not affect the final arrays. Cancellation is honoured between
// observations.
func Run(ctx context.Context, reducer *Reducer, target *skymap.Dataset, observations []*Observation, p LoopParams) (*LoopResult, error) {
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(observations) && len(observations) > 0 {
		workers = len(observations)
	}

	stacker := skymap.NewStacker(target)
	result := &LoopResult{Stacked: target, Skipped: make(map[string]error)}

	var mu sync.Mutex
	skip := func(id string, err error) {
		mu.Lock()
		result.Skipped[id] = err
		mu.Unlock()
		monitoring.Tagf("reduce", "observation %s skipped: %v", id, err)
	}

	jobs := make(chan *Observation)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for obs := range jobs {
				ds, err := reducer.Reduce(obs)
				if err != nil {
					skip(obs.ID, fmt.Errorf("reduce: %w", err))
					continue
				}
				if err := ApplySafeMask(ds, obs, p.Mask); err != nil {
					skip(obs.ID, fmt.Errorf("mask: %w", err))
					continue
				}
				if p.Norm != nil {
					if _, _, err := FitBackgroundNorm(ds, *p.Norm); err != nil {
						skip(obs.ID, fmt.Errorf("background norm: %w", err))
						continue
					}
				}
				if err := stacker.Stack(ds); err != nil {
					skip(obs.ID, fmt.Errorf("stack: %w", err))
					continue
				}
				mu.Lock()
				result.Reduced++
				mu.Unlock()
			}
		}()
	}

	var ctxErr error
feed:
	for _, obs := range observations {
		// Cancellation wins over a ready worker.
		select {
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break feed
		default:
		}
		select {
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break feed
		case jobs <- obs:
		}
	}
	close(jobs)
	wg.Wait()

	monitoring.Tagf("reduce", "loop complete: %d stacked, %d skipped", result.Reduced, len(result.Skipped))
	if ctxErr != nil {
		return result, fmt.Errorf("reduction loop interrupted: %w", ctxErr)
	}
	return result, nil
}
