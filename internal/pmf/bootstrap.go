package pmf

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Resampler draws one bootstrap replicate of the input, typically by
// resampling within each state and re-solving MBAR.
type Resampler func(ctx context.Context, rng *rand.Rand) (Input, error)

// Bootstrap regenerates the current estimate on n replicates. Afterwards
// Get reports the standard deviation across replicates as DF. Replicate b
// draws from a PCG stream seeded with (seed, b), so results do not depend
// on the number of workers.
func (p *PMF) Bootstrap(ctx context.Context, n int, seed uint64, resample Resampler, workers int) error {
	if p.regen == nil {
		return ErrNotGenerated
	}
	if n <= 0 {
		p.boot = nil
		return nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	boot := make([]estimate, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for b := 0; b < n; b++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(seed, uint64(b)))
			in, err := resample(ctx, rng)
			if err != nil {
				return fmt.Errorf("bootstrap %d: %w", b, err)
			}
			q, err := New(in)
			if err != nil {
				return fmt.Errorf("bootstrap %d: %w", b, err)
			}
			if err := p.regen(q); err != nil {
				return fmt.Errorf("bootstrap %d: %w", b, err)
			}
			boot[b] = q.est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	p.boot = boot
	return nil
}

// Bootstraps is the number of replicates behind DF.
func (p *PMF) Bootstraps() int { return len(p.boot) }
