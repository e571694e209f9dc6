package jobs

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool runs several workers against the same queue.
type Pool struct {
	Workers []*Worker
}

// NewPool builds n workers with ids "<baseID>-<i>" by calling newWorker.
// With n == 1 the base id is used unchanged.
func NewPool(n int, baseID string, newWorker func(id string) *Worker) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("pool needs at least one worker, got %d", n)
	}
	p := &Pool{Workers: make([]*Worker, 0, n)}
	for i := 0; i < n; i++ {
		id := baseID
		if n > 1 {
			id = fmt.Sprintf("%s-%d", baseID, i+1)
		}
		p.Workers = append(p.Workers, newWorker(id))
	}
	return p, nil
}

// Run blocks until ctx is cancelled and every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.Workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

// Drain runs every worker until the queue has nothing left to claim.
func (p *Pool) Drain(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.Workers {
		g.Go(func() error {
			for gctx.Err() == nil {
				worked, err := w.RunOnce(gctx)
				if err != nil {
					return err
				}
				if !worked {
					return nil
				}
			}
			return nil
		})
	}
	return g.Wait()
}
