package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// SummaryPolicy selects which model's result mirrors into the "summary" field
type SummaryPolicy string

const (
	// PolicyPrimary mirrors only the designated primary model
	PolicyPrimary SummaryPolicy = "primary"
	// PolicyLatest mirrors whichever model finished most recently
	PolicyLatest SummaryPolicy = "latest"
)

// Mirrors reports whether results from model should be copied into "summary"
func (p SummaryPolicy) Mirrors(model, primary string) bool {
	if p == PolicyLatest {
		return true
	}
	return model == primary
}

// Pool supervises one Loop per model. Loops run independently; one stopping
// never stops the others.
type Pool struct {
	loops []*Loop
	log   *slog.Logger
}

// NewPool creates a pool over loops
func NewPool(log *slog.Logger, loops ...*Loop) *Pool {
	return &Pool{loops: loops, log: log}
}

// Loops returns the supervised loops
func (p *Pool) Loops() []*Loop {
	return p.loops
}

// Run starts every loop and blocks until all have stopped. Cancelling ctx
// stops the pool.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group

	for _, l := range p.loops {
		g.Go(l.Start)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-done:
		}
	}()

	p.log.Info("Worker pool started", "loops", len(p.loops))
	err := g.Wait()
	close(done)
	p.log.Info("Worker pool stopped")
	return err
}

// Stop signals every loop to stop
func (p *Pool) Stop() {
	for _, l := range p.loops {
		l.Stop()
	}
}
