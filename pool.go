package markup2pdf

import (
	"context"
	"runtime"
	"sync"
)

// Concurrency sizing constants.
const (
	// MinConcurrency ensures at least one render can run.
	MinConcurrency = 1

	// MaxConcurrency caps simultaneous browser pages to limit memory.
	MaxConcurrency = 8

	// cpuDivisor leaves headroom for Chrome child processes.
	cpuDivisor = 2
)

// ResolveConcurrency determines how many renders may run at once.
// Priority: explicit value > GOMAXPROCS-based calculation.
// Exported for use by servers and CLIs.
func ResolveConcurrency(n int) int {
	// Explicit value takes priority
	if n > 0 {
		return n
	}

	// Auto-calculate based on GOMAXPROCS (adjusted by automaxprocs for containers)
	available := runtime.GOMAXPROCS(0)
	n = available / cpuDivisor

	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// renderLimiter bounds the number of renders in flight.
type renderLimiter struct {
	sem chan struct{}
}

func newRenderLimiter(n int) *renderLimiter {
	if n < 1 {
		n = 1
	}
	return &renderLimiter{sem: make(chan struct{}, n)}
}

// acquire blocks until a slot is free or ctx is done.
// The returned function releases the slot; extra calls are no-ops.
func (l *renderLimiter) acquire(ctx context.Context) (func(), error) {
	// Prefer a ready context error over a free slot
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.sem }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// size returns the limiter capacity.
func (l *renderLimiter) size() int {
	return cap(l.sem)
}

// inFlight returns the number of held slots.
func (l *renderLimiter) inFlight() int {
	return len(l.sem)
}
