package ccd

import (
	"context"
	"sync"
	"sync/atomic"
)

// generationTracker issues monotonically increasing request generations and
// lets a newer generation cancel the HTTP call owned by an older one
// (spec.md §3 CancellationToken, §4.3.4, §9 "cancel token held on this").
//
// Unlike a bare context.CancelFunc stashed on a struct field, this models
// cancellation as a first-class handle per dispatch: each "cancel-previous"
// generation gets its own context, and only the single most recent one is
// ever live at a time. Dispatches that don't cancel previous ones (prefetch
// sweeps) run on their caller's context and are never cancelled here.
type generationTracker struct {
	mu           sync.Mutex
	next         int64
	cancelByGen  map[int64]context.CancelFunc
	lastApplied  atomic.Int64
}

func newGenerationTracker() *generationTracker {
	return &generationTracker{cancelByGen: make(map[int64]context.CancelFunc)}
}

// begin issues a new generation and, if cancelPrevious is set, cancels the
// context of whichever generation previously held the "current" slot. It
// returns the new generation number and a context derived from parent that
// the dispatcher should use for its own (possibly shared) HTTP call; without
// cancelPrevious that context is parent itself.
func (g *generationTracker) begin(parent context.Context, cancelPrevious bool) (int64, context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.next++
	gen := g.next

	if !cancelPrevious {
		return gen, parent
	}
	for prevGen, cancel := range g.cancelByGen {
		cancel()
		delete(g.cancelByGen, prevGen)
	}

	ctx, cancel := context.WithCancel(parent)
	g.cancelByGen[gen] = cancel
	return gen, ctx
}

// finish releases the bookkeeping for a generation once its dispatch has
// resolved (success, failure, or cancellation) so completed generations
// never leak from cancelByGen.
func (g *generationTracker) finish(gen int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cancel, ok := g.cancelByGen[gen]; ok {
		cancel()
		delete(g.cancelByGen, gen)
	}
}

// applies reports whether a completion tagged with requestGen should be
// applied to visible state: only if no newer generation has already been
// applied (§4.3.4 "completion updates visible state only if requestTimestamp
// >= lastAppliedTimestamp"). Using the generation number in place of a wall
// clock timestamp gives the same ordering guarantee without a clock read.
func (g *generationTracker) applies(gen int64) bool {
	for {
		last := g.lastApplied.Load()
		if gen < last {
			return false
		}
		if g.lastApplied.CompareAndSwap(last, gen) {
			return true
		}
	}
}
