// Package workpool implements the yielding thread pool: a fixed
// worker count that temporarily grows when a task stalls waiting on
// something else the pool is running, so one blocked task cannot starve
// the others. Grounded on
// original_source/Utility/Threading/CompletionThreadPool.cpp.
package workpool

import (
	"sync"
	"sync/atomic"
)

type taskRef struct {
	pageIdx, slotIdx int
}

// Pool is a fixed-size (but elastically, temporarily, growable) worker
// pool. Tasks are stored in fixed-capacity pages suballocated through
// an alloc.SpanHeap (page.go) rather than appended to an unbounded
// slice, mirroring the original's Page/_heap task storage.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	pages []*page
	queue []taskRef

	quit bool
	wg   sync.WaitGroup

	requested    int
	totalCount   atomic.Int32
	frozenCount  atomic.Int32
	replacements atomic.Int32 // extra workers spun up by Yield, retired when no longer needed
}

// New starts a pool with workerCount permanent worker goroutines.
func New(workerCount int) *Pool {
	p := &Pool{requested: workerCount}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workerCount; i++ {
		p.spawnWorker(false)
	}
	return p
}

// IsGood reports whether the pool has at least one live worker.
func (p *Pool) IsGood() bool { return p.totalCount.Load() > 0 }

// WorkerCount reports the current total live worker count, including
// any temporary replacements spun up by Yield.
func (p *Pool) WorkerCount() int { return int(p.totalCount.Load()) }

// FrozenCount reports how many workers are currently blocked inside a
// YieldToken.Yield call.
func (p *Pool) FrozenCount() int { return int(p.frozenCount.Load()) }

// Enqueue submits fn to run on a pool worker.
func (p *Pool) Enqueue(fn Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pageIdx, slotIdx, ok := p.findSlotLocked()
	if !ok {
		p.pages = append(p.pages, newPage())
		pageIdx = len(p.pages) - 1
		slotIdx, ok = p.pages[pageIdx].allocSlot()
		if !ok {
			panic("workpool: freshly allocated page has no free slot")
		}
	}
	p.pages[pageIdx].slots[slotIdx] = fn
	p.queue = append(p.queue, taskRef{pageIdx, slotIdx})
	p.cond.Signal()
}

func (p *Pool) findSlotLocked() (int, int, bool) {
	for i, pg := range p.pages {
		if idx, ok := pg.allocSlot(); ok {
			return i, idx, true
		}
	}
	return 0, 0, false
}

// Stop signals every worker to exit once its current task (if any)
// completes and the queue drains, then waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.quit = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) spawnWorker(replacement bool) {
	p.totalCount.Add(1)
	if replacement {
		p.replacements.Add(1)
	}
	p.wg.Add(1)
	go p.runWorker(replacement)
}

func (p *Pool) runWorker(replacement bool) {
	defer p.wg.Done()
	defer p.totalCount.Add(-1)
	tok := &YieldToken{pool: p}

	for {
		p.mu.Lock()
		// A replacement worker retires as soon as the backlog it was
		// spun up to cover drains, rather than waiting for more work —
		// it exists only to cover a stalled permanent worker's slot.
		if replacement && len(p.queue) == 0 {
			p.mu.Unlock()
			p.replacements.Add(-1)
			return
		}
		for len(p.queue) == 0 && !p.quit {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.quit {
			p.mu.Unlock()
			return
		}
		ref := p.queue[0]
		p.queue = p.queue[1:]
		fn := p.pages[ref.pageIdx].slots[ref.slotIdx]
		p.mu.Unlock()

		fn(tok)

		p.mu.Lock()
		p.pages[ref.pageIdx].freeSlot(ref.slotIdx)
		p.mu.Unlock()
	}
}

// yieldWith runs wait on the caller's goroutine (necessarily — Go
// cannot suspend and resume a goroutine's stack from outside it), but
// spins up one bounded replacement worker for the duration so pending
// tasks keep draining instead of stalling behind this one, matching
// the original's frozen/non-frozen worker-count bookkeeping.
func (p *Pool) yieldWith(wait func()) {
	p.frozenCount.Add(1)
	p.spawnWorker(true)
	defer p.frozenCount.Add(-1)
	wait()
}
