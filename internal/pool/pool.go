// Package pool implements a bounded, reusable worker pool of renderer
// pages: acquire/release with timeouts and retries, an idle reaper, a
// background minimum-resources tick, and graceful draining. The locking
// discipline mirrors a warm-resource pool over short-lived handles — a
// mutex guards the free list, waiter queue, and counters; per-resource
// state is touched only by whichever goroutine currently holds it.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/pagefactory"
	"github.com/onyxcharts/export-service/internal/svcerr"
	"github.com/onyxcharts/export-service/internal/svcmetrics"
)

// entry pairs a free Resource with the time it was released, so the
// reaper can evict it once it has been idle longer than idleTimeout.
type entry struct {
	resource  *pagefactory.Resource
	freeSince time.Time
}

// waiter is a queued acquirer; exactly one of resource/err is ever sent.
type waiter struct {
	result chan waiterResult
}

type waiterResult struct {
	resource *pagefactory.Resource
	err      error
}

// Pool bounds concurrency over renderer pages. The zero value is not
// usable; construct with New.
type Pool struct {
	mu sync.Mutex

	cfg     config.PoolConfig
	factory *pagefactory.Factory
	logger  *slog.Logger
	metrics *svcmetrics.Registry

	free    []entry
	inUse   map[string]*pagefactory.Resource
	waiters []*waiter

	total          int // free + inUse + pendingCreate, i.e. resources that count against maxWorkers
	pendingCreate  int
	pendingDestroy int

	draining bool
	closed   bool

	stopReaper chan struct{}
	stopMin    chan struct{}
	wg         sync.WaitGroup
}

// New constructs a Pool over factory. It does not pre-create any
// resources; the first acquire (or the background minimum-resources
// tick, if configured) does that.
func New(cfg config.PoolConfig, factory *pagefactory.Factory, logger *slog.Logger, metrics *svcmetrics.Registry) *Pool {
	p := &Pool{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		metrics: metrics,
		inUse:   make(map[string]*pagefactory.Resource),
	}
	return p
}

// Start launches the reaper and, if cfg.ResourcesInterval > 0, the
// minimum-resources background tick.
func (p *Pool) Start(ctx context.Context) {
	p.stopReaper = make(chan struct{})
	p.wg.Add(1)
	go p.reapLoop()

	if p.cfg.ResourcesInterval > 0 {
		p.stopMin = make(chan struct{})
		p.wg.Add(1)
		go p.minResourcesLoop()
	}
}

// Acquire hands out a validated Resource, creating or queueing as
// needed, bounded by cfg.AcquireTimeout.
func (p *Pool) Acquire(ctx context.Context) (*pagefactory.Resource, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		p.mu.Lock()
		if p.draining {
			p.mu.Unlock()
			return nil, svcerr.NewPoolError(svcerr.PoolDrained, fmt.Errorf("pool is draining"))
		}

		if n := len(p.free); n > 0 {
			e := p.free[0]
			p.free = p.free[1:]
			p.mu.Unlock()

			if p.factory.Validate(e.resource) {
				p.markInUse(e.resource)
				return e.resource, nil
			}
			p.destroy(e.resource)
			continue
		}

		if p.total < p.cfg.MaxWorkers {
			p.total++
			p.pendingCreate++
			w := &waiter{result: make(chan waiterResult, 1)}
			p.waiters = append(p.waiters, w)
			p.mu.Unlock()

			go p.createAsync(ctx)

			return p.waitFor(ctx, w)
		}

		w := &waiter{result: make(chan waiterResult, 1)}
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		return p.waitFor(ctx, w)
	}
}

// waitFor blocks until w is delivered a result or the context is done.
// A pool that starts draining does not wake a waiter already queued. On
// timeout it removes w from the waiter queue so a later release does not
// find a dead channel.
func (p *Pool) waitFor(ctx context.Context, w *waiter) (*pagefactory.Resource, error) {
	select {
	case res := <-w.result:
		return res.resource, res.err
	case <-ctx.Done():
		p.mu.Lock()
		for i, other := range p.waiters {
			if other == w {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
		return nil, svcerr.NewPoolError(svcerr.PoolAcquireTimeout, ctx.Err())
	}
}

// createAsync attempts to create a new resource, retrying every
// cfg.CreateRetryInterval until ctx is done. The successful (or final
// failing) result is delivered to the oldest queued waiter, exactly as
// a release would deliver a freed resource: the waiter blocks on either
// this create or a subsequent release, whichever comes first.
func (p *Pool) createAsync(ctx context.Context) {
	for {
		createCtx, cancel := context.WithTimeout(ctx, p.cfg.CreateTimeout)
		r, err := p.factory.Create(createCtx)
		cancel()

		if err == nil {
			p.mu.Lock()
			p.pendingCreate--
			p.deliverOrFreeLocked(r)
			p.mu.Unlock()
			return
		}

		p.logger.Warn("pool: create failed, will retry", "error", err)

		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.pendingCreate--
			p.total--
			p.deliverErrorLocked(svcerr.NewPoolError(svcerr.PoolCreateTimeout, ctx.Err()))
			p.mu.Unlock()
			return
		case <-time.After(p.cfg.CreateRetryInterval):
		}
	}
}

// deliverOrFreeLocked hands r to the oldest waiter if one exists, else
// places it on the free list. Callers must hold p.mu.
func (p *Pool) deliverOrFreeLocked(r *pagefactory.Resource) {
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.markInUseLocked(r)
		w.result <- waiterResult{resource: r}
		return
	}
	p.free = append(p.free, entry{resource: r, freeSince: time.Now()})
}

// deliverErrorLocked hands err to the oldest waiter, if one exists.
// Callers must hold p.mu.
func (p *Pool) deliverErrorLocked(err error) {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	w.result <- waiterResult{err: err}
}

func (p *Pool) markInUse(r *pagefactory.Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markInUseLocked(r)
}

func (p *Pool) markInUseLocked(r *pagefactory.Resource) {
	p.inUse[r.ID] = r
}

// Release returns r to the pool: to the oldest waiter directly if one
// is queued, else to the free list for the reaper to eventually collect.
// A resource whose workCount already exceeds workLimit (set by Retire,
// e.g. after RasterizationTimeout) is destroyed instead of freed.
func (p *Pool) Release(r *pagefactory.Resource) {
	p.mu.Lock()
	delete(p.inUse, r.ID)
	needsDestroy := r.WorkCount > p.cfg.WorkLimit
	p.mu.Unlock()

	if needsDestroy {
		p.destroy(r)
		return
	}

	p.mu.Lock()
	p.deliverOrFreeLocked(r)
	p.mu.Unlock()
}

// destroy destroys r and decrements total. It takes p.mu itself, so
// callers must not hold p.mu when calling it.
func (p *Pool) destroy(r *pagefactory.Resource) {
	p.mu.Lock()
	p.total--
	p.pendingDestroy++
	p.mu.Unlock()

	destroyCtx, cancel := context.WithTimeout(context.Background(), p.cfg.DestroyTimeout)
	p.factory.Destroy(destroyCtx, r)
	cancel()

	p.mu.Lock()
	p.pendingDestroy--
	p.mu.Unlock()
}

// Stats returns a point-in-time snapshot of the pool's internal
// counters, for the health route and metrics gauges.
type Stats struct {
	Free           int
	InUse          int
	PendingCreate  int
	PendingDestroy int
	Total          int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Free:           len(p.free),
		InUse:          len(p.inUse),
		PendingCreate:  p.pendingCreate,
		PendingDestroy: p.pendingDestroy,
		Total:          p.total,
	}
}

// Drain stops accepting new acquires, waits (bounded) for in-use
// resources to be released, then destroys every free resource. It does
// not close the engine — callers (lifecycle) do that once Drain returns.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.draining = true
	p.mu.Unlock()

	if p.stopReaper != nil {
		close(p.stopReaper)
	}
	if p.stopMin != nil {
		close(p.stopMin)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
waitForRelease:
	for {
		p.mu.Lock()
		inUse := len(p.inUse)
		p.mu.Unlock()
		if inUse == 0 {
			break
		}
		select {
		case <-ctx.Done():
			p.logger.Warn("pool: drain timed out with resources still in use", "inUse", inUse)
			break waitForRelease
		case <-ticker.C:
		}
	}

	p.mu.Lock()
	toDestroy := p.free
	p.free = nil
	p.mu.Unlock()

	for _, e := range toDestroy {
		p.destroy(e.resource)
	}

	p.wg.Wait()
	return nil
}
