package pool

import (
	"context"
	"time"
)

// minResourcesLoop ensures free+inUse+pendingCreate stays at least
// cfg.MinWorkers, ticking every cfg.ResourcesInterval. Only runs when
// ResourcesInterval is positive.
func (p *Pool) minResourcesLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ResourcesInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopMin:
			return
		case <-ticker.C:
			p.topUpToMinimum()
		}
	}
}

func (p *Pool) topUpToMinimum() {
	p.mu.Lock()
	deficit := p.cfg.MinWorkers - p.total
	if p.draining || deficit <= 0 {
		p.mu.Unlock()
		return
	}
	p.total += deficit
	p.pendingCreate += deficit
	p.mu.Unlock()

	for i := 0; i < deficit; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CreateTimeout)
			defer cancel()
			r, err := p.factory.Create(ctx)

			p.mu.Lock()
			p.pendingCreate--
			if err != nil {
				p.total--
				p.logger.Warn("pool: background minimum-resources create failed", "error", err)
				p.mu.Unlock()
				return
			}
			p.deliverOrFreeLocked(r)
			p.mu.Unlock()
		}()
	}
}
