package pool

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxcharts/export-service/internal/assetcache"
	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/pagefactory"
	"github.com/onyxcharts/export-service/internal/renderer/rendererfake"
)

func testPool(t *testing.T, cfg config.PoolConfig) *Pool {
	t.Helper()
	engine := rendererfake.New()
	cache := assetcache.New()
	fullCfg := &config.Config{Pool: cfg}
	factory := pagefactory.New(engine, cache, fullCfg, slog.Default())
	p := New(cfg, factory, slog.Default(), nil)
	p.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Drain(ctx)
	})
	return p
}

func baseCfg() config.PoolConfig {
	return config.PoolConfig{
		MinWorkers:          0,
		MaxWorkers:          2,
		WorkLimit:           5,
		AcquireTimeout:      500 * time.Millisecond,
		CreateTimeout:       200 * time.Millisecond,
		DestroyTimeout:      200 * time.Millisecond,
		IdleTimeout:         50 * time.Millisecond,
		CreateRetryInterval: 20 * time.Millisecond,
		ReaperInterval:      20 * time.Millisecond,
	}
}

func TestAcquireRelease_RoundTrip(t *testing.T) {
	p := testPool(t, baseCfg())

	r, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, r)

	p.Release(r)
	stats := p.Stats()
	assert.Equal(t, 1, stats.Free)
	assert.Equal(t, 0, stats.InUse)
}

func TestAcquire_RespectsMaxWorkers(t *testing.T) {
	cfg := baseCfg()
	cfg.MaxWorkers = 1
	cfg.AcquireTimeout = 100 * time.Millisecond
	p := testPool(t, cfg)

	r1, err := p.Acquire(context.Background())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	assert.Error(t, err, "a second acquire at maxWorkers=1 must time out")

	p.Release(r1)
}

func TestAcquire_FIFOWaiterServedOnRelease(t *testing.T) {
	cfg := baseCfg()
	cfg.MaxWorkers = 1
	cfg.AcquireTimeout = 2 * time.Second
	p := testPool(t, cfg)

	r1, err := p.Acquire(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var acquired *pagefactory.Resource
	go func() {
		defer wg.Done()
		r, err := p.Acquire(context.Background())
		require.NoError(t, err)
		acquired = r
	}()

	time.Sleep(30 * time.Millisecond)
	p.Release(r1)
	wg.Wait()

	assert.Equal(t, r1.ID, acquired.ID, "the freed resource must be handed to the waiting acquirer")
	p.Release(acquired)
}

func TestRelease_DestroysRetiredResource(t *testing.T) {
	p := testPool(t, baseCfg())

	r, err := p.Acquire(context.Background())
	require.NoError(t, err)

	r.Retire(p.cfg.WorkLimit)
	p.Release(r)

	assert.Eventually(t, func() bool {
		return p.Stats().Free == 0
	}, time.Second, 5*time.Millisecond, "a retired resource must be destroyed, not freed")
}

func TestWorkCount_StrictlyIncreasesAcrossAcquires(t *testing.T) {
	p := testPool(t, baseCfg())

	r, err := p.Acquire(context.Background())
	require.NoError(t, err)
	first := r.WorkCount
	p.Release(r)

	r2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Greater(t, r2.WorkCount, first)
}

func TestReaper_DestroysIdleAboveMinWorkers(t *testing.T) {
	cfg := baseCfg()
	cfg.MinWorkers = 0
	cfg.IdleTimeout = 10 * time.Millisecond
	cfg.ReaperInterval = 10 * time.Millisecond
	p := testPool(t, cfg)

	r, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(r)

	assert.Eventually(t, func() bool {
		return p.Stats().Free == 0
	}, time.Second, 5*time.Millisecond, "reaper must evict an idle resource above minWorkers")
}

func TestDrain_WaitsForInUseThenDestroysFree(t *testing.T) {
	cfg := baseCfg()
	p := testPool(t, cfg)

	r, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		p.Release(r)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Drain(ctx))
	<-done

	assert.Equal(t, 0, p.Stats().Free)
}
