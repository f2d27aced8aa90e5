package pagefactory

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxcharts/export-service/internal/assetcache"
	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/renderer/rendererfake"
)

func testFactory(t *testing.T) (*Factory, *rendererfake.Engine) {
	t.Helper()
	engine := rendererfake.New()
	cache := assetcache.New()
	cfg := &config.Config{}
	cfg.Pool.WorkLimit = 10
	logger := slog.Default()
	return New(engine, cache, cfg, logger), engine
}

func TestCreate_InitialWorkCountWithinBounds(t *testing.T) {
	f, _ := testFactory(t)
	for i := 0; i < 20; i++ {
		r, err := f.Create(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.WorkCount, 0)
		assert.LessOrEqual(t, r.WorkCount, f.cfg.Pool.WorkLimit/2)
	}
}

func TestValidate_FailsOverWorkLimit(t *testing.T) {
	f, _ := testFactory(t)
	r, err := f.Create(context.Background())
	require.NoError(t, err)
	r.WorkCount = f.cfg.Pool.WorkLimit

	assert.False(t, f.Validate(r), "validate must fail once workCount exceeds workLimit")
}

func TestValidate_IncrementsWorkCount(t *testing.T) {
	f, _ := testFactory(t)
	r, err := f.Create(context.Background())
	require.NoError(t, err)
	before := r.WorkCount
	f.Validate(r)
	assert.Equal(t, before+1, r.WorkCount)
}

func TestValidate_FailsWhenPageClosed(t *testing.T) {
	f, _ := testFactory(t)
	r, err := f.Create(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.Page.Close(context.Background()))

	assert.False(t, f.Validate(r))
}

func TestReset_SoftClearsContainer(t *testing.T) {
	f, _ := testFactory(t)
	r, err := f.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.Reset(context.Background(), r, false))
	fake := r.Page.(*rendererfake.Page)
	assert.Contains(t, fake.Evaluated(), `document.getElementById('container').innerHTML = "";`)
}

func TestReset_HardReinstallsTemplate(t *testing.T) {
	f, _ := testFactory(t)
	r, err := f.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.Reset(context.Background(), r, true))
	fake := r.Page.(*rendererfake.Page)
	assert.Contains(t, fake.Content(), "container")
}

func TestRetire_ForcesNextValidationToFail(t *testing.T) {
	f, _ := testFactory(t)
	r, err := f.Create(context.Background())
	require.NoError(t, err)

	r.Retire(f.cfg.Pool.WorkLimit)
	assert.False(t, f.Validate(r))
}
