package rendererfake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_NewPageAndClose(t *testing.T) {
	e := New()
	p, err := e.NewPage(context.Background())
	require.NoError(t, err)
	assert.False(t, p.IsClosed())

	require.NoError(t, e.Close(context.Background()))
	assert.True(t, e.Closed())
	assert.True(t, p.IsClosed())
}

func TestEngine_PageErrPropagates(t *testing.T) {
	e := New()
	e.PageErr = assert.AnError
	_, err := e.NewPage(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPage_AddScriptThenDispose(t *testing.T) {
	e := New()
	rp, err := e.NewPage(context.Background())
	require.NoError(t, err)
	p := rp.(*Page)

	handle, err := p.AddScript(context.Background(), "", "window.x = 1;")
	require.NoError(t, err)
	require.NoError(t, handle.Dispose(context.Background(), p))

	assert.Len(t, p.Disposed(), 1)
}

func TestPage_EvaluateReturnsConfiguredResult(t *testing.T) {
	e := New()
	rp, err := e.NewPage(context.Background())
	require.NoError(t, err)
	p := rp.(*Page)
	p.EvalResults = map[string]interface{}{"chart.chartWidth": float64(640)}

	var width float64
	require.NoError(t, p.Evaluate(context.Background(), "chart.chartWidth", &width))
	assert.Equal(t, 640.0, width)
}

func TestPage_DetachMarksMainFrameDetached(t *testing.T) {
	e := New()
	rp, err := e.NewPage(context.Background())
	require.NoError(t, err)
	p := rp.(*Page)

	assert.False(t, p.MainFrameDetached())
	p.Detach()
	assert.True(t, p.MainFrameDetached())
}
