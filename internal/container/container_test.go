package container

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"patchcert/adapters/bounds"
	"patchcert/domain/core"
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
	"patchcert/internal"
	"patchcert/internal/batch"
	"patchcert/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *internal.Logger {
	return internal.NewLoggerTo(&bytes.Buffer{}, internal.LogLevelError)
}

func TestNew_WiresDefense(t *testing.T) {
	cfg := config.Default()
	cfg.Defense.Model = verdict.ModelClipping
	cfg.Defense.ClipBound = 2
	cfg.Defense.WindowHeight, cfg.Defense.WindowWidth = 2, 3

	c, err := New(cfg, quiet())
	require.NoError(t, err)
	assert.Equal(t, verdict.ModelClipping, c.Service.Model())
	assert.Equal(t, grid.WindowShape{Height: 2, Width: 3}, c.Service.Window())
	assert.NotNil(t, c.Metrics)
	assert.Nil(t, c.Store)
	assert.NoError(t, c.SaveRun(context.Background(), &batch.Run{}))
	assert.NoError(t, c.Shutdown(context.Background()))
}

func TestNew_RejectsBadDefense(t *testing.T) {
	cfg := config.Default()
	cfg.Defense.Model = verdict.ModelClipping // no clip bound
	_, err := New(cfg, quiet())
	assert.True(t, core.IsConfigError(err))

	_, err = New(nil, quiet())
	assert.Error(t, err)
}

func TestNew_BoundStrategy(t *testing.T) {
	cfg := config.Default()
	cfg.Defense.WindowHeight, cfg.Defense.WindowWidth = 1, 1
	cfg.Defense.Strategy = "naive"

	c, err := New(cfg, quiet())
	require.NoError(t, err)
	assert.Equal(t, bounds.StrategyNaive, c.Params.Strategy)

	evidence, err := grid.FromCells([][][]float64{{{1, 0}, {1, 0}, {0, 1}}})
	require.NoError(t, err)
	outcome, err := c.Service.Certify(evidence, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, outcome.Verdict.Bounds.Lower)
	assert.Equal(t, []float64{3, 2}, outcome.Verdict.Bounds.Upper)

	cfg.Defense.Strategy = "fft"
	_, err = New(cfg, quiet())
	assert.True(t, core.IsConfigError(err))
}

func TestInitStore_SaveRun(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "runs.db")
	c, err := New(cfg, quiet())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.InitStore(ctx))
	defer c.Shutdown(ctx)

	run := &batch.Run{ID: core.NewRunID(), Model: verdict.ModelMasking, Window: c.Window}
	run.Summary = batch.Summarize(nil, 0, 0)
	require.NoError(t, c.SaveRun(ctx, run))

	stored, err := c.Store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Window.Height, stored.WindowH)
}
